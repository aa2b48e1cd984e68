package cli

import (
	"github.com/spf13/cobra"

	"schemaplan/internal/app"
)

func newDeployCmd(opts *rootOptions) *cobra.Command {
	var (
		stage       string
		noWrite     bool
		recreate    bool
		deleteExtra bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Render the schema tree and apply it to the warehouse",
		Long: `Renders every object, resolves references, orders the result topologically
and applies create-or-replace operations. With --no-write the plan is printed
and nothing is mutated; every validation error still surfaces.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := opts.buildApp(true)
			if err != nil {
				return err
			}
			defer cleanup()
			a.Config.StageSuffix = stageSuffix(stage)
			return a.Deploy(cmd.Context(), app.DeployOptions{
				Stage:       stage != "",
				NoWrite:     noWrite,
				Recreate:    recreate,
				DeleteExtra: deleteExtra,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Deploy to a staging copy with this dataset suffix")
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "Print the plan without mutating the warehouse")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Ignore the recorded tree hash and plan everything")
	cmd.Flags().BoolVar(&deleteExtra, "delete-extra", false, "Drop remote objects with no source definition")
	return cmd
}
