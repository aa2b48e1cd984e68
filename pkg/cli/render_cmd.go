package cli

import (
	"github.com/spf13/cobra"
)

func newRenderCmd(opts *rootOptions) *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print every rendered definition in deployment order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := opts.buildApp(false)
			if err != nil {
				return err
			}
			defer cleanup()
			a.Config.StageSuffix = stageSuffix(stage)
			return a.Render(cmd.Context(), stage != "", cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Render for a staging copy with this dataset suffix")
	return cmd
}
