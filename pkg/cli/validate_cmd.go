package cli

import (
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the schema tree without touching the warehouse",
		Long: `Loads metric configuration, lints and renders every template, resolves all
references and checks the dependency graph for cycles. Requires no warehouse
access or credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := opts.buildApp(false)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.Validate(cmd.Context())
		},
	}
}
