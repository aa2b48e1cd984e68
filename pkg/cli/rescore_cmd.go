package cli

import (
	"github.com/spf13/cobra"
)

func newRescoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore <name>",
		Short: "Run a named rescore from the rescore registry",
		Long: `Swaps a canonical view's logic for its provisional replacement: the old
definition is archived under a timestamped name, the replacement is promoted
to the canonical name, every dependent is repointed and provenance rows are
recorded. A failed run is resumed by re-running the same command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.buildApp(true)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.Rescore(cmd.Context(), args[0])
		},
	}
}
