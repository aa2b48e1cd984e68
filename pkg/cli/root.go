// Package cli implements the schemaplan command line interface.
package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"

	"schemaplan/internal/app"
	"schemaplan/internal/config"
	"schemaplan/internal/ddl"
	"schemaplan/internal/warehouse"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand. Empty
// values fall back to the environment, then to .env, then to defaults.
type rootOptions struct {
	project    string
	schemaPath string
	database   string
	dataset    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "schemaplan",
		Short:         "Schema reference graph and deployment planner",
		Long:          "Renders a templated schema source tree, resolves cross-object references\ninto a dependency graph and deploys the result in topological order.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.project, "project", "", "Target warehouse project (catalog)")
	rootCmd.PersistentFlags().StringVar(&opts.schemaPath, "schema-path", "", "Root of the schema source tree")
	rootCmd.PersistentFlags().StringVar(&opts.database, "database", "", "DuckDB database file (default: in-memory)")
	rootCmd.PersistentFlags().StringVar(&opts.dataset, "dataset", "", "Default dataset for rescore name resolution")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newDeployCmd(opts),
		newValidateCmd(opts),
		newRenderCmd(opts),
		newRescoreCmd(opts),
	)
	return rootCmd
}

// loadConfig resolves configuration with flag > env > .env > default
// precedence and builds the logger.
func (o *rootOptions) loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if o.project != "" {
		cfg.Project = o.project
	}
	if o.schemaPath != "" {
		cfg.SchemaPath = o.schemaPath
	}
	if o.database != "" {
		cfg.DatabasePath = o.database
	}
	if o.dataset != "" {
		cfg.Dataset = o.dataset
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

// buildApp assembles the application, opening a warehouse connection when
// the command needs one. The returned cleanup is safe to call always.
func (o *rootOptions) buildApp(needWarehouse bool) (*app.App, func(), error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, func() {}, err
	}

	a := &app.App{Config: cfg, Logger: logger}
	if !needWarehouse {
		return a, func() {}, nil
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, func() {}, fmt.Errorf("open duckdb: %w", err)
	}
	path := cfg.DatabasePath
	if path == "" {
		path = ":memory:"
	}
	attach := fmt.Sprintf("ATTACH %s AS %s", ddl.QuoteLiteral(path), ddl.QuoteIdentifier(cfg.Project))
	if _, err := db.Exec(attach); err != nil {
		db.Close() //nolint:errcheck
		return nil, func() {}, fmt.Errorf("attach %s: %w", path, err)
	}

	a.Client = warehouse.NewDuckDB(db, cfg.Project, logger)
	return a, func() { db.Close() }, nil //nolint:errcheck
}

// stageSuffix converts a --stage name into the dataset suffix to append.
func stageSuffix(name string) string {
	if name == "" {
		return ""
	}
	return "_" + name
}
