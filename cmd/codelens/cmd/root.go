// Package cmd provides the CLI commands for codelens.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/logging"
	"github.com/codelens/codelens/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codelens CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codelens",
		Short: "Incremental code indexing and hybrid retrieval",
		Long: `codelens indexes a source repository into a local store and answers
natural-language and code queries with ranked code fragments.

It combines full-text (BM25), vector and recency search with
reciprocal-rank fusion, entirely on your machine.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("codelens version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codelens/logs/")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	_, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging must never block CLI use.
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
