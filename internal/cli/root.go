// Package cli is the cobra command tree for the fhirjob process: a
// config-loading root command with serve, run-once, and status
// subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riverlane/fhirjob/internal/config"
)

var configPath string

// loadedConfig is populated by the root command's PersistentPreRunE and
// read by every subcommand's RunE.
var loadedConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "fhirjob",
	Short: "fhirjob schedules periodic FHIR resource extraction jobs",
	Long: `fhirjob is the scheduler that periodically extracts FHIR resources
into rotating output parts, one window at a time.

It tracks exactly one active extraction window (a Job) per deployment,
advancing a durable watermark only once that window's resource types
have all been fully drained and its output committed.

Examples:
  fhirjob serve --config fhirjob.yaml        # run the periodic trigger loop
  fhirjob run-once --config fhirjob.yaml     # trigger exactly once and exit
  fhirjob status --config fhirjob.yaml       # print scheduler and job state`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			fmt.Fprintf(os.Stderr, "Use --config to point at a valid fhirjob configuration file.\n")
			return err
		}
		loadedConfig = cfg
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fhirjob.yaml",
		"Path to the fhirjob configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunOnceCmd())
	rootCmd.AddCommand(newStatusCmd())
}
