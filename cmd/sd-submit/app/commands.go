// Package app provides the sd-submit command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/CSCfi/sd-submit/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "sd-submit",
	DisableAutoGenTag: true,
	Short:             "SD Submit is the metadata submission backend for CSC's data repositories",
	Long: `SD Submit collects research metadata and data file references into
submissions and publishes them: it mints DOIs, registers datasets in the
Metax catalogue, sets up REMS access applications and hands FEGA
submissions over to the federated archive.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	return rootCmd
}
