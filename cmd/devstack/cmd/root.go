// Package cmd provides the CLI commands for devstack
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kizashix/devstack/internal/config"
	"github.com/kizashix/devstack/internal/ui"
)

var (
	cfg        *config.Config
	uiInstance *ui.UI
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "devstack",
	Short: "devstack - Start, stop, and check the local dev stack",
	Long: `devstack orchestrates the local development stack: it frees the required
ports, launches the backend, waits for it to become healthy, then launches
the frontend and waits for it too.

A failed or stopped service aborts the run; dependent services are never
started after a failure.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		uiInstance = ui.New()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = "0.1.0"
}
