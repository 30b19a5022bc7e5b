package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kizashix/devstack/pkg/portprobe"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop whatever is running on the configured ports",
	Long: `Probe the configured backend and frontend ports and terminate the owning
processes. Ports that are already free are skipped; the command is
idempotent.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	prober := portprobe.New()

	targets := []struct {
		name string
		port int
	}{
		{"backend", cfg.Backend.Port},
		{"frontend", cfg.Frontend.Port},
	}

	for _, target := range targets {
		status, err := prober.Probe(target.port)
		if err != nil {
			uiInstance.Warning(fmt.Sprintf("%s: port %d state unknown: %v", target.name, target.port, err))
			continue
		}

		if !status.InUse {
			uiInstance.Info(fmt.Sprintf("%s: port %d already free", target.name, target.port))
			continue
		}

		if status.OwnerPID <= 0 {
			uiInstance.Warning(fmt.Sprintf("%s: port %d in use but owner could not be identified", target.name, target.port))
			continue
		}

		if err := prober.Terminate(status.OwnerPID); err != nil {
			uiInstance.Error(fmt.Sprintf("%s: could not terminate pid %d: %v", target.name, status.OwnerPID, err))
			continue
		}
		uiInstance.Success(fmt.Sprintf("%s: terminated pid %d on port %d", target.name, status.OwnerPID, target.port))
	}

	return nil
}
