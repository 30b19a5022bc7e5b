package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kizashix/devstack/pkg/portprobe"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ports"},
	Short:   "Show what is listening on the configured ports",
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	prober := portprobe.New()

	uiInstance.Header("Port status")

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
			uiInstance.KeyValue(fmt.Sprintf("%s :%d", target.name, target.port), "unknown")
			continue
		}

		if !status.InUse {
			uiInstance.KeyValue(fmt.Sprintf("%s :%d", target.name, target.port), "free")
			continue
		}

		detail := "in use"
		if status.OwnerPID > 0 {
			detail = fmt.Sprintf("in use by pid %d", status.OwnerPID)
		}
		uiInstance.KeyValue(fmt.Sprintf("%s :%d", target.name, target.port), detail)
	}

	return nil
}
