package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kizashix/devstack/pkg/orchestrator"
)

var (
	upBackendPort    int
	upFrontendPort   int
	upBackendOnly    bool
	upFrontendOnly   bool
	upSkipChecks     bool
	upConflictPolicy string
	upManifestPath   string
	upPrintMetrics   bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the dev stack and wait for it to become healthy",
	Long: `Start every configured service in dependency order. Each service's port is
probed first; occupied ports are handled per the conflict policy (auto,
prompt, or fail). A service with a health check must answer before the next
service is launched.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().IntVar(&upBackendPort, "backend-port", 0, "override the backend port")
	upCmd.Flags().IntVar(&upFrontendPort, "frontend-port", 0, "override the frontend port")
	upCmd.Flags().BoolVar(&upBackendOnly, "backend-only", false, "start only the backend")
	upCmd.Flags().BoolVar(&upFrontendOnly, "frontend-only", false, "start only the frontend")
	upCmd.Flags().BoolVar(&upSkipChecks, "skip-checks", false, "skip port availability checks")
	upCmd.Flags().StringVar(&upConflictPolicy, "conflict-policy", "", "port conflict policy: auto, prompt, or fail")
	upCmd.Flags().StringVar(&upManifestPath, "manifest", "", "service manifest file (overrides backend/frontend config)")
	upCmd.Flags().BoolVar(&upPrintMetrics, "print-metrics", false, "print orchestration metrics on exit")

	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	if upBackendOnly && upFrontendOnly {
		return fmt.Errorf("--backend-only and --frontend-only are mutually exclusive")
	}

	if upBackendPort > 0 {
		cfg.Backend.Port = upBackendPort
	}
	if upFrontendPort > 0 {
		cfg.Frontend.Port = upFrontendPort
	}

	manifest, err := buildManifest()
	if err != nil {
		uiInstance.Error(err.Error())
		return err
	}

	switch {
	case upBackendOnly:
		manifest = manifest.Select("backend")
	case upFrontendOnly:
		manifest = manifest.Select("frontend")
	}
	if len(manifest.Services) == 0 {
		return fmt.Errorf("no services selected")
	}

	policyName := cfg.ConflictPolicy
	if upConflictPolicy != "" {
		policyName = upConflictPolicy
	}
	policy, err := orchestrator.ParseConflictPolicy(policyName)
	if err != nil {
		return err
	}

	metrics := orchestrator.NewPrometheusMetricsCollector("devstack")

	o := orchestrator.New(manifest,
		orchestrator.WithConflictPolicy(policy),
		orchestrator.WithSkipChecks(upSkipChecks || cfg.SkipChecks),
		orchestrator.WithConfirm(uiInstance.Confirm),
		orchestrator.WithEventSink(orchestrator.LogEventSink{}),
		orchestrator.WithMetricsCollector(metrics),
	)

	// Interrupting the run must tear down whatever was already launched.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := o.Run(ctx)

	renderReport(report)

	if upPrintMetrics {
		if err := metrics.WriteTextExposition(os.Stderr); err != nil {
			uiInstance.Warning(fmt.Sprintf("could not print metrics: %v", err))
		}
	}

	if runErr != nil {
		uiInstance.Error(runErr.Error())
		return runErr
	}

	uiInstance.Success("All services healthy")
	return nil
}

func buildManifest() (*orchestrator.Manifest, error) {
	path := cfg.Manifest
	if upManifestPath != "" {
		path = upManifestPath
	}
	if path != "" {
		return orchestrator.LoadManifest(path)
	}
	return cfg.ToManifest()
}

func renderReport(report *orchestrator.Report) {
	uiInstance.Header("Services")

	for _, res := range report.Results {
		state := res.State.String()
		if res.PID > 0 {
			state += fmt.Sprintf(" (pid %d)", res.PID)
		}
		uiInstance.KeyValue(res.Spec.Name, state)

		if res.AccessURL != "" {
			uiInstance.KeyValue(res.Spec.Name+" url", res.AccessURL)
		}
	}

	if report.Cancelled {
		uiInstance.Warning("Run cancelled; launched services were terminated")
	}
}
