// Package orchestrator drives the start/health-check workflow for a set of
// dependent local dev services: free required ports, launch each service in
// order, and wait for it to become healthy before starting the next.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kizashix/devstack/pkg/health"
	"github.com/kizashix/devstack/pkg/launch"
	"github.com/kizashix/devstack/pkg/portprobe"
)

// ConflictPolicy decides what happens when a required port is already bound.
type ConflictPolicy string

const (
	// ConflictAuto terminates the owning process without asking
	ConflictAuto ConflictPolicy = "auto"
	// ConflictPrompt asks the operator before terminating
	ConflictPrompt ConflictPolicy = "prompt"
	// ConflictFail aborts the run
	ConflictFail ConflictPolicy = "fail"
)

// ParseConflictPolicy validates a policy string.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case ConflictAuto, ConflictPrompt, ConflictFail:
		return ConflictPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid conflict policy %q (want auto, prompt, or fail)", s)
	}
}

// Prober probes localhost ports and terminates their owners.
type Prober interface {
	Probe(port int) (portprobe.PortStatus, error)
	Terminate(pid int) error
}

// Launcher starts and stops detached service processes.
type Launcher interface {
	Launch(spec launch.ServiceSpec) (*launch.Handle, error)
	Stop(h *launch.Handle) error
}

// Poller polls a health endpoint until healthy or out of attempts.
type Poller interface {
	PollUntilHealthy(ctx context.Context, url string) error
}

// PollerFactory builds a poller from a service's health configuration.
type PollerFactory func(hc HealthCheckConfig) Poller

// ConfirmFunc asks the operator a yes/no question. Used by ConflictPrompt.
type ConfirmFunc func(question string) bool

// ServiceResult is the terminal outcome for one service.
type ServiceResult struct {
	Spec      launch.ServiceSpec
	State     launch.State
	PID       int
	AccessURL string
	Err       error
}

// Report is the final outcome of an orchestration run.
type Report struct {
	Results   []ServiceResult
	Cancelled bool
}

// OK reports whether every attempted service reached Healthy.
func (r *Report) OK() bool {
	if r.Cancelled {
		return false
	}
	for _, res := range r.Results {
		if res.State != launch.StateHealthy {
			return false
		}
	}
	return true
}

// Orchestrator runs a set of service specs to a terminal state.
type Orchestrator struct {
	manifest *Manifest

	prober     Prober
	launcher   Launcher
	newPoller  PollerFactory
	policy     ConflictPolicy
	skipChecks bool
	confirm    ConfirmFunc

	events  EventSink
	metrics MetricsCollector

	// settleDelay is how long to wait after freeing a port before
	// re-probing it.
	settleDelay time.Duration
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithProber overrides the port prober.
func WithProber(p Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithLauncher overrides the process launcher.
func WithLauncher(l Launcher) Option {
	return func(o *Orchestrator) { o.launcher = l }
}

// WithPollerFactory overrides how health pollers are built.
func WithPollerFactory(f PollerFactory) Option {
	return func(o *Orchestrator) { o.newPoller = f }
}

// WithConflictPolicy sets the port conflict policy.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSkipChecks disables port probing before launch.
func WithSkipChecks(skip bool) Option {
	return func(o *Orchestrator) { o.skipChecks = skip }
}

// WithConfirm sets the operator prompt used by ConflictPrompt.
func WithConfirm(f ConfirmFunc) Option {
	return func(o *Orchestrator) { o.confirm = f }
}

// WithEventSink sets the lifecycle event sink.
func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) { o.events = s }
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = mc }
}

// New creates an Orchestrator for the manifest's services.
func New(manifest *Manifest, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		manifest:    manifest,
		prober:      portprobe.New(),
		launcher:    launch.New(),
		policy:      ConflictPrompt,
		events:      NoopEventSink{},
		metrics:     NewNoopMetricsCollector(),
		settleDelay: 500 * time.Millisecond,
	}
	o.newPoller = func(hc HealthCheckConfig) Poller {
		p := health.New(hc.Interval, hc.MaxAttempts, hc.ExpectStatuses...)
		p.RequestTimeout = hc.Timeout
		return p
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives every service to a terminal state in declared order. A service
// that ends anywhere other than Healthy aborts the run: later services are
// never attempted. Cancelling ctx terminates every already-launched service
// before Run returns.
//
// The returned error describes the first fatal condition; the Report always
// covers all services.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	specs := o.manifest.Specs()
	report := &Report{Results: make([]ServiceResult, 0, len(specs))}

	var launched []*launch.Handle
	var runErr error

	for i, spec := range specs {
		if ctx.Err() != nil {
			runErr = ErrCancelled(ctx.Err())
			report.Cancelled = true
			o.markRemaining(report, specs[i:])
			break
		}

		result, handle := o.runService(ctx, spec)
		if handle != nil {
			launched = append(launched, handle)
		}
		report.Results = append(report.Results, result)

		if result.State != launch.StateHealthy {
			if ctx.Err() != nil {
				report.Cancelled = true
				runErr = ErrCancelled(ctx.Err())
			} else {
				runErr = result.Err
			}
			o.markRemaining(report, specs[i+1:])
			break
		}
	}

	if report.Cancelled {
		o.terminateAll(launched)
	}

	return report, runErr
}

// runService takes one service from Idle to a terminal state. The returned
// handle is non-nil whenever a process was actually started, healthy or not.
func (o *Orchestrator) runService(ctx context.Context, spec launch.ServiceSpec) (ServiceResult, *launch.Handle) {
	result := ServiceResult{Spec: spec, State: launch.StateIdle}

	if !o.skipChecks {
		if stopped, err := o.ensurePortFree(ctx, spec); stopped {
			o.transition(&result, launch.StateStopped)
			result.Err = err
			o.events.ReportLifecycleEvent(ctx, "stopped", spec.Name, err.Error())
			return result, nil
		}
	}

	o.events.ReportLifecycleEvent(ctx, "starting", spec.Name, fmt.Sprintf("launching %s", spec.Command))

	launchStart := time.Now()
	handle, err := o.launcher.Launch(spec)
	o.metrics.LaunchDuration(spec.Name, time.Since(launchStart), err == nil)
	if err != nil {
		o.transition(&result, launch.StateFailed)
		result.Err = ErrLaunchFailed(spec.Name, err)
		o.events.ReportLifecycleEvent(ctx, "failed", spec.Name, err.Error())
		return result, nil
	}

	o.transition(&result, launch.StateStarting)
	result.PID = handle.PID

	if spec.HealthURL == "" {
		// No endpoint to check: optimistically healthy once launched.
		handle.State = launch.StateHealthy
		o.transition(&result, launch.StateHealthy)
		result.AccessURL = fmt.Sprintf("http://localhost:%d", spec.Port)
		o.events.ReportLifecycleEvent(ctx, "healthy", spec.Name, "no health check configured")
		return result, handle
	}

	hc, _ := o.manifest.HealthCheckFor(spec.Name)
	poller := o.newPoller(hc)

	pollStart := time.Now()
	err = poller.PollUntilHealthy(ctx, spec.HealthURL)
	o.metrics.HealthPollOutcome(spec.Name, hc.MaxAttempts, time.Since(pollStart), err == nil)

	if err != nil {
		handle.State = launch.StateFailed
		o.transition(&result, launch.StateFailed)
		result.Err = ErrHealthCheckTimeout(spec.Name, spec.HealthURL, err)
		o.events.ReportLifecycleEvent(ctx, "unhealthy", spec.Name, err.Error())

		// The process is up but broken; tear it down rather than leave
		// it squatting on the port.
		o.stopHandle(handle)
		return result, handle
	}

	handle.State = launch.StateHealthy
	o.transition(&result, launch.StateHealthy)
	result.AccessURL = fmt.Sprintf("http://localhost:%d", spec.Port)
	o.events.ReportLifecycleEvent(ctx, "healthy", spec.Name, fmt.Sprintf("listening on port %d", spec.Port))

	return result, handle
}

// ensurePortFree probes the spec's port and applies the conflict policy.
// Returns stopped=true when the service must transition to Stopped.
func (o *Orchestrator) ensurePortFree(ctx context.Context, spec launch.ServiceSpec) (bool, *Error) {
	status, err := o.prober.Probe(spec.Port)
	if err != nil {
		// Port state unknown. Conservative but not fatal: warn and let
		// the launch attempt surface any real conflict.
		log.Printf("Port %d state unknown, proceeding with launch: %v", spec.Port, err)
		return false, nil
	}

	if !status.InUse {
		return false, nil
	}

	log.Printf("Port %d required by %s is in use (owner pid %d), policy=%s",
		spec.Port, spec.Name, status.OwnerPID, o.policy)

	switch o.policy {
	case ConflictFail:
		o.metrics.PortConflict(spec.Name, spec.Port, "failed")
		return true, ErrPortConflict(spec.Name, spec.Port, status.OwnerPID)

	case ConflictPrompt:
		question := fmt.Sprintf("Port %d is in use", spec.Port)
		if status.OwnerPID > 0 {
			question = fmt.Sprintf("Port %d is in use by PID %d", spec.Port, status.OwnerPID)
		}
		if o.confirm == nil || !o.confirm(question+". Terminate the owning process?") {
			o.metrics.PortConflict(spec.Name, spec.Port, "declined")
			return true, ErrPortConflict(spec.Name, spec.Port, status.OwnerPID).
				WithContext("policy", string(ConflictPrompt))
		}
		fallthrough

	case ConflictAuto:
		if status.OwnerPID <= 0 {
			o.metrics.PortConflict(spec.Name, spec.Port, "failed")
			return true, ErrPortConflict(spec.Name, spec.Port, 0).
				WithContext("detail", "owning process could not be identified")
		}

		if err := o.prober.Terminate(status.OwnerPID); err != nil {
			o.metrics.PortConflict(spec.Name, spec.Port, "failed")
			return true, ErrPortConflict(spec.Name, spec.Port, status.OwnerPID).WithCause(err)
		}

		// The socket takes a moment to be released after the kill.
		select {
		case <-ctx.Done():
			return true, ErrCancelled(ctx.Err())
		case <-time.After(o.settleDelay):
		}

		recheck, err := o.prober.Probe(spec.Port)
		if err == nil && recheck.InUse {
			o.metrics.PortConflict(spec.Name, spec.Port, "failed")
			return true, ErrPortConflict(spec.Name, spec.Port, recheck.OwnerPID).
				WithContext("detail", "port still in use after terminating owner")
		}

		o.metrics.PortConflict(spec.Name, spec.Port, "freed")
		log.Printf("Port %d freed for %s", spec.Port, spec.Name)
		return false, nil
	}

	return false, nil
}

// markRemaining records never-attempted services as Idle so the report
// covers every declared service.
func (o *Orchestrator) markRemaining(report *Report, specs []launch.ServiceSpec) {
	for _, spec := range specs {
		report.Results = append(report.Results, ServiceResult{Spec: spec, State: launch.StateIdle})
	}
}

// terminateAll tears down launched services on cancellation. Best effort and
// idempotent: a service that already exited is fine.
func (o *Orchestrator) terminateAll(handles []*launch.Handle) {
	for _, h := range handles {
		o.stopHandle(h)
		o.events.ReportLifecycleEvent(context.Background(), "terminated", h.Spec.Name,
			fmt.Sprintf("pid %d terminated", h.PID))
	}
}

func (o *Orchestrator) stopHandle(h *launch.Handle) {
	stopStart := time.Now()
	if err := o.launcher.Stop(h); err != nil {
		log.Printf("Error stopping %s (pid %d): %v", h.Spec.Name, h.PID, err)
	}
	o.metrics.TerminationDuration(h.Spec.Name, time.Since(stopStart))
}

// transition moves a result to a new state, recording the metric.
func (o *Orchestrator) transition(result *ServiceResult, to launch.State) {
	o.metrics.ServiceStateTransition(result.Spec.Name, result.State, to)
	result.State = to
}
