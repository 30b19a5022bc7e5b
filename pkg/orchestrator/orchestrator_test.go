package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashix/devstack/pkg/launch"
	"github.com/kizashix/devstack/pkg/portprobe"
)

// fakeProber simulates the local TCP listen table.
type fakeProber struct {
	mu         sync.Mutex
	inUse      map[int]int // port -> owner pid (0 = unknown owner)
	probeErr   map[int]error
	terminated []int
	killErr    error
}

func newFakeProber() *fakeProber {
	return &fakeProber{inUse: make(map[int]int), probeErr: make(map[int]error)}
}

func (f *fakeProber) Probe(port int) (portprobe.PortStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.probeErr[port]; err != nil {
		return portprobe.PortStatus{Port: port}, err
	}
	pid, used := f.inUse[port]
	return portprobe.PortStatus{Port: port, InUse: used, OwnerPID: pid}, nil
}

func (f *fakeProber) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.terminated = append(f.terminated, pid)
	if f.killErr != nil {
		return f.killErr
	}
	for port, owner := range f.inUse {
		if owner == pid {
			delete(f.inUse, port)
		}
	}
	return nil
}

// fakeLauncher records launches and stops without touching the OS.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	stopped  []string
	failFor  map[string]error
	nextPID  int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{failFor: make(map[string]error), nextPID: 1000}
}

func (f *fakeLauncher) Launch(spec launch.ServiceSpec) (*launch.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFor[spec.Name]; err != nil {
		return nil, err
	}
	f.launched = append(f.launched, spec.Name)
	f.nextPID++
	return &launch.Handle{Spec: spec, PID: f.nextPID, StartedAt: time.Now(), State: launch.StateStarting}, nil
}

func (f *fakeLauncher) Stop(h *launch.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.Spec.Name)
	return nil
}

func (f *fakeLauncher) launchedServices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launched...)
}

func (f *fakeLauncher) stoppedServices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

// fakePoller resolves health outcomes by URL.
type fakePoller struct {
	mu      sync.Mutex
	outcome map[string]error // url -> result
	polled  []string
}

func newFakePoller() *fakePoller {
	return &fakePoller{outcome: make(map[string]error)}
}

func (f *fakePoller) PollUntilHealthy(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	f.polled = append(f.polled, url)
	return f.outcome[url]
}

func testManifest(t *testing.T) *Manifest {
	t.Helper()

	m := &Manifest{
		Services: []ServiceManifest{
			{
				Name:    "backend",
				Command: "uvicorn",
				Args:    []string{"open_webui.main:app", "--port", "8080"},
				Port:    8080,
				HealthCheck: HealthCheckConfig{
					Path: "/health",
				},
			},
			{
				Name:    "frontend",
				Command: "npm",
				Args:    []string{"run", "dev"},
				Port:    5173,
				HealthCheck: HealthCheckConfig{
					Path: "/",
				},
			},
		},
	}
	m.ApplyDefaults()
	require.NoError(t, m.Validate())
	return m
}

func newTestOrchestrator(m *Manifest, prober *fakeProber, launcher *fakeLauncher, poller *fakePoller, opts ...Option) *Orchestrator {
	base := []Option{
		WithProber(prober),
		WithLauncher(launcher),
		WithPollerFactory(func(hc HealthCheckConfig) Poller { return poller }),
	}
	o := New(m, append(base, opts...)...)
	o.settleDelay = 0
	return o
}

func TestRun_BothHealthy(t *testing.T) {
	prober := newFakeProber()
	launcher := newFakeLauncher()
	poller := newFakePoller()

	o := newTestOrchestrator(testManifest(t), prober, launcher, poller,
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())

	require.Len(t, report.Results, 2)
	assert.Equal(t, launch.StateHealthy, report.Results[0].State)
	assert.Equal(t, launch.StateHealthy, report.Results[1].State)
	assert.Equal(t, "http://localhost:8080", report.Results[0].AccessURL)
	assert.Equal(t, "http://localhost:5173", report.Results[1].AccessURL)

	// Backend before frontend, always.
	assert.Equal(t, []string{"backend", "frontend"}, launcher.launchedServices())
	assert.Empty(t, prober.terminated)
}

func TestRun_PortConflictFailPolicy(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 4321
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictFail))

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.False(t, report.OK())

	var orchErr *Error
	require.ErrorAs(t, err, &orchErr)
	assert.Equal(t, ErrorCodePortConflict, orchErr.Code)

	require.Len(t, report.Results, 2)
	assert.Equal(t, launch.StateStopped, report.Results[0].State)
	assert.Equal(t, launch.StateIdle, report.Results[1].State)

	// The frontend is never attempted once the backend stops.
	assert.Empty(t, launcher.launchedServices())
}

func TestRun_PortConflictAutoFrees(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 4321
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []int{4321}, prober.terminated)
}

func TestRun_PortConflictAutoUnknownOwner(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 0 // bound, owner unresolvable
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, launch.StateStopped, report.Results[0].State)
	assert.Empty(t, launcher.launchedServices())
}

func TestRun_PromptAccepted(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 4321
	launcher := newFakeLauncher()

	var asked string
	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictPrompt),
		WithConfirm(func(q string) bool { asked = q; return true }))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Contains(t, asked, "8080")
	assert.Contains(t, asked, "4321")
	assert.Equal(t, []int{4321}, prober.terminated)
}

func TestRun_PromptDeclined(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 4321
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictPrompt),
		WithConfirm(func(q string) bool { return false }))

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, launch.StateStopped, report.Results[0].State)
	assert.Empty(t, prober.terminated)
	assert.Empty(t, launcher.launchedServices())
}

func TestRun_BackendHealthTimeoutBlocksFrontend(t *testing.T) {
	prober := newFakeProber()
	launcher := newFakeLauncher()
	poller := newFakePoller()
	poller.outcome["http://localhost:8080/health"] = fmt.Errorf("not healthy after 30 attempts")

	o := newTestOrchestrator(testManifest(t), prober, launcher, poller,
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.Error(t, err)

	var orchErr *Error
	require.ErrorAs(t, err, &orchErr)
	assert.Equal(t, ErrorCodeHealthCheckTimeout, orchErr.Code)

	assert.Equal(t, launch.StateFailed, report.Results[0].State)
	assert.Equal(t, launch.StateIdle, report.Results[1].State)
	assert.Equal(t, []string{"backend"}, launcher.launchedServices())

	// The broken backend is torn down rather than left on the port.
	assert.Equal(t, []string{"backend"}, launcher.stoppedServices())
}

func TestRun_LaunchErrorIsFatal(t *testing.T) {
	prober := newFakeProber()
	launcher := newFakeLauncher()
	launcher.failFor["backend"] = &launch.LaunchError{Service: "backend", Reason: "command not found"}

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.Error(t, err)

	var orchErr *Error
	require.ErrorAs(t, err, &orchErr)
	assert.Equal(t, ErrorCodeLaunchFailed, orchErr.Code)

	var launchErr *launch.LaunchError
	assert.ErrorAs(t, err, &launchErr)

	assert.Equal(t, launch.StateFailed, report.Results[0].State)
	assert.Equal(t, launch.StateIdle, report.Results[1].State)
}

func TestRun_ProbeErrorDoesNotBlock(t *testing.T) {
	prober := newFakeProber()
	prober.probeErr[8080] = &portprobe.ProbeError{Port: 8080, Cause: errors.New("query failed")}
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictFail))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{"backend", "frontend"}, launcher.launchedServices())
}

func TestRun_SkipChecks(t *testing.T) {
	prober := newFakeProber()
	prober.inUse[8080] = 4321
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictFail),
		WithSkipChecks(true))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, prober.terminated)
}

func TestRun_BackendOnlySelection(t *testing.T) {
	prober := newFakeProber()
	launcher := newFakeLauncher()

	o := newTestOrchestrator(testManifest(t).Select("backend"), prober, launcher, newFakePoller(),
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "backend", report.Results[0].Spec.Name)
	assert.Equal(t, []string{"backend"}, launcher.launchedServices())
}

func TestRun_CancellationTerminatesLaunched(t *testing.T) {
	prober := newFakeProber()
	launcher := newFakeLauncher()
	poller := newFakePoller()

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel the run while the backend health poll is in flight.
	blocking := &blockingPoller{started: make(chan struct{})}
	o := newTestOrchestrator(testManifest(t), prober, launcher, poller,
		WithConflictPolicy(ConflictAuto),
		WithPollerFactory(func(hc HealthCheckConfig) Poller { return blocking }))

	go func() {
		<-blocking.started
		cancel()
	}()

	report, err := o.Run(ctx)
	require.Error(t, err)

	var orchErr *Error
	require.ErrorAs(t, err, &orchErr)
	assert.Equal(t, ErrorCodeCancelled, orchErr.Code)

	assert.True(t, report.Cancelled)
	assert.False(t, report.OK())

	// No orphans: the launched backend was terminated.
	assert.Contains(t, launcher.stoppedServices(), "backend")
	assert.Equal(t, []string{"backend"}, launcher.launchedServices())
}

// blockingPoller blocks until its context is cancelled.
type blockingPoller struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingPoller) PollUntilHealthy(ctx context.Context, url string) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	launcher := newFakeLauncher()
	o := newTestOrchestrator(testManifest(t), newFakeProber(), launcher, newFakePoller(),
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(ctx)
	require.Error(t, err)
	assert.True(t, report.Cancelled)
	assert.Empty(t, launcher.launchedServices())
	require.Len(t, report.Results, 2)
	assert.Equal(t, launch.StateIdle, report.Results[0].State)
}

func TestRun_NoHealthCheckIsOptimisticallyHealthy(t *testing.T) {
	m := &Manifest{
		Services: []ServiceManifest{
			{Name: "worker", Command: "sleep", Args: []string{"60"}, Port: 9000},
		},
	}
	m.ApplyDefaults()
	require.NoError(t, m.Validate())

	poller := newFakePoller()
	launcher := newFakeLauncher()
	o := newTestOrchestrator(m, newFakeProber(), launcher, poller,
		WithConflictPolicy(ConflictAuto))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, launch.StateHealthy, report.Results[0].State)
	assert.Empty(t, poller.polled)
}

func TestParseConflictPolicy(t *testing.T) {
	for _, valid := range []string{"auto", "prompt", "fail"} {
		policy, err := ParseConflictPolicy(valid)
		require.NoError(t, err)
		assert.Equal(t, ConflictPolicy(valid), policy)
	}

	_, err := ParseConflictPolicy("interactive")
	assert.Error(t, err)
}

func TestHealthCheckDefaults(t *testing.T) {
	m := testManifest(t)
	hc, ok := m.HealthCheckFor("backend")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, hc.Interval)
	assert.Equal(t, 5*time.Second, hc.Timeout)
	assert.Equal(t, 30, hc.MaxAttempts)
	assert.Equal(t, []int{http.StatusOK}, hc.ExpectStatuses)
}
