// Package launch starts external commands as detached child processes and
// tracks enough of a handle to probe and terminate them later.
package launch

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ServiceSpec describes one managed process. Immutable once constructed.
type ServiceSpec struct {
	// Name identifies the service in logs and reports (e.g. "backend").
	Name string

	// Command and Args form the child process command line.
	Command string
	Args    []string

	// Dir is the working directory the command runs in. Must exist.
	Dir string

	// Env holds additional environment variables for the child. The
	// orchestrator's own environment is always inherited.
	Env map[string]string

	// Port is the TCP port the service is expected to bind.
	Port int

	// HealthURL is polled after launch. Empty means the service is
	// considered healthy as soon as it starts.
	HealthURL string
}

// State is the lifecycle state of a managed service.
type State int

const (
	// StateIdle - service not yet attempted
	StateIdle State = iota
	// StateStarting - process launched, health not yet confirmed
	StateStarting
	// StateHealthy - process launched and health confirmed
	StateHealthy
	// StateFailed - launch or health check failed
	StateFailed
	// StateStopped - service was not started (port conflict, aborted run)
	StateStopped
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateHealthy:
		return "Healthy"
	case StateFailed:
		return "Failed"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Handle tracks a launched process for the lifetime of one orchestration run.
type Handle struct {
	Spec      ServiceSpec
	PID       int
	StartedAt time.Time
	State     State
}

// LaunchError indicates the command could not be started at all.
type LaunchError struct {
	Service string
	Reason  string
	Cause   error
}

func (e *LaunchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("launch %s: %s: %v", e.Service, e.Reason, e.Cause)
	}
	return fmt.Sprintf("launch %s: %s", e.Service, e.Reason)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// Launcher starts and stops detached child processes.
type Launcher struct {
	// GracePeriod is how long Stop waits after SIGTERM before escalating
	// to SIGKILL.
	GracePeriod time.Duration

	// Stdout and Stderr receive the child's output. Defaults to the
	// launcher process's own streams.
	Stdout *os.File
	Stderr *os.File
}

// New returns a Launcher with a 5 second stop grace period.
func New() *Launcher {
	return &Launcher{
		GracePeriod: 5 * time.Second,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Launch starts spec.Command in its own session so the child keeps running
// after the launching process exits. The returned handle is in StateStarting.
func (l *Launcher) Launch(spec ServiceSpec) (*Handle, error) {
	if spec.Dir != "" {
		info, err := os.Stat(spec.Dir)
		if err != nil {
			return nil, &LaunchError{Service: spec.Name, Reason: fmt.Sprintf("working directory %s does not exist", spec.Dir), Cause: err}
		}
		if !info.IsDir() {
			return nil, &LaunchError{Service: spec.Name, Reason: fmt.Sprintf("%s is not a directory", spec.Dir)}
		}
	}

	if err := l.resolveCommand(spec); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// New session: the child must not die with the orchestrator and must
	// not receive the orchestrator's terminal signals.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Service: spec.Name, Reason: "command could not be started", Cause: err}
	}

	// Reap the child if it exits while we are still around.
	go func() { _ = cmd.Wait() }()

	log.Printf("Launched %s: pid=%d, command=%s %s, dir=%s",
		spec.Name, cmd.Process.Pid, spec.Command, strings.Join(spec.Args, " "), spec.Dir)

	return &Handle{
		Spec:      spec,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		State:     StateStarting,
	}, nil
}

// resolveCommand verifies the command can be found before starting it, so a
// bad path fails with a clear reason instead of a raw exec error.
func (l *Launcher) resolveCommand(spec ServiceSpec) error {
	if spec.Command == "" {
		return &LaunchError{Service: spec.Name, Reason: "no command configured"}
	}

	if strings.ContainsRune(spec.Command, os.PathSeparator) {
		path := spec.Command
		if !filepath.IsAbs(path) {
			path = filepath.Join(spec.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return &LaunchError{Service: spec.Name, Reason: fmt.Sprintf("command %s not found", spec.Command), Cause: err}
		}
		return nil
	}

	if _, err := exec.LookPath(spec.Command); err != nil {
		return &LaunchError{Service: spec.Name, Reason: fmt.Sprintf("command %s not found in PATH", spec.Command), Cause: err}
	}
	return nil
}

// IsAlive reports whether the handle's PID still refers to a running process.
func (l *Launcher) IsAlive(h *Handle) bool {
	if h == nil || h.PID <= 0 {
		return false
	}
	err := syscall.Kill(h.PID, 0)
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Stop terminates the handle's process: SIGTERM first, SIGKILL after the
// grace period. A process that already exited is success. Idempotent.
func (l *Launcher) Stop(h *Handle) error {
	if h == nil || h.PID <= 0 {
		return nil
	}

	err := syscall.Kill(h.PID, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop %s (pid %d): %w", h.Spec.Name, h.PID, err)
	}

	deadline := time.Now().Add(l.GracePeriod)
	for time.Now().Before(deadline) {
		if !l.IsAlive(h) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	log.Printf("Service %s (pid %d) did not exit within %v, sending SIGKILL", h.Spec.Name, h.PID, l.GracePeriod)

	err = syscall.Kill(h.PID, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill %s (pid %d): %w", h.Spec.Name, h.PID, err)
	}
	return nil
}
