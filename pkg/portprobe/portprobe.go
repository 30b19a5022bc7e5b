// Package portprobe inspects local TCP ports and the processes that own them.
//
// Port state is recomputed on every call and never cached: port liveness
// changes outside the caller's control, so a cached answer is already stale.
package portprobe

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PortStatus describes a single localhost TCP port at probe time.
type PortStatus struct {
	Port     int
	InUse    bool
	OwnerPID int // 0 when the owner could not be resolved
}

// ProbeError indicates the OS query itself failed. Callers must treat the
// port as unknown, never as free.
type ProbeError struct {
	Port  int
	Cause error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe port %d: %v", e.Port, e.Cause)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Prober probes localhost TCP ports.
type Prober struct {
	// DialTimeout bounds the connect attempt used to detect a listener.
	DialTimeout time.Duration
}

// New returns a Prober with a sub-second dial timeout.
func New() *Prober {
	return &Prober{DialTimeout: 500 * time.Millisecond}
}

// Probe reports whether port is bound by a listening process, resolving the
// owning PID when possible.
func (p *Prober) Probe(port int) (PortStatus, error) {
	status := PortStatus{Port: port}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, p.DialTimeout)
	if err == nil {
		conn.Close()
		status.InUse = true
		if pid, ok := p.OwnerOf(port); ok {
			status.OwnerPID = pid
		}
		return status, nil
	}

	if isConnRefused(err) {
		// Nothing listening.
		return status, nil
	}

	// Timeout, resolver failure, exhausted descriptors: the port state is
	// unknown, not free.
	return status, &ProbeError{Port: port, Cause: err}
}

// OwnerOf resolves the PID listening on port. Best effort: used for
// diagnostics and conflict termination, never for logic branching.
func (p *Prober) OwnerOf(port int) (int, bool) {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		return 0, false
	}

	// lsof prints one PID per line; the first is the listener we want.
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, false
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Terminate forcefully kills pid. A process that has already exited is
// success, not an error: termination is inherently racy.
func (p *Prober) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("terminate: invalid pid %d", pid)
	}

	err := syscall.Kill(pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("terminate pid %d: %w", pid, err)
}

func isConnRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && errors.Is(opErr.Err, syscall.ECONNREFUSED)
}
