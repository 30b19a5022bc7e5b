package orchestrator

import (
	"fmt"
	"strings"
)

// Error carries an error code, context, and an actionable suggestion for
// troubleshooting a failed orchestration step.
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of orchestration errors
type ErrorCode string

const (
	// Port errors
	ErrorCodeProbeFailed  ErrorCode = "PROBE_FAILED"
	ErrorCodePortConflict ErrorCode = "PORT_CONFLICT"

	// Process lifecycle errors
	ErrorCodeLaunchFailed       ErrorCode = "LAUNCH_FAILED"
	ErrorCodeHealthCheckTimeout ErrorCode = "HEALTH_CHECK_TIMEOUT"

	// Configuration errors
	ErrorCodeInvalidManifest ErrorCode = "INVALID_MANIFEST"

	// Run-level errors
	ErrorCodeCancelled ErrorCode = "CANCELLED"
)

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		var contextParts []string
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// ErrPortConflict reports a port that is already bound and was not freed.
func ErrPortConflict(service string, port, ownerPID int) *Error {
	err := NewError(ErrorCodePortConflict,
		fmt.Sprintf("Port %d required by %s is already in use", port, service)).
		WithContext("service", service).
		WithContext("port", port).
		WithSuggestion(fmt.Sprintf(
			"Free the port or configure a different one:\n"+
				"  devstack down\n"+
				"  devstack up --%s-port <port>", service))
	if ownerPID > 0 {
		err = err.WithContext("owner_pid", ownerPID)
	}
	return err
}

// ErrLaunchFailed reports a service whose process could not be started.
func ErrLaunchFailed(service string, cause error) *Error {
	return NewError(ErrorCodeLaunchFailed,
		fmt.Sprintf("Failed to start %s", service)).
		WithContext("service", service).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Command not installed or not in PATH\n" +
				"  2. Working directory missing (run from the project root)\n" +
				"  3. Insufficient permissions")
}

// ErrHealthCheckTimeout reports a service that launched but never became
// healthy within the attempt budget.
func ErrHealthCheckTimeout(service, healthURL string, cause error) *Error {
	return NewError(ErrorCodeHealthCheckTimeout,
		fmt.Sprintf("%s did not become healthy", service)).
		WithContext("service", service).
		WithContext("health_url", healthURL).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Verify the service starts by hand and the endpoint responds:\n"+
				"  curl %s\n"+
				"Check the service output above for startup errors", healthURL))
}

// ErrInvalidManifest reports a manifest that failed validation.
func ErrInvalidManifest(path string, cause error) *Error {
	return NewError(ErrorCodeInvalidManifest,
		fmt.Sprintf("Manifest %s is invalid", path)).
		WithContext("path", path).
		WithCause(cause).
		WithSuggestion(
			"Check the manifest syntax and ensure every service declares:\n" +
				"  - name\n" +
				"  - command\n" +
				"  - port (unique per service)")
}

// ErrCancelled reports a run interrupted before all services reached a
// terminal state.
func ErrCancelled(cause error) *Error {
	return NewError(ErrorCodeCancelled, "Orchestration cancelled").
		WithCause(cause).
		WithSuggestion("Launched services were terminated; re-run devstack up to start again")
}
