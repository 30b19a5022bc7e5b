package orchestrator

import (
	"context"
	"log"
)

// EventSink receives service lifecycle events during an orchestration run.
//
// Event types:
//   - starting: service process is being launched
//   - healthy: service passed its health check (or has none)
//   - unhealthy: service health check exhausted its attempt budget
//   - failed: service process could not be started
//   - stopped: service was not started (port conflict, aborted run)
//   - terminated: launched service was torn down on cancellation
type EventSink interface {
	// ReportLifecycleEvent records a lifecycle transition for a service.
	ReportLifecycleEvent(ctx context.Context, eventType, service, message string)
}

// NoopEventSink discards all events.
type NoopEventSink struct{}

// ReportLifecycleEvent does nothing.
func (NoopEventSink) ReportLifecycleEvent(ctx context.Context, eventType, service, message string) {
}

// LogEventSink writes events to the standard logger.
type LogEventSink struct{}

// ReportLifecycleEvent logs the event.
func (LogEventSink) ReportLifecycleEvent(ctx context.Context, eventType, service, message string) {
	log.Printf("Event %s: service=%s: %s", eventType, service, message)
}
