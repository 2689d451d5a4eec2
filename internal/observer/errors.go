package observer

import "fmt"

const (
	EventStarted   = "started_event"
	EventCompleted = "completed_event"
	EventArtifact  = "artifact_event"
	EventResource  = "resource_event"
	EventMetrics   = "log_metrics"
)

// EventError reports the tracking call that failed while handling an event.
// Index is the position of the offending result or metric value, or -1.
type EventError struct {
	Event string
	Index int
	Err   error
}

func (e *EventError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s [%d]: %v", e.Event, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

func eventErr(event string, index int, err error) error {
	return &EventError{Event: event, Index: index, Err: err}
}
