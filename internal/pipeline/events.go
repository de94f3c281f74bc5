package pipeline

import "patentsmith/internal/stage"

// EventType names one progress transition.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventAttemptStarted EventType = "attempt_started"
	EventStageSucceeded EventType = "stage_succeeded"
	EventStageSkipped   EventType = "stage_skipped"
	EventStageFailed    EventType = "stage_failed"
	EventRunFinished    EventType = "run_finished"
)

// Event is one progress notification. Succeeded carries the run result
// on EventRunFinished only.
type Event struct {
	Type        EventType
	Stage       stage.ID
	Attempt     int
	MaxAttempts int
	Err         string
	Succeeded   bool
}

// emit sends an event without ever blocking the run; a slow or absent
// consumer drops progress, never stalls generation.
func (r *Runner) emit(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}
