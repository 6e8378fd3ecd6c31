package engine

import (
	"context"

	"github.com/google/uuid"
)

// Event names match the SSE event stream exposed by the frontend.
const (
	EventRunStarted    = "run-started"
	EventStep          = "step"
	EventInputRequired = "input-required"
	EventComplete      = "complete"
	EventRunError      = "run-error"
)

// Event is one named message emitted during a run.
type Event struct {
	Name string
	Data any
}

// EventSink receives run events in emission order.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// RunStartedPayload opens every event stream.
type RunStartedPayload struct {
	RunID uuid.UUID `json:"runId"`
}

// InputPrompt is one field shown to the operator. Default and cached
// values are hints; the submitted value wins.
type InputPrompt struct {
	Name         string  `json:"name"`
	DefaultValue *string `json:"defaultValue"`
	CachedValue  *string `json:"cachedValue"`
}

// InputRequiredPayload pauses a manual run until inputs arrive.
type InputRequiredPayload struct {
	RunID    uuid.UUID     `json:"runId"`
	StepID   uuid.UUID     `json:"stepId"`
	StepName string        `json:"stepName"`
	Fields   []InputPrompt `json:"fields"`
}

// RunErrorPayload terminates a stream that failed before or outside
// step execution.
type RunErrorPayload struct {
	Message string `json:"message"`
}

// NopSink discards all events. Scheduled runs with no live observer
// use it.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}
