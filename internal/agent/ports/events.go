package ports

import "time"

// EventType discriminates stream event payloads.
type EventType string

const (
	// EventTurn carries one appended history turn.
	EventTurn EventType = "turn"
	// EventStatus carries a job status transition.
	EventStatus EventType = "status"
)

// JobEvent is one entry in a job's event stream. Events are append-only and
// emitted in history order; Seq is strictly increasing per job.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Type      EventType `json:"type"`
	Turn      *Turn     `json:"turn,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event closes the stream.
func (e JobEvent) Terminal() bool {
	return e.Type == EventStatus && (e.Status == "completed" || e.Status == "failed" || e.Status == "expired")
}

// EventListener consumes job events (used by streaming layers).
type EventListener interface {
	OnEvent(event JobEvent)
}

// EventListenerFunc adapts a function to the EventListener interface.
type EventListenerFunc func(event JobEvent)

func (f EventListenerFunc) OnEvent(event JobEvent) {
	f(event)
}
