package domain

import "time"

// NoticeState is the lifecycle state of one persisted notice.
// Params: open/acknowledged/completed state constants.
// Returns: state transitions tracked by the notice store.
type NoticeState string

const (
	// NoticeStateOpen indicates escalation steps may still fire.
	NoticeStateOpen NoticeState = "open"
	// NoticeStateAcknowledged indicates a correlated event cancelled the escalation.
	NoticeStateAcknowledged NoticeState = "acknowledged"
	// NoticeStateCompleted indicates the last escalation step has fired.
	NoticeStateCompleted NoticeState = "completed"
)

// Notice is one notification instance triggered by an event.
// Params: identity, originating event reference, and the parameter snapshot
// captured at creation (immutable afterwards).
// Returns: durable record persisted before any delivery task is scheduled.
type Notice struct {
	ID        int64             `json:"id"`
	EventID   int64             `json:"event_id"`
	EventUEI  string            `json:"event_uei"`
	AlarmID   int64             `json:"alarm_id,omitempty"`
	QueueID   string            `json:"queue_id"`
	Name      string            `json:"name"`
	Params    map[string]string `json:"params"`
	State     NoticeState       `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
}
