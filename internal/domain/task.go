package domain

import "time"

// TaskState is the delivery lifecycle state of one queued task.
// Params: scheduled/dispatched/delivered/failed/cancelled constants.
// Returns: per-task state machine tracked by the notice queue set.
type TaskState string

const (
	// TaskStateScheduled indicates the task waits in a notice queue.
	TaskStateScheduled TaskState = "scheduled"
	// TaskStateDispatched indicates a worker owns the task.
	TaskStateDispatched TaskState = "dispatched"
	// TaskStateDelivered indicates the delivery sink accepted the message.
	TaskStateDelivered TaskState = "delivered"
	// TaskStateFailed indicates the delivery sink rejected the message.
	TaskStateFailed TaskState = "failed"
	// TaskStateCancelled indicates the task was retracted before dispatch.
	TaskStateCancelled TaskState = "cancelled"
)

// AutoNotify controls whether a recipient receives resolution fan-out.
// Params: always/never/conditional constants.
// Returns: disposition evaluated by the auto-acknowledgement engine.
type AutoNotify string

const (
	// AutoNotifyAlways sends resolution notices unconditionally.
	AutoNotifyAlways AutoNotify = "always"
	// AutoNotifyNever suppresses resolution notices for the recipient.
	AutoNotifyNever AutoNotify = "never"
	// AutoNotifyConditional sends only when the notice was not acknowledged by hand.
	AutoNotifyConditional AutoNotify = "conditional"
)

// Recipient is one addressable delivery target resolved at plan time.
// Params: user identity and contact media map (medium -> address).
// Returns: delivery address set consumed by the command sink.
type Recipient struct {
	UserID   string            `json:"user_id"`
	Contacts map[string]string `json:"contacts,omitempty"`
}

// DeliveryTask is one scheduled delivery belonging to exactly one notice.
// Params: resolved recipient, command list, absolute send time, and the
// parameter snapshot shared with sibling tasks of the same notice.
// Returns: queue unit owned by the notice queue until dispatch or cancel.
type DeliveryTask struct {
	NoticeID   int64
	QueueID    string
	Step       int
	Recipient  Recipient
	Commands   []string
	SendAt     time.Time
	AutoNotify AutoNotify
	Params     map[string]string
	State      TaskState
}
