package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Internal event identifiers consumed and produced by the daemon.
const (
	// UEIReloadConfig asks a daemon to reload its configuration.
	UEIReloadConfig = "uei.notifyd/internal/reloadConfig"
	// UEIReloadSuccessful reports a completed configuration reload.
	UEIReloadSuccessful = "uei.notifyd/internal/reloadConfigSuccessful"
	// UEIReloadFailed reports a rejected configuration reload.
	UEIReloadFailed = "uei.notifyd/internal/reloadConfigFailed"
	// UEINodeDown marks a node outage event subject to critical-path checks.
	UEINodeDown = "uei.notifyd/nodes/nodeDown"
	// UEIPathOutage is the diagnostic event emitted when a critical path is down.
	UEIPathOutage = "uei.notifyd/nodes/pathOutage"
	// UEINotificationWithoutUsers reports an escalation chain that resolved to nobody.
	UEINotificationWithoutUsers = "uei.notifyd/internal/notificationWithoutUsers"
)

// Well-known event parameter names.
const (
	ParmDaemonName           = "daemonName"
	ParmLostServiceReason    = "lostServiceReason"
	ParmValuePathOutage      = "pathOutage"
	ParmCriticalPathIP       = "criticalPathIp"
	ParmCriticalPathSvc      = "criticalPathSvc"
	ParmCriticalPathSuppress = "noticeSuppressed"
	ParmNodeLabel            = "nodeLabel"
)

// AlarmData carries alarm linkage attached to an event.
// Params: alarm reduction identity and auto-clean flag.
// Returns: linkage used by alarm-keyed acknowledgement.
type AlarmData struct {
	AlarmID   int64 `json:"alarm_id"`
	AutoClean bool  `json:"auto_clean"`
}

// Event is one inbound domain event delivered by the event bus.
// Params: identity, origin node/interface/service, parameter list, and flags.
// Returns: validated event payload for notification processing.
type Event struct {
	ID           int64             `json:"id"`
	UEI          string            `json:"uei"`
	DT           int64             `json:"dt"`
	NodeID       int64             `json:"node_id,omitempty"`
	Interface    string            `json:"interface,omitempty"`
	Service      string            `json:"service,omitempty"`
	Parms        map[string]string `json:"parms,omitempty"`
	DoNotPersist bool              `json:"do_not_persist,omitempty"`
	Alarm        *AlarmData        `json:"alarm,omitempty"`
	Source       string            `json:"source,omitempty"`
	LogMessage   string            `json:"log_message,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: event timestamp in unix milliseconds.
// Returns: converted UTC time.
func (e Event) EventTime() time.Time {
	return time.UnixMilli(e.DT).UTC()
}

// Parm returns one named event parameter.
// Params: parameter name.
// Returns: parameter value or empty string when absent.
func (e Event) Parm(name string) string {
	if e.Parms == nil {
		return ""
	}
	return e.Parms[name]
}

// DecodeEvent decodes and validates one event payload.
// Params: JSON document bytes.
// Returns: validated event or decode/validation error.
func DecodeEvent(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Encode serializes the event for the outbound bus.
// Params: none.
// Returns: JSON document bytes or encode error.
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return body, nil
}

// Validate validates one event against the contract.
// Params: event fields parsed from transport.
// Returns: validation error when schema is violated.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UEI) == "" {
		return errors.New("uei is required")
	}
	if e.DT <= 0 {
		return errors.New("dt must be >0")
	}
	if e.NodeID < 0 {
		return errors.New("node_id must be >=0")
	}
	return nil
}
