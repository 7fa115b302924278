package autoack

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/domain"
	"notifyd/internal/noticequeue"
	"notifyd/internal/params"
	"notifyd/internal/state"
)

// Engine cancels open notices when a correlating event arrives.
// Params: UEI rules checked first; the alarm-keyed path runs only when no
// UEI rule matched the arriving event.
// Returns: acknowledgement engine rebuilt on config reload.
type Engine struct {
	rules    []config.AutoAckRule
	alarmCfg config.AutoAckAlarmConfig
	notifyOn bool
	store    state.Store
	queues   *noticequeue.QueueSet
	clk      clock.Clock
	log      *slog.Logger
}

// New builds the engine from one configuration snapshot.
// Params: snapshot, notice store, queue registry, clock, and logger.
// Returns: engine instance.
func New(cfg config.Config, store state.Store, queues *noticequeue.QueueSet, clk clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		rules:    cfg.AutoAck,
		alarmCfg: cfg.AutoAckAlarm,
		notifyOn: cfg.Service.NotificationsOn(),
		store:    store,
		queues:   queues,
		clk:      clk,
		log:      log,
	}
}

// Process runs acknowledgement for one inbound event.
// Params: context and validated event.
// Returns: ids of notices acknowledged by this event.
func (e *Engine) Process(ctx context.Context, event domain.Event) []int64 {
	acked, matchedRule := e.processRules(ctx, event)
	if matchedRule {
		// A matching UEI rule owns this event; the alarm path stays out.
		return acked
	}
	return append(acked, e.processAlarm(ctx, event)...)
}

// processRules applies every UEI rule matching the arriving event.
// Params: context and event.
// Returns: acknowledged notice ids and whether any rule claimed the event.
func (e *Engine) processRules(ctx context.Context, event domain.Event) ([]int64, bool) {
	var acked []int64
	matched := false
	for _, rule := range e.rules {
		if rule.UEI != event.UEI {
			continue
		}
		matched = true

		open, err := e.store.OpenNoticesByUEI(ctx, rule.Acknowledge)
		if err != nil {
			e.log.Error("listing open notices failed", "uei", rule.Acknowledge, "err", err)
			continue
		}
		for _, notice := range open {
			if !matchesNotice(rule.Matches, event, notice) {
				continue
			}
			if e.acknowledge(ctx, notice, event, rule.Notify, rule.ResolutionPrefix) {
				acked = append(acked, notice.ID)
			}
		}
	}
	return acked, matched
}

// processAlarm applies alarm-keyed acknowledgement.
// Params: context and event carrying alarm linkage.
// Returns: acknowledged notice ids.
func (e *Engine) processAlarm(ctx context.Context, event domain.Event) []int64 {
	if !e.alarmCfg.Enabled || event.Alarm == nil || event.Alarm.AlarmID == 0 {
		return nil
	}
	if len(e.alarmCfg.UEIs) > 0 && !containsString(e.alarmCfg.UEIs, event.UEI) {
		return nil
	}

	open, err := e.store.OpenNoticesByAlarm(ctx, event.Alarm.AlarmID)
	if err != nil {
		e.log.Error("listing open notices by alarm failed",
			"alarm", event.Alarm.AlarmID, "err", err)
		return nil
	}

	var acked []int64
	for _, notice := range open {
		// The event resolving an alarm must not re-acknowledge the
		// notices it created itself.
		if notice.EventUEI == event.UEI {
			continue
		}
		if e.acknowledge(ctx, notice, event, e.alarmCfg.Notify, e.alarmCfg.ResolutionPrefix) {
			acked = append(acked, notice.ID)
		}
	}
	return acked
}

// acknowledge closes one notice, retracts its pending tasks, and fans out
// resolution notices when enabled.
// Params: notice, correlating event, notify toggle, and subject prefix.
// Returns: true when this call closed the notice.
func (e *Engine) acknowledge(ctx context.Context, notice domain.Notice, event domain.Event, notify bool, prefix string) bool {
	now := e.clk.Now()
	err := e.store.CloseNotice(ctx, notice.ID, domain.NoticeStateAcknowledged, now)
	if errors.Is(err, state.ErrConflict) {
		return false
	}
	if err != nil {
		e.log.Error("acknowledging notice failed", "notice", notice.ID, "err", err)
		return false
	}

	cancelled := e.queues.Cancel(notice.ID)
	e.log.Info("notice acknowledged",
		"notice", notice.ID, "event", event.ID, "cancelled_tasks", cancelled)

	// Resolution fan-out obeys the global switch; cancellation does not.
	if notify && e.notifyOn {
		e.sendResolutions(ctx, notice, event, prefix)
	}
	return true
}

// sendResolutions schedules immediate resolution notices for the recipients
// of the original escalation plan, flattened into one step.
// Params: context, acknowledged notice, correlating event, subject prefix.
// Returns: none; recipients with a never disposition are skipped.
func (e *Engine) sendResolutions(ctx context.Context, notice domain.Notice, event domain.Event, prefix string) {
	recipients, err := e.store.PlannedTasks(ctx, notice.ID)
	if err != nil {
		e.log.Error("listing planned tasks failed", "notice", notice.ID, "err", err)
		return
	}
	if len(recipients) == 0 {
		// Notices without plan records fall back to recorded outcomes.
		recipients, err = e.store.DeliveredTasks(ctx, notice.ID)
		if err != nil {
			e.log.Error("listing delivered tasks failed", "notice", notice.ID, "err", err)
			return
		}
	}
	seen := make(map[string]bool, len(recipients))
	targets := make([]domain.DeliveryTask, 0, len(recipients))
	for _, original := range recipients {
		if original.AutoNotify == domain.AutoNotifyNever {
			continue
		}
		if seen[original.Recipient.UserID] {
			continue
		}
		seen[original.Recipient.UserID] = true
		targets = append(targets, original)
	}
	// When every recipient opted out no resolution notice exists at all.
	if len(targets) == 0 {
		return
	}

	resolutionID, err := e.store.NextNoticeID(ctx)
	if err != nil {
		e.log.Error("allocating resolution notice id failed", "notice", notice.ID, "err", err)
		return
	}

	resolutionParams := resolutionParams(notice, event, resolutionID, prefix)
	now := e.clk.Now()

	resolution := domain.Notice{
		ID:        resolutionID,
		EventID:   event.ID,
		EventUEI:  event.UEI,
		QueueID:   notice.QueueID,
		Name:      notice.Name,
		Params:    resolutionParams,
		State:     domain.NoticeStateCompleted,
		CreatedAt: now,
		ClosedAt:  &now,
	}
	if err := e.store.InsertNotice(ctx, resolution); err != nil {
		e.log.Error("persisting resolution notice failed", "notice", resolutionID, "err", err)
		return
	}

	tasks := make([]domain.DeliveryTask, 0, len(targets))
	for _, original := range targets {
		tasks = append(tasks, domain.DeliveryTask{
			NoticeID:   resolutionID,
			QueueID:    notice.QueueID,
			Step:       0,
			Recipient:  original.Recipient,
			Commands:   original.Commands,
			SendAt:     now,
			AutoNotify: domain.AutoNotifyNever,
			Params:     resolutionParams,
			State:      domain.TaskStateScheduled,
		})
	}
	e.queues.Enqueue(tasks)
	e.log.Info("resolution notices scheduled",
		"notice", notice.ID, "resolution", resolutionID, "recipients", len(tasks))
}

// resolutionParams rebuilds the parameter map for a resolution notice.
// Params: original notice, correlating event, resolution id, subject prefix.
// Returns: parameter map pointing at the correlating event.
func resolutionParams(notice domain.Notice, event domain.Event, resolutionID int64, prefix string) map[string]string {
	out := make(map[string]string, len(notice.Params)+3)
	for key, value := range notice.Params {
		out[key] = value
	}
	out[params.KeyNoticeID] = strconv.FormatInt(resolutionID, 10)
	out[params.KeyEventID] = strconv.FormatInt(event.ID, 10)
	out[params.KeyEventUEI] = event.UEI
	out[params.KeySubject] = prefix + notice.Params[params.KeySubject]
	out[params.KeyTextMsg] = prefix + notice.Params[params.KeyTextMsg]
	return out
}

// matchesNotice evaluates rule predicates against the original notice.
// Params: predicate names, arriving event, and original notice.
// Returns: true when every named value matches.
func matchesNotice(predicates []string, event domain.Event, notice domain.Notice) bool {
	for _, name := range predicates {
		if eventValue(event, name) != notice.Params[name] {
			return false
		}
	}
	return true
}

// eventValue extracts one named value from the arriving event.
// Params: event and predicate name.
// Returns: field value for the well-known names, parameter value otherwise.
func eventValue(event domain.Event, name string) string {
	switch name {
	case params.KeyNode:
		return strconv.FormatInt(event.NodeID, 10)
	case params.KeyInterface:
		return event.Interface
	case params.KeyService:
		return event.Service
	default:
		return event.Parm(name)
	}
}

// containsString reports membership in a string list.
// Params: list and candidate.
// Returns: true when present.
func containsString(list []string, candidate string) bool {
	for _, entry := range list {
		if entry == candidate {
			return true
		}
	}
	return false
}
