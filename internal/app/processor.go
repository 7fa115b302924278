package app

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"notifyd/internal/autoack"
	"notifyd/internal/bus"
	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/directory"
	"notifyd/internal/domain"
	"notifyd/internal/escalate"
	"notifyd/internal/noticequeue"
	"notifyd/internal/params"
	"notifyd/internal/state"
	"notifyd/internal/suppress"
)

// snapshot bundles everything derived from one validated config.
type snapshot struct {
	cfg     config.Config
	gate    *suppress.Gate
	dir     *directory.Directory
	planner *escalate.Planner
	engine  *autoack.Engine
}

// Processor drives the event pipeline: reload handling, admission,
// acknowledgement, and escalation scheduling.
// Params: immutable runtime deps plus a swappable config snapshot.
// Returns: event sink plugged under the bus.
type Processor struct {
	log    *slog.Logger
	clk    clock.Clock
	store  state.Store
	queues *noticequeue.QueueSet
	prober suppress.Prober

	pub      bus.Publisher
	reloadFn func(ctx context.Context) error

	runCtx context.Context

	mu   sync.RWMutex
	snap snapshot
}

// NewProcessor builds the processor around one initial snapshot.
// Params: snapshot, notice store, queue registry, critical-path prober,
// clock, and logger.
// Returns: processor or snapshot derivation error.
func NewProcessor(cfg config.Config, store state.Store, queues *noticequeue.QueueSet, prober suppress.Prober, clk clock.Clock, log *slog.Logger) (*Processor, error) {
	p := &Processor{
		log:    log,
		clk:    clk,
		store:  store,
		queues: queues,
		prober: prober,
		runCtx: context.Background(),
	}
	if err := p.Apply(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply derives and atomically installs a new config snapshot.
// Params: validated config.
// Returns: derivation error; on error the previous snapshot stays active.
func (p *Processor) Apply(cfg config.Config) error {
	gate, err := suppress.New(cfg, p.prober, p.log)
	if err != nil {
		return err
	}
	dir, err := directory.New(cfg)
	if err != nil {
		return err
	}

	next := snapshot{
		cfg:     cfg,
		gate:    gate,
		dir:     dir,
		planner: escalate.New(dir, p.log),
		engine:  autoack.New(cfg, p.store, p.queues, p.clk, p.log),
	}

	p.mu.Lock()
	p.snap = next
	p.mu.Unlock()
	return nil
}

// SetPublisher installs the outbound event publisher.
// Params: publisher (bus or loopback).
// Returns: none.
func (p *Processor) SetPublisher(pub bus.Publisher) {
	p.pub = pub
}

// SetReloadFunc installs the reload callback invoked by reload events.
// Params: callback loading and applying a fresh snapshot.
// Returns: none.
func (p *Processor) SetReloadFunc(fn func(ctx context.Context) error) {
	p.reloadFn = fn
}

// Start binds the processor to its lifecycle context.
// Params: context used for bus-driven pushes.
// Returns: none.
func (p *Processor) Start(ctx context.Context) {
	p.runCtx = ctx
}

// Push feeds one bus-delivered event into the pipeline.
// Params: validated event.
// Returns: processing error asking the bus for redelivery.
func (p *Processor) Push(event domain.Event) error {
	return p.OnEvent(p.runCtx, event)
}

// OnEvent runs the full pipeline for one inbound event.
// Params: context and validated event.
// Returns: error only for infrastructure failures worth a redelivery;
// suppressed and discarded events return nil.
func (p *Processor) OnEvent(ctx context.Context, event domain.Event) error {
	if p.isReloadEvent(event) {
		p.handleReload(ctx, event)
		return nil
	}

	p.mu.RLock()
	snap := p.snap
	p.mu.RUnlock()

	decision := snap.gate.Admit(ctx, event)
	if decision.Verdict == suppress.VerdictDiscard {
		p.log.Debug("event discarded", "uei", event.UEI, "reason", decision.Reason)
		return nil
	}

	// Acknowledgement runs even while scheduling is suppressed, so a
	// resolution arriving during a maintenance window still closes notices.
	snap.engine.Process(ctx, event)

	if decision.Verdict == suppress.VerdictSuppress {
		p.log.Info("event suppressed", "uei", event.UEI, "reason", decision.Reason)
		if decision.Diagnostic != nil {
			p.emit(*decision.Diagnostic)
		}
		return nil
	}

	p.scheduleNotices(ctx, snap, event)
	return nil
}

// isReloadEvent reports whether an event asks this daemon to reload.
// Params: inbound event.
// Returns: true for reload events naming our daemon.
func (p *Processor) isReloadEvent(event domain.Event) bool {
	if event.UEI != domain.UEIReloadConfig {
		return false
	}
	p.mu.RLock()
	daemon := p.snap.cfg.Service.DaemonName
	p.mu.RUnlock()
	return strings.EqualFold(event.Parm(domain.ParmDaemonName), daemon)
}

// handleReload runs the reload callback and reports the outcome.
// Params: context and triggering event.
// Returns: none; a failed reload keeps the previous snapshot active.
func (p *Processor) handleReload(ctx context.Context, event domain.Event) {
	p.mu.RLock()
	daemon := p.snap.cfg.Service.DaemonName
	p.mu.RUnlock()

	result := domain.Event{
		UEI:    domain.UEIReloadSuccessful,
		DT:     p.clk.Now().UnixMilli(),
		Source: "notifyd",
		Parms:  map[string]string{domain.ParmDaemonName: daemon},
	}

	if p.reloadFn == nil {
		p.log.Warn("reload requested but no reload callback is installed")
		return
	}
	if err := p.reloadFn(ctx); err != nil {
		p.log.Error("config reload failed, keeping previous snapshot", "err", err)
		result.UEI = domain.UEIReloadFailed
		result.Parms["reason"] = err.Error()
	} else {
		p.log.Info("config reload applied", "event", event.ID)
	}
	p.emit(result)
}

// scheduleNotices creates and schedules notices for every matching rule.
// Params: context, active snapshot, and admitted event.
// Returns: none; per-rule failures are logged and do not block other rules.
func (p *Processor) scheduleNotices(ctx context.Context, snap snapshot, event domain.Event) {
	now := p.clk.Now()

	for _, notification := range matchingRules(snap.cfg, event.UEI) {
		if !notification.Active() {
			p.log.Debug("notification rule is off", "rule", notification.Name)
			continue
		}

		path, ok := snap.cfg.Path[notification.DestinationPath]
		if !ok {
			p.log.Error("notification references unknown path",
				"rule", notification.Name, "path", notification.DestinationPath)
			continue
		}

		if snap.dir.CountRecipients(path, now) == 0 {
			p.log.Warn("escalation chain resolves to nobody",
				"rule", notification.Name, "path", path.Name)
			p.emit(domain.Event{
				UEI:    domain.UEINotificationWithoutUsers,
				DT:     now.UnixMilli(),
				NodeID: event.NodeID,
				Source: "notifyd",
				Parms:  map[string]string{"notificationName": notification.Name},
			})
			continue
		}

		noticeID, err := p.store.NextNoticeID(ctx)
		if err != nil {
			p.log.Error("allocating notice id failed", "rule", notification.Name, "err", err)
			continue
		}

		noticeParams := params.BuildNoticeParams(
			notification.Subject, notification.TextMessage, notification.NumericMessage,
			event, noticeID, notification.Parameters)

		notice := domain.Notice{
			ID:        noticeID,
			EventID:   event.ID,
			EventUEI:  event.UEI,
			QueueID:   notification.Queue,
			Name:      notification.Name,
			Params:    noticeParams,
			State:     domain.NoticeStateOpen,
			CreatedAt: now,
		}
		if event.Alarm != nil {
			notice.AlarmID = event.Alarm.AlarmID
		}

		// The record goes in before any task; if persistence fails
		// nothing may be scheduled for this notice.
		if err := p.store.InsertNotice(ctx, notice); err != nil {
			p.log.Error("persisting notice failed", "notice", noticeID, "err", err)
			continue
		}

		if outage, in := snap.gate.InScheduledOutage(event.NodeID, event.Interface, now); in {
			p.log.Info("notice falls into scheduled outage, keeping record only",
				"notice", noticeID, "outage", outage)
			continue
		}

		tasks := snap.planner.Plan(path, noticeID, notification.Queue, noticeParams, now)
		if len(tasks) == 0 {
			p.log.Warn("escalation plan produced no tasks", "notice", noticeID, "path", path.Name)
			continue
		}
		// Planned recipients back resolution fan-out even when the
		// acknowledgement arrives before the first task fires.
		if err := p.store.RecordPlanned(ctx, tasks); err != nil {
			p.log.Error("recording planned tasks failed", "notice", noticeID, "err", err)
		}
		p.queues.Enqueue(tasks)
		p.log.Info("notice scheduled",
			"notice", noticeID, "rule", notification.Name,
			"queue", notification.Queue, "tasks", len(tasks))
	}
}

// emit publishes one daemon-originated event.
// Params: outbound event.
// Returns: none; publish failures are logged.
func (p *Processor) emit(event domain.Event) {
	if p.pub == nil {
		return
	}
	if event.DT == 0 {
		event.DT = p.clk.Now().UnixMilli()
	}
	if err := p.pub.Publish(event); err != nil {
		p.log.Error("publishing event failed", "uei", event.UEI, "err", err)
	}
}

// matchingRules lists notification rules triggered by one UEI in a stable
// order.
// Params: snapshot config and event UEI.
// Returns: matching rules sorted by name.
func matchingRules(cfg config.Config, uei string) []config.NotificationConfig {
	matches := make([]config.NotificationConfig, 0, 1)
	for _, notification := range cfg.Notification {
		if notification.UEI == uei {
			matches = append(matches, notification)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches
}
