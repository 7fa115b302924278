package suppress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/domain"
)

// Verdict is the outcome of the admission check for one event.
type Verdict string

const (
	// VerdictAdmit lets the event continue into notification scheduling.
	VerdictAdmit Verdict = "admit"
	// VerdictDiscard drops the event without any side effect.
	VerdictDiscard Verdict = "discard"
	// VerdictSuppress blocks scheduling but may carry a diagnostic event.
	VerdictSuppress Verdict = "suppress"
)

// Decision is the admission result for one inbound event.
// Params: verdict, human-readable reason, and an optional diagnostic event
// the caller should publish (critical-path outages).
// Returns: gate outcome consumed by the processor.
type Decision struct {
	Verdict    Verdict
	Reason     string
	Diagnostic *domain.Event
}

// Prober checks reachability of a critical path endpoint.
// Params: context, target address, and service name.
// Returns: true when the path answers; error means the probe itself failed.
type Prober interface {
	Probe(ctx context.Context, addr, service string) (bool, error)
}

// DialProber probes a critical path with a TCP dial.
// Params: dial timeout.
// Returns: reachability based on connection success.
type DialProber struct {
	Timeout time.Duration
}

// Probe dials the critical path address once.
// Params: context, host or host:port address, and service hint ("ICMP" and
// bare hosts probe port 7, the echo port).
// Returns: true on successful connect; network errors mean unreachable.
func (p DialProber) Probe(ctx context.Context, addr, service string) (bool, error) {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "7")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

// Gate applies all admission checks before notification scheduling.
// Params: snapshot-derived switches, outage calendar, and path prober.
// Returns: admission gate rebuilt on every config reload.
type Gate struct {
	notificationsOn bool
	calendar        *Calendar
	prober          Prober
	log             *slog.Logger
}

// New builds a gate from one configuration snapshot.
// Params: snapshot, critical-path prober (nil skips probing and trusts the
// event), and logger.
// Returns: gate or outage window parse error (rejects the snapshot).
func New(cfg config.Config, prober Prober, log *slog.Logger) (*Gate, error) {
	calendar, err := NewCalendar(cfg.Outage)
	if err != nil {
		return nil, err
	}
	return &Gate{
		notificationsOn: cfg.Service.NotificationsOn(),
		calendar:        calendar,
		prober:          prober,
		log:             log,
	}, nil
}

// Admit runs the admission checks for one event.
// Params: context and validated event.
// Returns: decision; suppression may carry a path-outage diagnostic event.
func (g *Gate) Admit(ctx context.Context, event domain.Event) Decision {
	if event.DoNotPersist {
		return Decision{Verdict: VerdictDiscard, Reason: "event flagged donotpersist"}
	}
	if event.Alarm != nil && event.Alarm.AutoClean {
		return Decision{Verdict: VerdictDiscard, Reason: "event flagged for alarm auto-clean"}
	}

	// Unknown or missing status means off.
	if !g.notificationsOn {
		return Decision{Verdict: VerdictSuppress, Reason: "notifications are globally off"}
	}

	if event.UEI == domain.UEINodeDown && event.Parm(domain.ParmLostServiceReason) == domain.ParmValuePathOutage {
		if decision, suppressed := g.checkCriticalPath(ctx, event); suppressed {
			return decision
		}
	}

	return Decision{Verdict: VerdictAdmit}
}

// InScheduledOutage reports whether a node/interface pair sits inside a
// maintenance window right now.
// Params: node id, interface address, and evaluation time.
// Returns: matching calendar entry name and true when suppressed.
func (g *Gate) InScheduledOutage(nodeID int64, iface string, at time.Time) (string, bool) {
	return g.calendar.Covers(nodeID, iface, at)
}

// checkCriticalPath verifies the critical path for a node-down event.
// Params: context and the node-down event carrying critical path parameters.
// Returns: suppression decision and true when the path is confirmed down.
// Probe failures admit the event rather than silencing a real outage.
func (g *Gate) checkCriticalPath(ctx context.Context, event domain.Event) (Decision, bool) {
	addr := event.Parm(domain.ParmCriticalPathIP)
	if addr == "" {
		return Decision{}, false
	}

	pathDown := true
	if g.prober != nil {
		up, err := g.prober.Probe(ctx, addr, event.Parm(domain.ParmCriticalPathSvc))
		if err != nil {
			g.log.Warn("critical path probe failed, admitting event",
				"addr", addr, "err", err)
			return Decision{}, false
		}
		pathDown = !up
	}
	if !pathDown {
		return Decision{}, false
	}

	diagnostic := &domain.Event{
		UEI:       domain.UEIPathOutage,
		DT:        event.DT,
		NodeID:    event.NodeID,
		Interface: event.Interface,
		Source:    "notifyd",
		Parms: map[string]string{
			domain.ParmNodeLabel:            event.Parm(domain.ParmNodeLabel),
			domain.ParmCriticalPathIP:       addr,
			domain.ParmCriticalPathSvc:      event.Parm(domain.ParmCriticalPathSvc),
			domain.ParmCriticalPathSuppress: "true",
		},
	}
	return Decision{
		Verdict:    VerdictSuppress,
		Reason:     fmt.Sprintf("critical path %s is down", addr),
		Diagnostic: diagnostic,
	}, true
}

// outageWindow is one parsed recurring maintenance window.
type outageWindow struct {
	days     [7]bool
	startMin int
	endMin   int
}

type calendarEntry struct {
	name       string
	windows    []outageWindow
	anyNode    bool
	anyIface   bool
	nodes      map[int64]bool
	interfaces map[string]bool
}

// Calendar answers scheduled-outage membership questions.
// Params: parsed calendar entries from the snapshot.
// Returns: lookup structure shared by gate and scheduler.
type Calendar struct {
	entries []calendarEntry
}

// NewCalendar parses outage calendar entries from the snapshot.
// Params: outage section keyed by entry name.
// Returns: calendar or window parse error.
func NewCalendar(outages map[string]config.OutageConfig) (*Calendar, error) {
	entries := make([]calendarEntry, 0, len(outages))
	for name, outage := range outages {
		entry := calendarEntry{
			name:       name,
			anyNode:    len(outage.Nodes) == 0,
			anyIface:   len(outage.Interfaces) == 0,
			nodes:      make(map[int64]bool, len(outage.Nodes)),
			interfaces: make(map[string]bool, len(outage.Interfaces)),
		}
		for _, node := range outage.Nodes {
			entry.nodes[node] = true
		}
		for _, iface := range outage.Interfaces {
			entry.interfaces[iface] = true
		}
		for i, window := range outage.Window {
			parsed, err := parseWindow(window)
			if err != nil {
				return nil, fmt.Errorf("outage %q window[%d]: %w", name, i, err)
			}
			entry.windows = append(entry.windows, parsed)
		}
		entries = append(entries, entry)
	}
	return &Calendar{entries: entries}, nil
}

// Covers reports whether any calendar entry matches the node or interface
// at the given time.
// Params: node id, interface address, and evaluation time.
// Returns: matching entry name and true when covered.
func (c *Calendar) Covers(nodeID int64, iface string, at time.Time) (string, bool) {
	day := int(at.Weekday())
	minute := at.Hour()*60 + at.Minute()
	for _, entry := range c.entries {
		nodeMatch := entry.anyNode || entry.nodes[nodeID]
		ifaceMatch := entry.anyIface || (iface != "" && entry.interfaces[iface])
		if !nodeMatch && !ifaceMatch {
			continue
		}
		for _, window := range entry.windows {
			if window.days[day] && minute >= window.startMin && minute < window.endMin {
				return entry.name, true
			}
		}
	}
	return "", false
}

var dayTokens = map[string]time.Weekday{
	"Su": time.Sunday,
	"Mo": time.Monday,
	"Tu": time.Tuesday,
	"We": time.Wednesday,
	"Th": time.Thursday,
	"Fr": time.Friday,
	"Sa": time.Saturday,
}

// parseWindow parses one recurring window definition.
// Params: window with day tokens (empty means daily) and HH:MM bounds.
// Returns: parsed window or format error.
func parseWindow(window config.OutageWindowConfig) (outageWindow, error) {
	var parsed outageWindow
	if len(window.Days) == 0 {
		for i := range parsed.days {
			parsed.days[i] = true
		}
	}
	for _, token := range window.Days {
		day, ok := dayTokens[token]
		if !ok {
			return outageWindow{}, fmt.Errorf("unknown day token %q", token)
		}
		parsed.days[int(day)] = true
	}

	start, err := parseClock(window.Start)
	if err != nil {
		return outageWindow{}, err
	}
	end, err := parseClock(window.End)
	if err != nil {
		return outageWindow{}, err
	}
	if end <= start {
		return outageWindow{}, fmt.Errorf("window %s-%s: end must be after start", window.Start, window.End)
	}
	parsed.startMin = start
	parsed.endMin = end
	return parsed, nil
}

// parseClock parses an "HH:MM" value into minutes since midnight.
// Params: clock string.
// Returns: day minutes or format error.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q must be HH:MM", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", value, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", value, err)
	}
	if hours < 0 || hours > 24 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock %q out of range", value)
	}
	return hours*60 + minutes, nil
}
