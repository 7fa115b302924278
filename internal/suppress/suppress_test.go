package suppress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProber struct {
	up  bool
	err error
}

func (p stubProber) Probe(context.Context, string, string) (bool, error) {
	return p.up, p.err
}

func baseConfig(status string) config.Config {
	return config.Config{Service: config.ServiceConfig{Notifications: status}}
}

func TestAdmitGloballyOff(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("off"), nil, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	decision := gate.Admit(context.Background(), domain.Event{UEI: "uei.x", DT: 1})
	if decision.Verdict != VerdictSuppress {
		t.Fatalf("expected suppress, got %+v", decision)
	}
}

func TestAdmitUnknownStatusFailsClosed(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("maybe"), nil, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	if decision := gate.Admit(context.Background(), domain.Event{UEI: "uei.x", DT: 1}); decision.Verdict != VerdictSuppress {
		t.Fatalf("unknown status must suppress, got %+v", decision)
	}
}

func TestAdmitDiscardsDoNotPersist(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("on"), nil, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	decision := gate.Admit(context.Background(), domain.Event{UEI: "uei.x", DT: 1, DoNotPersist: true})
	if decision.Verdict != VerdictDiscard {
		t.Fatalf("expected discard, got %+v", decision)
	}
}

func TestAdmitDiscardsAutoCleanAlarms(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("on"), nil, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	event := domain.Event{UEI: "uei.x", DT: 1, Alarm: &domain.AlarmData{AlarmID: 5, AutoClean: true}}
	if decision := gate.Admit(context.Background(), event); decision.Verdict != VerdictDiscard {
		t.Fatalf("expected discard, got %+v", decision)
	}
}

func pathOutageEvent() domain.Event {
	return domain.Event{
		UEI:    domain.UEINodeDown,
		DT:     1,
		NodeID: 4,
		Parms: map[string]string{
			domain.ParmLostServiceReason: domain.ParmValuePathOutage,
			domain.ParmCriticalPathIP:    "10.1.1.1",
			domain.ParmCriticalPathSvc:   "ICMP",
			domain.ParmNodeLabel:         "edge-router",
		},
	}
}

func TestAdmitCriticalPathDownSuppressesWithDiagnostic(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("on"), stubProber{up: false}, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	decision := gate.Admit(context.Background(), pathOutageEvent())
	if decision.Verdict != VerdictSuppress {
		t.Fatalf("expected suppress, got %+v", decision)
	}
	if decision.Diagnostic == nil {
		t.Fatalf("expected diagnostic event")
	}
	if decision.Diagnostic.UEI != domain.UEIPathOutage {
		t.Fatalf("unexpected diagnostic uei: %q", decision.Diagnostic.UEI)
	}
	if decision.Diagnostic.Parms[domain.ParmCriticalPathSuppress] != "true" {
		t.Fatalf("suppression flag missing: %+v", decision.Diagnostic.Parms)
	}
}

func TestAdmitCriticalPathUpAdmits(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("on"), stubProber{up: true}, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	if decision := gate.Admit(context.Background(), pathOutageEvent()); decision.Verdict != VerdictAdmit {
		t.Fatalf("expected admit, got %+v", decision)
	}
}

func TestAdmitProbeFailureFailsOpen(t *testing.T) {
	t.Parallel()

	gate, err := New(baseConfig("on"), stubProber{err: errors.New("resolver down")}, testLogger())
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	if decision := gate.Admit(context.Background(), pathOutageEvent()); decision.Verdict != VerdictAdmit {
		t.Fatalf("probe failure must admit, got %+v", decision)
	}
}

func TestCalendarCovers(t *testing.T) {
	t.Parallel()

	calendar, err := NewCalendar(map[string]config.OutageConfig{
		"weekly-maint": {
			Window: []config.OutageWindowConfig{{Days: []string{"Su"}, Start: "02:00", End: "04:00"}},
			Nodes:  []int64{7},
		},
		"daily-backup": {
			Window:     []config.OutageWindowConfig{{Start: "01:00", End: "01:30"}},
			Interfaces: []string{"10.0.0.9"},
		},
	})
	if err != nil {
		t.Fatalf("build calendar: %v", err)
	}

	sunday3am := time.Date(2026, 3, 8, 3, 0, 0, 0, time.UTC)
	if name, in := calendar.Covers(7, "", sunday3am); !in || name != "weekly-maint" {
		t.Fatalf("expected weekly-maint coverage, got %q %v", name, in)
	}
	if _, in := calendar.Covers(8, "", sunday3am); in {
		t.Fatalf("node 8 must not be covered")
	}
	monday3am := sunday3am.Add(24 * time.Hour)
	if _, in := calendar.Covers(7, "", monday3am); in {
		t.Fatalf("monday must not be covered by the sunday window")
	}

	daily115 := time.Date(2026, 3, 4, 1, 15, 0, 0, time.UTC)
	if name, in := calendar.Covers(0, "10.0.0.9", daily115); !in || name != "daily-backup" {
		t.Fatalf("expected daily-backup coverage, got %q %v", name, in)
	}
}

func TestCalendarMatchAnyNodeWildcard(t *testing.T) {
	t.Parallel()

	calendar, err := NewCalendar(map[string]config.OutageConfig{
		"freeze": {Window: []config.OutageWindowConfig{{Start: "00:00", End: "24:00"}}},
	})
	if err != nil {
		t.Fatalf("build calendar: %v", err)
	}
	if _, in := calendar.Covers(12345, "192.0.2.1", time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)); !in {
		t.Fatalf("entry without node or interface list must match everything")
	}
}

func TestNewCalendarRejectsBadWindow(t *testing.T) {
	t.Parallel()

	_, err := NewCalendar(map[string]config.OutageConfig{
		"bad": {Window: []config.OutageWindowConfig{{Start: "09:00", End: "08:00"}}},
	})
	if err == nil {
		t.Fatalf("expected window validation error")
	}
}
