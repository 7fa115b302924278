package directory

import (
	"testing"
	"time"

	"notifyd/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Service: config.ServiceConfig{EmailAddressCommand: "email"},
		User: map[string]config.UserConfig{
			"alice": {Name: "alice", Contacts: map[string]string{"email": "alice@example.org"}},
			"bob":   {Name: "bob", Contacts: map[string]string{"email": "bob@example.org"}},
			"carol": {Name: "carol", Contacts: map[string]string{"telegram": "1001"}},
		},
		Group: map[string]config.GroupConfig{
			"oncall": {Name: "oncall", Users: []string{"alice", "bob"}, Duty: []string{"MoTuWeThFr0800-1700"}},
			"always": {Name: "always", Users: []string{"carol"}},
		},
		Role: map[string]config.RoleConfig{
			"duty-engineer": {
				Name: "duty-engineer",
				Schedule: []config.RoleScheduleConfig{
					{User: "alice", Days: []string{"Mo"}, Start: "00:00", End: "12:00"},
					{User: "bob", Days: []string{"Mo"}, Start: "12:00", End: "24:00"},
				},
			},
		},
	}
}

// Monday 2026-03-02.
var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestClassifyPrecedence(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	cases := map[string]TargetKind{
		"oncall":           KindGroup,
		"duty-engineer":    KindRole,
		"alice":            KindUser,
		"ops@example.org":  KindEmail,
		"nobody-knows-him": KindUnknown,
	}
	for name, want := range cases {
		if got := dir.Classify(name); got != want {
			t.Fatalf("classify %q: got %q want %q", name, got, want)
		}
	}
}

func TestResolveGroupOnDuty(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	res, err := dir.Resolve("oncall", monday)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 2 {
		t.Fatalf("expected both members, got %d", len(res.Recipients))
	}
	if res.Recipients[0].UserID != "alice" || res.Recipients[1].UserID != "bob" {
		t.Fatalf("member order lost: %+v", res.Recipients)
	}
	if res.Recipients[0].Contacts["email"] != "alice@example.org" {
		t.Fatalf("contacts missing: %+v", res.Recipients[0])
	}
}

func TestResolveGroupOffDutyReportsNextWindow(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	// Saturday afternoon: the weekday-only group is off duty.
	saturday := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)
	res, err := dir.Resolve("oncall", saturday)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 0 {
		t.Fatalf("expected no recipients off duty, got %d", len(res.Recipients))
	}
	wantNext := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	if !res.NextAvailableAt.Equal(wantNext) {
		t.Fatalf("next on duty: got %v want %v", res.NextAvailableAt, wantNext)
	}
}

func TestResolveGroupWithoutDutyIsAlwaysOn(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	sundayNight := time.Date(2026, 3, 8, 2, 30, 0, 0, time.UTC)
	res, err := dir.Resolve("always", sundayNight)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 1 || res.Recipients[0].UserID != "carol" {
		t.Fatalf("unexpected recipients: %+v", res.Recipients)
	}
}

func TestResolveRolePicksScheduledUser(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	res, err := dir.Resolve("duty-engineer", monday)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 1 || res.Recipients[0].UserID != "alice" {
		t.Fatalf("expected alice before noon, got %+v", res.Recipients)
	}

	res, err = dir.Resolve("duty-engineer", monday.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 1 || res.Recipients[0].UserID != "bob" {
		t.Fatalf("expected bob after noon, got %+v", res.Recipients)
	}
}

func TestResolveEmailTarget(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	res, err := dir.Resolve("ops@example.org", monday)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 1 {
		t.Fatalf("expected one recipient, got %d", len(res.Recipients))
	}
	if res.Recipients[0].Contacts["email"] != "ops@example.org" {
		t.Fatalf("literal address lost: %+v", res.Recipients[0])
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}
	if _, err := dir.Resolve("ghost", monday); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

func TestCountRecipientsAcrossSteps(t *testing.T) {
	t.Parallel()

	dir, err := New(testConfig())
	if err != nil {
		t.Fatalf("build directory: %v", err)
	}

	path := config.PathConfig{
		Target: []config.TargetConfig{{Name: "alice"}},
		Escalate: []config.EscalateConfig{
			{Target: []config.TargetConfig{{Name: "oncall"}}},
		},
	}
	if got := dir.CountRecipients(path, monday); got != 3 {
		t.Fatalf("expected 3 recipients, got %d", got)
	}
}

func TestParseDutyRejectsMalformed(t *testing.T) {
	t.Parallel()

	bad := []string{"", "0800-1700", "Xx0800-1700", "Mo08001700", "Mo1700-0800"}
	for _, raw := range bad {
		if _, err := parseDuty(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestParseDutyMultiDay(t *testing.T) {
	t.Parallel()

	period, err := parseDuty("SaSu0000-2400")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !period.days[int(time.Saturday)] || !period.days[int(time.Sunday)] {
		t.Fatalf("weekend days not set: %+v", period.days)
	}
	if period.days[int(time.Monday)] {
		t.Fatalf("monday should not be set")
	}
	if period.startMin != 0 || period.endMin != 24*60 {
		t.Fatalf("unexpected window: %d-%d", period.startMin, period.endMin)
	}
}
