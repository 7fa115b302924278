package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validSnapshot = `
[service]
daemon_name = "Notifyd"
notifications = "on"
email_address_command = "email"

[command.email]
type = "email"
contact_type = "email"
from = "noc@example.org"

[notification.node-down]
uei = "uei.test/nodeDown"
destination_path = "oncall"
subject = "node %nodeid% down"

[path.oncall]
initial_delay = "1m"

[[path.oncall.target]]
name = "alice"
interval = "2m"
commands = ["email"]

[user.alice]
full_name = "Alice"
[user.alice.contacts]
email = "a@example.org"
`

func writeSnapshot(t *testing.T, body string) ConfigSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifyd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return ConfigSource{File: path}
}

func TestLoadSnapshotAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadSnapshot(writeSnapshot(t, validSnapshot))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.MaxWorkers != 8 {
		t.Fatalf("default max workers: %d", cfg.Service.MaxWorkers)
	}
	if cfg.Service.WorkerIdle.Std() != 60*time.Second {
		t.Fatalf("default worker idle: %v", cfg.Service.WorkerIdle.Std())
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Fatalf("default store backend: %q", cfg.Store.Backend)
	}
	if cfg.Notification["node-down"].Queue != "default" {
		t.Fatalf("default queue: %q", cfg.Notification["node-down"].Queue)
	}
	if cfg.Notification["node-down"].Name != "node-down" {
		t.Fatalf("name fill: %q", cfg.Notification["node-down"].Name)
	}
	if got := cfg.Path["oncall"].Target[0].Interval.Std(); got != 2*time.Minute {
		t.Fatalf("interval parse: %v", got)
	}
}

func TestLoadSnapshotMissingNotificationsDefaultsOff(t *testing.T) {
	t.Parallel()

	body := strings.Replace(validSnapshot, "notifications = \"on\"\n", "", 1)
	cfg, err := LoadSnapshot(writeSnapshot(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.NotificationsOn() {
		t.Fatalf("missing status must mean off")
	}
}

func TestLoadSnapshotRejectsUnknownPathReference(t *testing.T) {
	t.Parallel()

	body := strings.Replace(validSnapshot, `destination_path = "oncall"`, `destination_path = "ghost"`, 1)
	if _, err := LoadSnapshot(writeSnapshot(t, body)); err == nil {
		t.Fatalf("expected unknown path error")
	}
}

func TestLoadSnapshotRejectsUnknownCommandReference(t *testing.T) {
	t.Parallel()

	body := strings.Replace(validSnapshot, `commands = ["email"]`, `commands = ["pager"]`, 1)
	if _, err := LoadSnapshot(writeSnapshot(t, body)); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestLoadSnapshotRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	body := validSnapshot + "\n[service2]\nbogus = true\n"
	if _, err := LoadSnapshot(writeSnapshot(t, body)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadSnapshotRejectsSQLiteWithoutPath(t *testing.T) {
	t.Parallel()

	body := validSnapshot + "\n[store]\nbackend = \"sqlite\"\n"
	if _, err := LoadSnapshot(writeSnapshot(t, body)); err == nil {
		t.Fatalf("expected sqlite path error")
	}
}

func TestLoadSnapshotRejectsBadNotificationStatus(t *testing.T) {
	t.Parallel()

	body := strings.Replace(validSnapshot, "uei = \"uei.test/nodeDown\"\n",
		"uei = \"uei.test/nodeDown\"\nstatus = \"sometimes\"\n", 1)
	if _, err := LoadSnapshot(writeSnapshot(t, body)); err == nil {
		t.Fatalf("expected status validation error")
	}
}

func TestLoadDirMergesSortedFragments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := `
[service]
daemon_name = "Notifyd"
notifications = "off"
email_address_command = "email"

[command.email]
type = "email"
contact_type = "email"
from = "noc@example.org"

[path.oncall]
[[path.oncall.target]]
name = "alice"
commands = ["email"]

[user.alice]
full_name = "Alice"
`
	overlay := `
[service]
daemon_name = "Notifyd"
notifications = "on"
email_address_command = "email"

[notification.node-down]
uei = "uei.test/nodeDown"
destination_path = "oncall"
`
	if err := os.WriteFile(filepath.Join(dir, "10-base.toml"), []byte(base), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-overlay.toml"), []byte(overlay), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if !cfg.Service.NotificationsOn() {
		t.Fatalf("later fragment must win the service section")
	}
	if _, ok := cfg.Notification["node-down"]; !ok {
		t.Fatalf("overlay notification missing")
	}
	if _, ok := cfg.Path["oncall"]; !ok {
		t.Fatalf("base path lost in merge")
	}
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error for no source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error for both sources")
	}
	src, err := FromCLI("a.toml", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("file source: %+v %v", src, err)
	}
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	var d Duration
	if err := d.UnmarshalText([]byte("5m")); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Std() != 5*time.Minute {
		t.Fatalf("unexpected duration: %v", d.Std())
	}
	if err := d.UnmarshalText([]byte("tomorrow")); err == nil {
		t.Fatalf("expected parse error")
	}
}
