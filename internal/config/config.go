package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultDaemonName      = "Notifyd"
	defaultQueueID         = "default"
	defaultMaxWorkers      = 8
	defaultWorkerIdle      = Duration(60 * time.Second)
	defaultEmailCommand    = "email"
	defaultResolutionPfx   = "RESOLVED: "
	defaultBusSubject      = "notifyd.events"
	defaultBusEmitSubject  = "notifyd.emitted"
	defaultBusStream       = "NOTIFYD_EVENTS"
	defaultBusConsumer     = "notifyd-ingest"
	defaultBusDeliverGroup = "notifyd-workers"
	defaultBusURL          = "nats://127.0.0.1:4222"
	defaultBusAckWaitSec   = 30
	defaultBusNackDelayMS  = 1000
	defaultBusMaxDeliver   = -1
	defaultBusMaxPending   = 2048

	// StatusOn enables notification scheduling globally.
	StatusOn = "on"
	// StatusOff disables notification scheduling globally.
	StatusOff = "off"

	// StoreBackendMemory keeps notice records in process memory.
	StoreBackendMemory = "memory"
	// StoreBackendSQLite keeps notice records in a local SQLite database.
	StoreBackendSQLite = "sqlite"

	// CommandTypeEmail delivers through the SES email sender.
	CommandTypeEmail = "email"
	// CommandTypeTelegram delivers through the Telegram bot sender.
	CommandTypeTelegram = "telegram"
	// CommandTypeHTTP delivers through a generic webhook POST.
	CommandTypeHTTP = "http"
	// CommandTypeExec delivers by running a local binary.
	CommandTypeExec = "exec"
)

// Duration is a TOML-friendly wrapper over time.Duration.
// Params: Go duration string in config values ("30s", "5m").
// Returns: parsed duration usable in arithmetic.
type Duration time.Duration

// UnmarshalText parses a duration string from TOML.
// Params: raw text value.
// Returns: parse error for malformed durations.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts the wrapper into time.Duration.
// Params: none.
// Returns: standard duration value.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the full notifyd runtime snapshot.
// Params: TOML sections from one file or a merged directory.
// Returns: validated runtime configuration.
type Config struct {
	Service      ServiceConfig                 `toml:"service"`
	Log          LogConfig                     `toml:"log"`
	Bus          BusConfig                     `toml:"bus"`
	Store        StoreConfig                   `toml:"store"`
	Notification map[string]NotificationConfig `toml:"notification"`
	Path         map[string]PathConfig         `toml:"path"`
	User         map[string]UserConfig         `toml:"user"`
	Group        map[string]GroupConfig        `toml:"group"`
	Role         map[string]RoleConfig         `toml:"role"`
	Command      map[string]CommandConfig      `toml:"command"`
	AutoAck      []AutoAckRule                 `toml:"auto_ack"`
	AutoAckAlarm AutoAckAlarmConfig            `toml:"auto_ack_alarm"`
	Outage       map[string]OutageConfig       `toml:"outage"`
}

// ServiceConfig contains process-level settings.
// Params: daemon identity, worker pool sizing, and global notification switch.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name                string   `toml:"name"`
	DaemonName          string   `toml:"daemon_name"`
	Notifications       string   `toml:"notifications"`
	MaxWorkers          int      `toml:"max_workers"`
	WorkerIdle          Duration `toml:"worker_idle"`
	EmailAddressCommand string   `toml:"email_address_command"`
}

// NotificationsOn reports the global notification switch.
// Params: none.
// Returns: true only when status is explicitly "on" (unknown means off).
func (s ServiceConfig) NotificationsOn() bool {
	return strings.EqualFold(strings.TrimSpace(s.Notifications), StatusOn)
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// BusConfig configures the NATS event bus attachment.
// Params: connection, JetStream consumer, and outbound subject settings.
// Returns: bus behavior (disabled bus keeps the daemon in loopback mode).
type BusConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	Consumer      string   `toml:"consumer"`
	DeliverGroup  string   `toml:"deliver_group"`
	EmitSubject   string   `toml:"emit_subject"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StoreConfig selects the notice record backend.
// Params: backend name and sqlite path.
// Returns: persistence options.
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// NotificationConfig maps one event UEI to a notification rule.
// Params: trigger UEI, queue routing, destination path, and message bodies.
// Returns: rule consumed by the core processor.
type NotificationConfig struct {
	Name            string            `toml:"-"`
	UEI             string            `toml:"uei"`
	Status          string            `toml:"status"`
	Queue           string            `toml:"queue"`
	DestinationPath string            `toml:"destination_path"`
	Subject         string            `toml:"subject"`
	TextMessage     string            `toml:"text_message"`
	NumericMessage  string            `toml:"numeric_message"`
	Parameters      map[string]string `toml:"parameters"`
}

// Active reports whether one notification rule may schedule notices.
// Params: none.
// Returns: false only when status is explicitly "off"; a missing or
// unrecognized value keeps the rule active.
func (n NotificationConfig) Active() bool {
	return !strings.EqualFold(strings.TrimSpace(n.Status), StatusOff)
}

// TargetConfig names one delivery target inside a path step.
// Params: target name, intra-step stagger interval, disposition, commands.
// Returns: declaration-ordered target definition.
type TargetConfig struct {
	Name       string   `toml:"name"`
	Interval   Duration `toml:"interval"`
	AutoNotify string   `toml:"auto_notify"`
	Commands   []string `toml:"commands"`
}

// EscalateConfig is one escalation step after the initial targets.
// Params: delay relative to the previous step and the step's targets.
// Returns: ordered escalation definition.
type EscalateConfig struct {
	Delay  Duration       `toml:"delay"`
	Target []TargetConfig `toml:"target"`
}

// PathConfig is one named destination path.
// Params: initial delay, first-step targets, and escalation steps.
// Returns: escalation chain definition re-read per notice.
type PathConfig struct {
	Name         string           `toml:"-"`
	InitialDelay Duration         `toml:"initial_delay"`
	Target       []TargetConfig   `toml:"target"`
	Escalate     []EscalateConfig `toml:"escalate"`
}

// UserConfig is one directly addressable user.
// Params: display name and contact media map (medium -> address).
// Returns: directory user entry.
type UserConfig struct {
	Name     string            `toml:"-"`
	FullName string            `toml:"full_name"`
	Contacts map[string]string `toml:"contacts"`
}

// GroupConfig is one user group with optional duty schedules.
// Params: member list (order preserved) and duty strings ("MoTuWe0800-1700").
// Returns: directory group entry.
type GroupConfig struct {
	Name  string   `toml:"-"`
	Users []string `toml:"users"`
	Duty  []string `toml:"duty"`
}

// RoleScheduleConfig assigns one user to a role for a weekly window.
// Params: user id, day tokens, and HH:MM range.
// Returns: one on-call rotation entry.
type RoleScheduleConfig struct {
	User  string   `toml:"user"`
	Days  []string `toml:"days"`
	Start string   `toml:"start"`
	End   string   `toml:"end"`
}

// RoleConfig is one on-call role with its rotation schedule.
// Params: supervisor and schedule entries.
// Returns: directory role entry.
type RoleConfig struct {
	Name       string               `toml:"-"`
	Supervisor string               `toml:"supervisor"`
	Schedule   []RoleScheduleConfig `toml:"schedule"`
}

// CommandConfig describes one delivery command executed by the sink.
// Params: transport type, required contact medium, and transport settings.
// Returns: command definition referenced by path targets.
type CommandConfig struct {
	Name        string   `toml:"-"`
	Type        string   `toml:"type"`
	ContactType string   `toml:"contact_type"`
	From        string   `toml:"from"`
	Token       string   `toml:"token"`
	URL         string   `toml:"url"`
	Binary      string   `toml:"binary"`
	Args        []string `toml:"args"`
}

// AutoAckRule cancels open notices when a correlated event arrives.
// Params: arriving event UEI, acknowledged trigger UEI, and match predicates
// evaluated against the triggering notice's original parameters.
// Returns: one auto-acknowledge rule.
type AutoAckRule struct {
	UEI              string   `toml:"uei"`
	Acknowledge      string   `toml:"acknowledge"`
	Matches          []string `toml:"matches"`
	Notify           bool     `toml:"notify"`
	ResolutionPrefix string   `toml:"resolution_prefix"`
}

// AutoAckAlarmConfig enables alarm-keyed acknowledgement.
// Params: optional UEI allow-list and resolution fan-out toggle.
// Returns: alarm acknowledgement settings.
type AutoAckAlarmConfig struct {
	Enabled          bool     `toml:"enabled"`
	UEIs             []string `toml:"ueis"`
	Notify           bool     `toml:"notify"`
	ResolutionPrefix string   `toml:"resolution_prefix"`
}

// OutageWindowConfig is one recurring maintenance window.
// Params: day tokens (empty means daily) and HH:MM range.
// Returns: window definition for the outage calendar.
type OutageWindowConfig struct {
	Days  []string `toml:"days"`
	Start string   `toml:"start"`
	End   string   `toml:"end"`
}

// OutageConfig is one scheduled-outage calendar entry.
// Params: windows plus node/interface applicability ("match-any" wildcard).
// Returns: calendar entry suppressing notices during maintenance.
type OutageConfig struct {
	Name       string               `toml:"-"`
	Window     []OutageWindowConfig `toml:"window"`
	Nodes      []int64              `toml:"nodes"`
	Interfaces []string             `toml:"interfaces"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	fillNames(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes one TOML snapshot file.
// Params: file path.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	decoder := toml.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir merges sorted *.toml fragments from one directory.
// Params: directory path.
// Returns: merged config or first load error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config dir %q contains no *.toml files", dir)
	}
	sort.Strings(names)

	var merged Config
	for _, name := range names {
		fragment, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays one fragment onto the accumulated snapshot.
// Params: destination snapshot and decoded fragment.
// Returns: maps merged by key, list/scalar sections overwritten when present.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.Bus.Enabled || len(src.Bus.URL) > 0 || src.Bus.Subject != "" {
		dst.Bus = src.Bus
	}
	if src.Store != (StoreConfig{}) {
		dst.Store = src.Store
	}
	dst.Notification = mergeMap(dst.Notification, src.Notification)
	dst.Path = mergeMap(dst.Path, src.Path)
	dst.User = mergeMap(dst.User, src.User)
	dst.Group = mergeMap(dst.Group, src.Group)
	dst.Role = mergeMap(dst.Role, src.Role)
	dst.Command = mergeMap(dst.Command, src.Command)
	dst.Outage = mergeMap(dst.Outage, src.Outage)
	if len(src.AutoAck) > 0 {
		dst.AutoAck = append(dst.AutoAck, src.AutoAck...)
	}
	if src.AutoAckAlarm.Enabled || len(src.AutoAckAlarm.UEIs) > 0 {
		dst.AutoAckAlarm = src.AutoAckAlarm
	}
}

// mergeMap overlays fragment map entries by key.
// Params: destination and source maps.
// Returns: merged map (allocated on demand).
func mergeMap[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

// applyDefaults fills unset values with runtime defaults.
// Params: mutable decoded snapshot.
// Returns: snapshot updated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "notifyd"
	}
	if cfg.Service.DaemonName == "" {
		cfg.Service.DaemonName = defaultDaemonName
	}
	if cfg.Service.Notifications == "" {
		cfg.Service.Notifications = StatusOff
	}
	if cfg.Service.MaxWorkers == 0 {
		cfg.Service.MaxWorkers = defaultMaxWorkers
	}
	if cfg.Service.WorkerIdle == 0 {
		cfg.Service.WorkerIdle = defaultWorkerIdle
	}
	if cfg.Service.EmailAddressCommand == "" {
		cfg.Service.EmailAddressCommand = defaultEmailCommand
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console = LogSinkConfig{Enabled: true, Level: "info", Format: "line"}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}

	if cfg.Bus.Enabled {
		if len(cfg.Bus.URL) == 0 {
			cfg.Bus.URL = []string{defaultBusURL}
		}
		if cfg.Bus.Subject == "" {
			cfg.Bus.Subject = defaultBusSubject
		}
		if cfg.Bus.EmitSubject == "" {
			cfg.Bus.EmitSubject = defaultBusEmitSubject
		}
		if cfg.Bus.Stream == "" {
			cfg.Bus.Stream = defaultBusStream
		}
		if cfg.Bus.Consumer == "" {
			cfg.Bus.Consumer = defaultBusConsumer
		}
		if cfg.Bus.DeliverGroup == "" {
			cfg.Bus.DeliverGroup = defaultBusDeliverGroup
		}
		if cfg.Bus.AckWaitSec == 0 {
			cfg.Bus.AckWaitSec = defaultBusAckWaitSec
		}
		if cfg.Bus.NackDelayMS == 0 {
			cfg.Bus.NackDelayMS = defaultBusNackDelayMS
		}
		if cfg.Bus.MaxDeliver == 0 {
			cfg.Bus.MaxDeliver = defaultBusMaxDeliver
		}
		if cfg.Bus.MaxAckPending == 0 {
			cfg.Bus.MaxAckPending = defaultBusMaxPending
		}
	}

	for i := range cfg.AutoAck {
		if cfg.AutoAck[i].ResolutionPrefix == "" {
			cfg.AutoAck[i].ResolutionPrefix = defaultResolutionPfx
		}
	}
	if cfg.AutoAckAlarm.Enabled && cfg.AutoAckAlarm.ResolutionPrefix == "" {
		cfg.AutoAckAlarm.ResolutionPrefix = defaultResolutionPfx
	}

	for name, notification := range cfg.Notification {
		if notification.Queue == "" {
			notification.Queue = defaultQueueID
			cfg.Notification[name] = notification
		}
	}
}

// fillNames copies map keys into the Name field of map-valued sections.
// Params: mutable decoded snapshot.
// Returns: snapshot updated in place.
func fillNames(cfg *Config) {
	for name, value := range cfg.Notification {
		value.Name = name
		cfg.Notification[name] = value
	}
	for name, value := range cfg.Path {
		value.Name = name
		cfg.Path[name] = value
	}
	for name, value := range cfg.User {
		value.Name = name
		cfg.User[name] = value
	}
	for name, value := range cfg.Group {
		value.Name = name
		cfg.Group[name] = value
	}
	for name, value := range cfg.Role {
		value.Name = name
		cfg.Role[name] = value
	}
	for name, value := range cfg.Command {
		value.Name = name
		cfg.Command[name] = value
	}
	for name, value := range cfg.Outage {
		value.Name = name
		cfg.Outage[name] = value
	}
}

// validateConfig checks cross-references inside one snapshot.
// Params: decoded snapshot with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendSQLite:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return errors.New("store.path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", cfg.Store.Backend)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Service.Notifications)) {
	case StatusOn, StatusOff:
	default:
		return fmt.Errorf("service.notifications must be %q or %q", StatusOn, StatusOff)
	}

	for name, notification := range cfg.Notification {
		if strings.TrimSpace(notification.UEI) == "" {
			return fmt.Errorf("notification %q: uei is required", name)
		}
		switch strings.ToLower(strings.TrimSpace(notification.Status)) {
		case "", StatusOn, StatusOff:
		default:
			return fmt.Errorf("notification %q: status must be %q or %q", name, StatusOn, StatusOff)
		}
		if notification.DestinationPath == "" {
			return fmt.Errorf("notification %q: destination_path is required", name)
		}
		if _, ok := cfg.Path[notification.DestinationPath]; !ok {
			return fmt.Errorf("notification %q: unknown destination_path %q", name, notification.DestinationPath)
		}
	}

	for name, path := range cfg.Path {
		if len(path.Target) == 0 && len(path.Escalate) == 0 {
			return fmt.Errorf("path %q: at least one target or escalate step is required", name)
		}
		if err := validateTargets(cfg, name, path.Target); err != nil {
			return err
		}
		for i, step := range path.Escalate {
			if len(step.Target) == 0 {
				return fmt.Errorf("path %q: escalate[%d] has no targets", name, i)
			}
			if err := validateTargets(cfg, name, step.Target); err != nil {
				return err
			}
		}
	}

	for name, command := range cfg.Command {
		switch command.Type {
		case CommandTypeEmail, CommandTypeTelegram, CommandTypeHTTP, CommandTypeExec:
		default:
			return fmt.Errorf("command %q: unsupported type %q", name, command.Type)
		}
		if command.Type == CommandTypeExec && strings.TrimSpace(command.Binary) == "" {
			return fmt.Errorf("command %q: binary is required for exec type", name)
		}
	}

	if _, ok := cfg.Command[cfg.Service.EmailAddressCommand]; !ok && len(cfg.Notification) > 0 {
		return fmt.Errorf("service.email_address_command %q is not a configured command", cfg.Service.EmailAddressCommand)
	}

	for i, rule := range cfg.AutoAck {
		if strings.TrimSpace(rule.UEI) == "" || strings.TrimSpace(rule.Acknowledge) == "" {
			return fmt.Errorf("auto_ack[%d]: uei and acknowledge are required", i)
		}
	}

	for name, group := range cfg.Group {
		if len(group.Users) == 0 {
			return fmt.Errorf("group %q: users list is empty", name)
		}
	}
	return nil
}

// validateTargets checks target command references inside one path.
// Params: snapshot, owning path name, and target list.
// Returns: first reference error.
func validateTargets(cfg Config, pathName string, targets []TargetConfig) error {
	for _, target := range targets {
		if strings.TrimSpace(target.Name) == "" {
			return fmt.Errorf("path %q: target name is required", pathName)
		}
		for _, command := range target.Commands {
			if _, ok := cfg.Command[command]; !ok {
				return fmt.Errorf("path %q: target %q references unknown command %q", pathName, target.Name, command)
			}
		}
		switch target.AutoNotify {
		case "", "always", "never", "conditional":
		default:
			return fmt.Errorf("path %q: target %q has unsupported auto_notify %q", pathName, target.Name, target.AutoNotify)
		}
	}
	return nil
}
