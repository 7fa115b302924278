package directory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/domain"
)

// TargetKind is the explicit variant of a destination-path target.
// Params: user/group/role/email constants.
// Returns: classification resolved once per target.
type TargetKind string

const (
	// KindUser addresses one configured user directly.
	KindUser TargetKind = "user"
	// KindGroup addresses all on-duty members of a group.
	KindGroup TargetKind = "group"
	// KindRole addresses the users scheduled for an on-call role.
	KindRole TargetKind = "role"
	// KindEmail addresses a literal email address.
	KindEmail TargetKind = "email"
	// KindUnknown marks an unresolvable target name.
	KindUnknown TargetKind = "unknown"
)

// Resolution is the outcome of expanding one target at a point in time.
// Params: recipients in configured enumeration order and, for an off-duty
// group, the next on-duty transition.
// Returns: recipients consumed by the escalation planner.
type Resolution struct {
	Kind            TargetKind
	Recipients      []domain.Recipient
	NextAvailableAt time.Time
}

// dutyPeriod is one parsed weekly duty window ("MoTuWe0800-1700").
type dutyPeriod struct {
	days     [7]bool
	startMin int
	endMin   int
}

type groupEntry struct {
	cfg    config.GroupConfig
	duties []dutyPeriod
}

type roleWindow struct {
	user     string
	days     [7]bool
	startMin int
	endMin   int
}

type roleEntry struct {
	cfg     config.RoleConfig
	windows []roleWindow
}

// Directory resolves targets against configured users, groups, and roles.
// Params: snapshot-derived entries with pre-parsed schedules.
// Returns: destination resolver rebuilt on every config reload.
type Directory struct {
	users        map[string]config.UserConfig
	groups       map[string]groupEntry
	roles        map[string]roleEntry
	emailCommand string
}

// New builds a directory from one configuration snapshot.
// Params: full snapshot (users, groups, roles, default email command).
// Returns: directory or schedule parse error (rejects the snapshot).
func New(cfg config.Config) (*Directory, error) {
	dir := &Directory{
		users:        cfg.User,
		groups:       make(map[string]groupEntry, len(cfg.Group)),
		roles:        make(map[string]roleEntry, len(cfg.Role)),
		emailCommand: cfg.Service.EmailAddressCommand,
	}
	if dir.users == nil {
		dir.users = map[string]config.UserConfig{}
	}

	for name, group := range cfg.Group {
		duties := make([]dutyPeriod, 0, len(group.Duty))
		for _, raw := range group.Duty {
			period, err := parseDuty(raw)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", name, err)
			}
			duties = append(duties, period)
		}
		dir.groups[name] = groupEntry{cfg: group, duties: duties}
	}

	for name, role := range cfg.Role {
		windows := make([]roleWindow, 0, len(role.Schedule))
		for i, entry := range role.Schedule {
			window, err := parseRoleWindow(entry)
			if err != nil {
				return nil, fmt.Errorf("role %q schedule[%d]: %w", name, i, err)
			}
			windows = append(windows, window)
		}
		dir.roles[name] = roleEntry{cfg: role, windows: windows}
	}

	return dir, nil
}

// Classify resolves one target name into its explicit variant.
// Params: target name from a destination path.
// Returns: group, role, user, literal email, or unknown (checked in that
// order, so a group shadows a same-named user).
func (d *Directory) Classify(name string) TargetKind {
	if _, ok := d.groups[name]; ok {
		return KindGroup
	}
	if _, ok := d.roles[name]; ok {
		return KindRole
	}
	if _, ok := d.users[name]; ok {
		return KindUser
	}
	if strings.Contains(name, "@") {
		return KindEmail
	}
	return KindUnknown
}

// EmailCommand returns the command name used for literal email targets.
// Params: none.
// Returns: configured default email command.
func (d *Directory) EmailCommand() string {
	return d.emailCommand
}

// Resolve expands one target into recipients at the given time.
// Params: target name and evaluation time (duty rosters are time-dependent).
// Returns: resolution with recipients, or error for unknown targets.
func (d *Directory) Resolve(name string, asOf time.Time) (Resolution, error) {
	switch d.Classify(name) {
	case KindGroup:
		return d.resolveGroup(name, asOf), nil
	case KindRole:
		return d.resolveRole(name, asOf), nil
	case KindUser:
		return Resolution{Kind: KindUser, Recipients: []domain.Recipient{d.recipient(name)}}, nil
	case KindEmail:
		return Resolution{Kind: KindEmail, Recipients: []domain.Recipient{{
			UserID:   name,
			Contacts: map[string]string{"email": name},
		}}}, nil
	default:
		return Resolution{Kind: KindUnknown}, fmt.Errorf("unrecognized target %q", name)
	}
}

// CountRecipients counts users reachable through a whole destination path.
// Params: path definition and evaluation time.
// Returns: total user count across the first step and all escalation steps;
// unknown targets count as zero.
func (d *Directory) CountRecipients(path config.PathConfig, asOf time.Time) int {
	total := 0
	count := func(targets []config.TargetConfig) {
		for _, target := range targets {
			switch d.Classify(target.Name) {
			case KindGroup:
				total += len(d.groups[target.Name].cfg.Users)
			case KindRole:
				total += len(d.resolveRole(target.Name, asOf).Recipients)
			case KindUser, KindEmail:
				total++
			}
		}
	}
	count(path.Target)
	for _, step := range path.Escalate {
		count(step.Target)
	}
	return total
}

// resolveGroup expands a group honoring its duty schedule.
// Params: group name and evaluation time.
// Returns: on-duty member recipients or empty set with next transition.
func (d *Directory) resolveGroup(name string, asOf time.Time) Resolution {
	entry := d.groups[name]
	if len(entry.duties) > 0 && !onDuty(entry.duties, asOf) {
		return Resolution{
			Kind:            KindGroup,
			NextAvailableAt: nextOnDuty(entry.duties, asOf),
		}
	}

	recipients := make([]domain.Recipient, 0, len(entry.cfg.Users))
	for _, userID := range entry.cfg.Users {
		recipients = append(recipients, d.recipient(userID))
	}
	return Resolution{Kind: KindGroup, Recipients: recipients}
}

// resolveRole expands an on-call role at the given time.
// Params: role name and evaluation time.
// Returns: scheduled users in declaration order, deduplicated.
func (d *Directory) resolveRole(name string, asOf time.Time) Resolution {
	entry := d.roles[name]
	day := int(asOf.Weekday())
	minute := asOf.Hour()*60 + asOf.Minute()

	seen := make(map[string]bool, len(entry.windows))
	recipients := make([]domain.Recipient, 0, len(entry.windows))
	for _, window := range entry.windows {
		if !window.days[day] || minute < window.startMin || minute >= window.endMin {
			continue
		}
		if seen[window.user] {
			continue
		}
		seen[window.user] = true
		recipients = append(recipients, d.recipient(window.user))
	}
	return Resolution{Kind: KindRole, Recipients: recipients}
}

// recipient builds one addressable recipient from the user table.
// Params: user id.
// Returns: recipient with the user's contact map (empty for unknown ids).
func (d *Directory) recipient(userID string) domain.Recipient {
	user, ok := d.users[userID]
	if !ok {
		return domain.Recipient{UserID: userID}
	}
	contacts := make(map[string]string, len(user.Contacts))
	for medium, address := range user.Contacts {
		contacts[medium] = address
	}
	return domain.Recipient{UserID: userID, Contacts: contacts}
}

// onDuty reports whether any duty window covers the given time.
// Params: parsed windows and evaluation time.
// Returns: true when on duty.
func onDuty(duties []dutyPeriod, asOf time.Time) bool {
	day := int(asOf.Weekday())
	minute := asOf.Hour()*60 + asOf.Minute()
	for _, period := range duties {
		if period.days[day] && minute >= period.startMin && minute < period.endMin {
			return true
		}
	}
	return false
}

// nextOnDuty finds the next duty-window start after the given time.
// Params: parsed windows and evaluation time.
// Returns: next transition or zero time when the group never comes on duty.
func nextOnDuty(duties []dutyPeriod, asOf time.Time) time.Time {
	var next time.Time
	base := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	for offset := 0; offset <= 7; offset++ {
		dayStart := base.AddDate(0, 0, offset)
		day := int(dayStart.Weekday())
		for _, period := range duties {
			if !period.days[day] {
				continue
			}
			candidate := dayStart.Add(time.Duration(period.startMin) * time.Minute)
			if !candidate.After(asOf) {
				continue
			}
			if next.IsZero() || candidate.Before(next) {
				next = candidate
			}
		}
	}
	return next
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

// parseDuty parses one duty string like "MoTuWeThFr0800-1700".
// Params: raw duty string.
// Returns: parsed weekly window or format error.
func parseDuty(raw string) (dutyPeriod, error) {
	value := strings.TrimSpace(raw)
	var period dutyPeriod

	i := 0
	for i+1 < len(value) && !isDigit(value[i]) {
		token := value[i : i+2]
		day, ok := dayTokens[token]
		if !ok {
			return dutyPeriod{}, fmt.Errorf("duty %q: unknown day token %q", raw, token)
		}
		period.days[int(day)] = true
		i += 2
	}
	if i == 0 {
		return dutyPeriod{}, fmt.Errorf("duty %q: no day tokens", raw)
	}

	timePart := value[i:]
	bounds := strings.Split(timePart, "-")
	if len(bounds) != 2 {
		return dutyPeriod{}, fmt.Errorf("duty %q: time range must be HHMM-HHMM", raw)
	}
	start, err := parseHHMM(bounds[0])
	if err != nil {
		return dutyPeriod{}, fmt.Errorf("duty %q: %w", raw, err)
	}
	end, err := parseHHMM(bounds[1])
	if err != nil {
		return dutyPeriod{}, fmt.Errorf("duty %q: %w", raw, err)
	}
	if end <= start {
		return dutyPeriod{}, fmt.Errorf("duty %q: end must be after start", raw)
	}
	period.startMin = start
	period.endMin = end
	return period, nil
}

// parseRoleWindow parses one role schedule entry.
// Params: schedule entry (user, day tokens, HH:MM range).
// Returns: parsed window or format error.
func parseRoleWindow(entry config.RoleScheduleConfig) (roleWindow, error) {
	if strings.TrimSpace(entry.User) == "" {
		return roleWindow{}, errors.New("user is required")
	}
	window := roleWindow{user: entry.User}
	if len(entry.Days) == 0 {
		for i := range window.days {
			window.days[i] = true
		}
	}
	for _, token := range entry.Days {
		day, ok := dayTokens[token]
		if !ok {
			return roleWindow{}, fmt.Errorf("unknown day token %q", token)
		}
		window.days[int(day)] = true
	}

	start, err := parseClock(entry.Start)
	if err != nil {
		return roleWindow{}, err
	}
	end, err := parseClock(entry.End)
	if err != nil {
		return roleWindow{}, err
	}
	if end <= start {
		return roleWindow{}, errors.New("end must be after start")
	}
	window.startMin = start
	window.endMin = end
	return window, nil
}

// parseHHMM parses a compact "HHMM" clock value into day minutes.
// Params: four-digit clock string.
// Returns: minutes since midnight or format error.
func parseHHMM(value string) (int, error) {
	if len(value) != 4 {
		return 0, fmt.Errorf("clock %q must be HHMM", value)
	}
	hours, err := strconv.Atoi(value[:2])
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", value, err)
	}
	minutes, err := strconv.Atoi(value[2:])
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", value, err)
	}
	return clockMinutes(hours, minutes, value)
}

// parseClock parses an "HH:MM" clock value into day minutes.
// Params: colon-separated clock string.
// Returns: minutes since midnight or format error.
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
	return clockMinutes(hours, minutes, value)
}

// clockMinutes validates hour/minute bounds.
// Params: parsed hour/minute and original text for errors.
// Returns: minutes since midnight or range error.
func clockMinutes(hours, minutes int, raw string) (int, error) {
	if hours < 0 || hours > 24 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock %q out of range", raw)
	}
	return hours*60 + minutes, nil
}

// isDigit reports whether a byte is an ASCII digit.
// Params: candidate byte.
// Returns: true for '0'..'9'.
func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
