package params

import (
	"fmt"
	"strconv"
	"strings"

	"notifyd/internal/domain"
)

// Well-known parameter keys placed into every notice parameter map.
const (
	KeyNoticeID   = "noticeid"
	KeyEventID    = "eventID"
	KeyEventUEI   = "eventUEI"
	KeyNode       = "nodeid"
	KeyInterface  = "interface"
	KeyService    = "service"
	KeySubject    = "subject"
	KeyTextMsg    = "textMsg"
	KeyNumericMsg = "numMsg"
)

// Scope resolves parameter names to values at one layer.
// Params: parameter key lookup.
// Returns: value and presence flag.
type Scope interface {
	Lookup(key string) (string, bool)
}

// MapScope is a plain map-backed scope layer.
// Params: immutable key/value entries.
// Returns: scope implementation.
type MapScope map[string]string

// Lookup returns one entry from the map layer.
// Params: parameter key.
// Returns: value and presence flag.
func (s MapScope) Lookup(key string) (string, bool) {
	value, ok := s[key]
	return value, ok
}

// Resolver layers scopes with last-match-wins precedence.
// Params: scopes ordered from least to most specific
// (node -> interface -> service -> notice-local overrides).
// Returns: layered lookup helper.
type Resolver struct {
	scopes []Scope
}

// NewResolver builds a resolver over ordered scope layers.
// Params: scopes from least to most specific; nil entries are skipped.
// Returns: initialized resolver.
func NewResolver(scopes ...Scope) *Resolver {
	kept := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		kept = append(kept, scope)
	}
	return &Resolver{scopes: kept}
}

// Lookup resolves one key across layers, most specific layer winning.
// Params: parameter key.
// Returns: value and presence flag.
func (r *Resolver) Lookup(key string) (string, bool) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if value, ok := r.scopes[i].Lookup(key); ok {
			return value, true
		}
	}
	return "", false
}

// Expand replaces %name% tokens in a template using the resolver layers.
// Params: template body with %name% tokens.
// Returns: expanded text; unknown tokens are left untouched.
func (r *Resolver) Expand(template string) string {
	return expandTokens(template, r.Lookup)
}

// Expand replaces %name% tokens using one flat parameter map.
// Params: template body and parameter map.
// Returns: expanded text; unknown tokens are left untouched.
func Expand(template string, values map[string]string) string {
	return expandTokens(template, func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})
}

// expandTokens walks %name% tokens and substitutes resolved values.
// Params: template body and lookup function.
// Returns: expanded text.
func expandTokens(template string, lookup func(string) (string, bool)) string {
	if !strings.Contains(template, "%") {
		return template
	}

	var builder strings.Builder
	builder.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '%')
		if open < 0 {
			builder.WriteString(rest)
			return builder.String()
		}
		end := strings.IndexByte(rest[open+1:], '%')
		if end < 0 {
			builder.WriteString(rest)
			return builder.String()
		}
		end += open + 1

		name := rest[open+1 : end]
		value, ok := lookup(name)
		if !ok {
			// Token stays literal; the leading '%' may open the next token.
			builder.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		builder.WriteString(rest[:open])
		builder.WriteString(value)
		rest = rest[end+1:]
	}
}

// BuildNoticeParams assembles the immutable parameter snapshot for one notice.
// Params: notification message templates, triggering event, allocated notice
// id, and notice-local parameter overrides.
// Returns: flat parameter map captured at notice creation.
func BuildNoticeParams(subject, textMsg, numericMsg string, event domain.Event, noticeID int64, overrides map[string]string) map[string]string {
	base := MapScope{
		KeyNoticeID:  strconv.FormatInt(noticeID, 10),
		KeyEventID:   strconv.FormatInt(event.ID, 10),
		KeyEventUEI:  event.UEI,
		KeyNode:      strconv.FormatInt(event.NodeID, 10),
		KeyInterface: event.Interface,
		KeyService:   event.Service,
	}

	resolver := NewResolver(MapScope(event.Parms), base, MapScope(overrides))

	out := make(map[string]string, len(event.Parms)+len(overrides)+8)
	for key, value := range event.Parms {
		out[key] = value
	}
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overrides {
		out[key] = value
	}

	out[KeySubject] = resolver.Expand(defaultSubject(subject, noticeID))
	out[KeyTextMsg] = resolver.Expand(defaultTextMsg(textMsg))
	out[KeyNumericMsg] = resolver.Expand(defaultNumericMsg(numericMsg, noticeID))
	return out
}

// defaultSubject falls back to a numbered subject line.
// Params: configured subject template and notice id.
// Returns: template or default subject.
func defaultSubject(subject string, noticeID int64) string {
	if strings.TrimSpace(subject) != "" {
		return subject
	}
	return fmt.Sprintf("Notice #%d", noticeID)
}

// defaultTextMsg falls back to a placeholder body.
// Params: configured text template.
// Returns: template or default body.
func defaultTextMsg(textMsg string) string {
	if strings.TrimSpace(textMsg) != "" {
		return textMsg
	}
	return "No text message supplied."
}

// defaultNumericMsg falls back to a numeric pager code.
// Params: configured numeric template and notice id.
// Returns: template or default numeric message.
func defaultNumericMsg(numericMsg string, noticeID int64) string {
	if strings.TrimSpace(numericMsg) != "" {
		return numericMsg
	}
	return fmt.Sprintf("111-%d", noticeID)
}
