package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"notifyd/internal/config"
	"notifyd/internal/domain"
	"notifyd/internal/faults"
	"notifyd/internal/params"
)

// Message is one rendered delivery handed to a sender.
// Params: subject, full text, and the short numeric body for pager-style media.
// Returns: transport-independent payload.
type Message struct {
	NoticeID   int64
	Subject    string
	TextMsg    string
	NumericMsg string
	Params     map[string]string
}

// Sender delivers one message to one address over one medium.
// Params: context, destination address, and rendered message.
// Returns: delivery error; callers classify it, senders never retry.
type Sender interface {
	Send(ctx context.Context, address string, msg Message) error
}

// entry pairs one configured command with its constructed sender.
type entry struct {
	cfg    config.CommandConfig
	sender Sender
}

// Registry maps command names onto constructed senders.
// Params: snapshot command section.
// Returns: delivery front-end used by the dispatch pool.
type Registry struct {
	entries map[string]entry
	log     *slog.Logger
}

// NewRegistry constructs senders for every configured command.
// Params: context for client setup, command section, and logger.
// Returns: registry or construction error (rejects the snapshot).
func NewRegistry(ctx context.Context, commands map[string]config.CommandConfig, log *slog.Logger) (*Registry, error) {
	entries := make(map[string]entry, len(commands))
	for name, command := range commands {
		sender, err := buildSender(ctx, command)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}
		entries[name] = entry{cfg: command, sender: sender}
	}
	return &Registry{entries: entries, log: log}, nil
}

// buildSender constructs one sender for a command definition.
// Params: setup context and command definition.
// Returns: sender or construction error.
func buildSender(ctx context.Context, command config.CommandConfig) (Sender, error) {
	switch command.Type {
	case config.CommandTypeEmail:
		return newEmailSender(ctx, command)
	case config.CommandTypeTelegram:
		return newTelegramSender(command)
	case config.CommandTypeHTTP:
		return newWebhookSender(command)
	case config.CommandTypeExec:
		return newExecSender(command), nil
	default:
		return nil, fmt.Errorf("unsupported command type %q", command.Type)
	}
}

// Deliver runs every command of one task against its recipient.
// Params: context and dispatched task.
// Returns: nil when all commands accepted the message; otherwise the first
// delivery error, classified as a delivery fault.
func (r *Registry) Deliver(ctx context.Context, task domain.DeliveryTask) error {
	msg := Message{
		NoticeID:   task.NoticeID,
		Subject:    task.Params[params.KeySubject],
		TextMsg:    task.Params[params.KeyTextMsg],
		NumericMsg: task.Params[params.KeyNumericMsg],
		Params:     task.Params,
	}

	for _, name := range task.Commands {
		cmd, ok := r.entries[name]
		if !ok {
			return faults.Mark(faults.ClassDelivery, fmt.Errorf("unknown command %q", name))
		}

		address, err := resolveAddress(cmd.cfg, task.Recipient)
		if err != nil {
			return faults.Mark(faults.ClassDelivery, err)
		}

		if err := cmd.sender.Send(ctx, address, msg); err != nil {
			return faults.Mark(faults.ClassDelivery,
				fmt.Errorf("command %q to %q: %w", name, task.Recipient.UserID, err))
		}
		r.log.Debug("delivered",
			"notice", task.NoticeID, "command", name, "user", task.Recipient.UserID)
	}
	return nil
}

// resolveAddress picks the recipient address for one command.
// Params: command definition and resolved recipient.
// Returns: contact address or error when the medium is missing.
func resolveAddress(cmd config.CommandConfig, recipient domain.Recipient) (string, error) {
	medium := cmd.ContactType
	if medium == "" {
		medium = defaultContactType(cmd.Type)
	}
	if medium == "" {
		return "", nil
	}
	address, ok := recipient.Contacts[medium]
	if !ok || strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("user %q has no %q contact", recipient.UserID, medium)
	}
	return address, nil
}

// defaultContactType maps a command type to its conventional contact medium.
// Params: command type.
// Returns: contact medium or empty when the transport needs no address.
func defaultContactType(commandType string) string {
	switch commandType {
	case config.CommandTypeEmail:
		return "email"
	case config.CommandTypeTelegram:
		return "telegram"
	default:
		return ""
	}
}
