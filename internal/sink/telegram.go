package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"

	"notifyd/internal/config"
)

// telegramAPI is the bot surface used by the telegram sender.
// Params: send-message call only.
// Returns: narrow interface so tests can substitute the bot.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (any, error)
}

// botAdapter wraps *bot.Bot behind telegramAPI.
type botAdapter struct {
	bot *bot.Bot
}

// SendMessage forwards to the underlying bot client.
// Params: context and message parameters.
// Returns: sent message or API error.
func (a botAdapter) SendMessage(ctx context.Context, params *bot.SendMessageParams) (any, error) {
	msg, err := a.bot.SendMessage(ctx, params)
	return msg, err
}

// telegramSender delivers notices through a Telegram bot.
// Params: constructed bot client.
// Returns: sender for telegram-type commands.
type telegramSender struct {
	api telegramAPI
}

// newTelegramSender builds a bot-backed telegram sender.
// Params: command definition carrying the bot token.
// Returns: sender or bot construction error.
func newTelegramSender(command config.CommandConfig) (*telegramSender, error) {
	if command.Token == "" {
		return nil, fmt.Errorf("telegram command requires a token")
	}
	b, err := bot.New(command.Token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &telegramSender{api: botAdapter{bot: b}}, nil
}

// Send delivers one message to one chat.
// Params: context, chat id (numeric id or @channel name), rendered message.
// Returns: Telegram API error on rejection.
func (s *telegramSender) Send(ctx context.Context, address string, msg Message) error {
	var chatID any = address
	if numeric, err := strconv.ParseInt(address, 10, 64); err == nil {
		chatID = numeric
	}

	text := msg.Subject
	if msg.TextMsg != "" {
		text = msg.Subject + "\n" + msg.TextMsg
	}

	_, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %q: %w", address, err)
	}
	return nil
}
