package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifyd/internal/config"
)

// webhookPayload is the JSON document posted to a webhook endpoint.
type webhookPayload struct {
	NoticeID   int64             `json:"notice_id"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	TextMsg    string            `json:"text_msg"`
	NumericMsg string            `json:"numeric_msg"`
	Params     map[string]string `json:"params,omitempty"`
}

// webhookSender delivers notices as JSON POSTs to a fixed URL.
// Params: endpoint URL and shared HTTP client.
// Returns: sender for http-type commands.
type webhookSender struct {
	url    string
	client *http.Client
}

// newWebhookSender builds a webhook sender.
// Params: command definition carrying the endpoint URL.
// Returns: sender or validation error.
func newWebhookSender(command config.CommandConfig) (*webhookSender, error) {
	if command.URL == "" {
		return nil, fmt.Errorf("http command requires a url")
	}
	return &webhookSender{
		url:    command.URL,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send posts one message to the webhook endpoint.
// Params: context, recipient address carried in the payload, rendered message.
// Returns: transport error or non-2xx status error.
func (s *webhookSender) Send(ctx context.Context, address string, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		NoticeID:   msg.NoticeID,
		Recipient:  address,
		Subject:    msg.Subject,
		TextMsg:    msg.TextMsg,
		NumericMsg: msg.NumericMsg,
		Params:     msg.Params,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
