package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers operator-facing messages. All sends are best effort;
// critical messages are retried harder.
type Notifier interface {
	SendMessage(ctx context.Context, text string, critical bool) error
	SendDecisionCard(ctx context.Context, requestID, message string) error
}

// TelegramNotifier talks to the Telegram Bot API directly.
type TelegramNotifier struct {
	token      string
	chatID     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewTelegramNotifier(token, chatID string, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// Configured reports whether the notifier can actually deliver anything.
func (n *TelegramNotifier) Configured() bool {
	return n.token != "" && n.chatID != ""
}

var retryBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

func (n *TelegramNotifier) SendMessage(ctx context.Context, text string, critical bool) error {
	if !n.Configured() {
		n.log.Debug("telegram notifier not configured, dropping message")
		return nil
	}

	payload := map[string]any{
		"chat_id": n.chatID,
		"text":    text,
	}

	attempts := 1
	if critical {
		attempts = len(retryBackoff) + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff[i-1]):
			}
		}
		if lastErr = n.call(ctx, "sendMessage", payload); lastErr == nil {
			return nil
		}
		n.log.Warn("telegram send failed", zap.Int("attempt", i+1), zap.Error(lastErr))
	}
	return lastErr
}

// SendDecisionCard posts the request message with inline approve/reject
// buttons wired to callback data the webhook handler understands.
func (n *TelegramNotifier) SendDecisionCard(ctx context.Context, requestID, message string) error {
	if !n.Configured() {
		return nil
	}

	payload := map[string]any{
		"chat_id": n.chatID,
		"text":    fmt.Sprintf("%s\n\nRequest: %s", message, requestID),
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]string{{
				{"text": "Approve", "callback_data": "/approve " + requestID},
				{"text": "Reject", "callback_data": "/reject " + requestID},
			}},
		},
	}
	return n.call(ctx, "sendMessage", payload)
}

func (n *TelegramNotifier) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", n.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram api returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// NopNotifier drops everything. Used in tests and when Telegram is not
// configured.
type NopNotifier struct{}

func (NopNotifier) SendMessage(context.Context, string, bool) error { return nil }

func (NopNotifier) SendDecisionCard(context.Context, string, string) error { return nil }
