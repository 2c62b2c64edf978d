// Package notify delivers subscriber notifications through the Telegram
// Bot API. A subscriber id is the Telegram chat id.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// Config controls the Telegram client.
type Config struct {
	Token   string        // bot token
	BaseURL string        // default: https://api.telegram.org
	Timeout time.Duration // per request (default: 10s)
}

// Telegram implements domain.Notifier.
type Telegram struct {
	cfg  Config
	http *http.Client
}

// NewTelegram creates a notifier. The bot token is required.
func NewTelegram(cfg Config) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: telegram token is required", domain.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Telegram{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to the subscriber's chat.
func (t *Telegram) Send(ctx context.Context, subscriber, text string) error {
	body, _ := json.Marshal(sendMessageRequest{
		ChatID:                subscriber,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.http.Do(req)
	observability.CollaboratorLatency.WithLabelValues("telegram").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CollaboratorErrors.WithLabelValues("telegram").Inc()
		// The URL carries the token; keep it out of the error text.
		return fmt.Errorf("%w: telegram request failed", domain.ErrCollaboratorUnavailable)
	}
	defer resp.Body.Close()

	var parsed sendMessageResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK || !parsed.OK {
		observability.CollaboratorErrors.WithLabelValues("telegram").Inc()
		return fmt.Errorf("%w: telegram returned %d %s", domain.ErrCollaboratorUnavailable, resp.StatusCode, parsed.Description)
	}
	return nil
}
