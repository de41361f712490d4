package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

// NewProvider resolves a provider by the configured kind. Unknown kinds and
// webhooks without a URL fall back to the log provider so a missing env var
// never silences notifications entirely.
func NewProvider(kind, channel string, logger zerolog.Logger) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("NOTIFY_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("NOTIFY_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{channel: channel, logger: logger}
		}
		return webhookProvider{channel: channel, url: url, token: token}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{channel: channel, url: kind}
		}
		return logProvider{channel: channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, message, recipient string) error {
	p.logger.Info().
		Str("channel", p.channel).
		Str("recipient", recipient).
		Str("message", message).
		Msg("notification sent")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	channel string
	url     string
	token   string
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	payload := map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
