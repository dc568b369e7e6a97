package dex

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/logger"
)

// WebhookNotifier posts progress messages to an external webhook. Delivery is
// best-effort: every failure path returns false and is otherwise swallowed.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWebhookNotifier creates a notifier for the given webhook URL. An empty
// URL yields a notifier that drops everything.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.GetForComponent("notifier"),
	}
}

// Notify sends one message. Returns false when the message was dropped.
func (n *WebhookNotifier) Notify(text string) bool {
	if n.url == "" {
		return false
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return false
	}

	resp, err := n.httpClient.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Msg("Notification delivery failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Msg("Notification rejected by webhook")
		return false
	}
	return true
}

// LogNotifier writes progress messages to the application log. Used when no
// webhook is configured so progress remains visible.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.GetForComponent("notifier")}
}

// Notify logs the message and always reports delivery.
func (n *LogNotifier) Notify(text string) bool {
	n.logger.Info().Str("notification", text).Msg("Progress notification")
	return true
}
