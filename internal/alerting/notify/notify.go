package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is one alert notification.
type Message struct {
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Channel delivers alert notifications.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ConsoleChannel writes notifications to the structured log.
type ConsoleChannel struct {
	log zerolog.Logger
}

// NewConsoleChannel constructs a log-backed channel.
func NewConsoleChannel(log zerolog.Logger) *ConsoleChannel {
	return &ConsoleChannel{log: log}
}

// Send implements Channel.
func (c *ConsoleChannel) Send(_ context.Context, msg Message) error {
	evt := c.log.Warn().
		Str("severity", msg.Severity).
		Str("title", msg.Title).
		Time("timestamp", msg.Timestamp)
	for k, v := range msg.Metadata {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg.Body)
	return nil
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel constructs a webhook channel for the given URL.
func NewWebhookChannel(url string, client *http.Client) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("notify: empty webhook url")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}, nil
}

// webhookPayload is the wire shape receivers get: severity, message,
// timestamp and metadata. The rule title travels inside metadata so the
// receiver sees a single text field.
type webhookPayload struct {
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	metadata := make(map[string]any, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	if msg.Title != "" {
		metadata["title"] = msg.Title
	}
	payload, err := json.Marshal(webhookPayload{
		Severity:  msg.Severity,
		Message:   msg.Body,
		Timestamp: msg.Timestamp,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

// Multi fans a notification out to several channels. Every channel is tried;
// the first error is returned.
type Multi struct {
	channels []Channel
}

// NewMulti constructs a fan-out channel.
func NewMulti(channels ...Channel) *Multi {
	return &Multi{channels: channels}
}

// Send implements Channel.
func (m *Multi) Send(ctx context.Context, msg Message) error {
	var first error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
