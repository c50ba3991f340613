package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// PayloadFunc builds the JSON body for one delivery.
type PayloadFunc func(d Delivery) any

// HTTP posts JSON to the channel's URL.
type HTTP struct {
	client  *http.Client
	payload PayloadFunc
}

// NewHTTP returns an HTTP notifier using payload to shape the body.
func NewHTTP(client *http.Client, payload PayloadFunc) *HTTP {
	return &HTTP{client: client, payload: payload}
}

func (h *HTTP) Send(ctx context.Context, d Delivery) error {
	if d.Channel.URL == "" {
		return Permanentf("channel %s: no url configured", d.Channel.Name)
	}
	body, err := json.Marshal(h.payload(d))
	if err != nil {
		return Permanentf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Channel.URL, bytes.NewReader(body))
	if err != nil {
		return Permanentf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.IdempotencyKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps an HTTP status to nil, a transient error (429, 5xx)
// or a permanent error (other 4xx).
func classifyStatus(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("provider returned HTTP %d", code)
	default:
		return Permanentf("provider returned HTTP %d", code)
	}
}

func webhookPayload(d Delivery) any {
	return map[string]any{
		"idempotency_key": d.IdempotencyKey,
		"recipient":       d.Recipient,
		"alert":           d.Notification,
	}
}

func slackPayload(d Delivery) any {
	p := map[string]string{
		"text": fmt.Sprintf("*%s* %s\n%s", severityLabel(d.Notification.Severity), d.Notification.Title, d.Notification.Message),
	}
	if d.Recipient != "" {
		p["channel"] = d.Recipient
	}
	return p
}

func teamsPayload(d Delivery) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(d.Notification.Severity),
		"summary":    d.Notification.RuleName,
		"title":      fmt.Sprintf("%s %s", severityLabel(d.Notification.Severity), d.Notification.Title),
		"text":       fmt.Sprintf("**%s**\n\n%s", d.Notification.Title, d.Notification.Message),
	}
}

func discordPayload(d Delivery) any {
	return map[string]string{
		"content": fmt.Sprintf("**%s** %s\n%s", severityLabel(d.Notification.Severity), d.Notification.Title, d.Notification.Message),
	}
}

// pagerDutyPayload builds an Events API v2 trigger. The recipient is the
// routing key; dedup_key carries the idempotency key.
func pagerDutyPayload(d Delivery) any {
	return map[string]any{
		"routing_key":  d.Recipient,
		"event_action": "trigger",
		"dedup_key":    d.IdempotencyKey,
		"payload": map[string]any{
			"summary":        d.Notification.Title,
			"source":         d.Notification.RuleName,
			"severity":       pagerDutySeverity(d.Notification.Severity),
			"timestamp":      d.Notification.TriggeredAt,
			"custom_details": d.Notification,
		},
	}
}

func smsPayload(d Delivery) any {
	return map[string]string{
		"to":   d.Recipient,
		"body": fmt.Sprintf("%s %s", severityLabel(d.Notification.Severity), d.Notification.Title),
	}
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityEmergency:
		return "[EMERGENCY]"
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityEmergency:
		return "B00020"
	case types.SeverityCritical:
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

func pagerDutySeverity(s types.Severity) string {
	switch s {
	case types.SeverityEmergency, types.SeverityCritical:
		return "critical"
	case types.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}
