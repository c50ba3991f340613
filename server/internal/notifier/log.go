package notifier

import (
	"context"
	"log/slog"
)

// Log writes the notification to the structured log. It never fails.
type Log struct{}

func (Log) Send(_ context.Context, d Delivery) error {
	slog.Info("notifier: alert notification",
		"channel", d.Channel.Name,
		"recipient", d.Recipient,
		"alert_id", d.Notification.AlertID,
		"severity", d.Notification.Severity,
		"level", d.Notification.Level,
		"title", d.Notification.Title,
	)
	return nil
}
