package types

import (
	"fmt"
	"time"
)

// Outcome of a NotificationAttempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// ChannelType selects the Notifier that performs a send.
type ChannelType string

const (
	ChannelWebhook   ChannelType = "webhook"
	ChannelSlack     ChannelType = "slack"
	ChannelTeams     ChannelType = "teams"
	ChannelDiscord   ChannelType = "discord"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelSMS       ChannelType = "sms"
	ChannelEmail     ChannelType = "email"
	ChannelLog       ChannelType = "log"
)

// Channel is a named, configured delivery endpoint.
type Channel struct {
	Name          string      `json:"name" yaml:"name" validate:"required"`
	Type          ChannelType `json:"type" yaml:"type" validate:"required,oneof=webhook slack teams discord pagerduty sms email log"`
	URLEnv        string      `json:"url_env,omitempty" yaml:"url_env"`
	URL           string      `json:"-" yaml:"-"`
	Recipients    []string    `json:"recipients,omitempty" yaml:"recipients"`
	RatePerMinute float64     `json:"rate_per_minute,omitempty" yaml:"rate_per_minute" validate:"gte=0"`
	SMTP          *SMTPConfig `json:"smtp,omitempty" yaml:"smtp"`
}

// SMTPConfig configures an email channel. The password is read from PasswordEnv.
type SMTPConfig struct {
	Host        string `json:"host" yaml:"host" validate:"required"`
	Port        int    `json:"port" yaml:"port" validate:"gt=0,lte=65535"`
	Username    string `json:"username" yaml:"username"`
	PasswordEnv string `json:"-" yaml:"password_env"`
	Password    string `json:"-" yaml:"-"`
	From        string `json:"from" yaml:"from" validate:"required,email"`
}

// Target is one (channel, recipient) pair of a tier.
type Target struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient,omitempty"`
}

// IdempotencyKey identifies one logical delivery at a provider.
func IdempotencyKey(alertID string, t Target, level int) string {
	return fmt.Sprintf("%s:%s:%s:%d", alertID, t.Channel, t.Recipient, level)
}

// Notification is the payload handed to notifiers.
type Notification struct {
	AlertID     string     `json:"alert_id"`
	WorkspaceID string     `json:"workspace_id"`
	RuleID      string     `json:"rule_id"`
	RuleName    string     `json:"rule_name"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Severity    Severity   `json:"severity"`
	State       AlertState `json:"state"`
	Observed    float64    `json:"observed_value"`
	Threshold   float64    `json:"threshold_value"`
	Level       int        `json:"escalation_level"`
	TriggeredAt time.Time  `json:"triggered_at"`
}

// NotificationFor builds the payload for alert a at its current level.
func NotificationFor(a *Alert) Notification {
	return Notification{
		AlertID:     a.ID,
		WorkspaceID: a.WorkspaceID,
		RuleID:      a.RuleID,
		RuleName:    a.RuleName,
		Title:       a.Title,
		Message:     a.Message,
		Severity:    a.Severity,
		State:       a.State,
		Observed:    a.ObservedValue,
		Threshold:   a.ThresholdValue,
		Level:       a.EscalationLevel,
		TriggeredAt: a.TriggeredAt,
	}
}

// NotificationAttempt is one physical send. Rows are append-only apart from
// the pending -> delivered/failed update of the same attempt.
type NotificationAttempt struct {
	ID             string    `json:"id"`
	AlertID        string    `json:"alert_id"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient,omitempty"`
	Level          int       `json:"escalation_level"`
	IdempotencyKey string    `json:"idempotency_key"`
	SentAt         time.Time `json:"sent_at"`
	Outcome        Outcome   `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retry_count"`
}
