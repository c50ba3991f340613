// Package notifier performs the physical send of one notification to one
// (channel, recipient) pair.
//
// A Notifier returns nil on delivery, an error wrapped with Permanent when
// retrying cannot help (bad recipient, provider 4xx), and any other error
// for transient failures (network errors, timeouts, 429, 5xx). The
// idempotency key travels with every delivery so providers can drop
// duplicates of a retried send.
//
// Transports: generic webhook, Slack, Microsoft Teams, Discord, PagerDuty
// Events v2, SMS gateway (HTTP), SMTP email and a log-only sink.
package notifier
