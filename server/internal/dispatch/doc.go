// Package dispatch delivers one escalation tier of an alert.
//
// Dispatch sends to every (channel, recipient) target concurrently and
// never returns an error: each target yields a NotificationAttempt whose
// outcome is delivered or failed. A failure on one channel does not affect
// its siblings.
//
// Every send carries the idempotency key alertID:channel:recipient:level.
// A key that already has a delivered attempt is not sent again. Transient
// failures are retried with truncated exponential backoff and jitter;
// permanent failures are recorded and not retried. Each channel has its own
// circuit breaker and, when configured, a rate limiter.
package dispatch
