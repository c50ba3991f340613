// Package escalation arms and fires escalation timers.
//
// Scheduler is the single owner of timers, keyed by alert ID; at most one
// timer exists per alert. Every armed timer carries a token, and a firing
// timer must claim its token (under the alert lock, see lifecycle) before
// it may act. Acknowledge and resolve cancel the timer, which invalidates
// the token, so a fire that loses the race does nothing.
//
// Escalator is the fire handler: it advances the alert one level, arms the
// following level if the snapshotted policy has one, and dispatches the
// level's notifications unless a suppression window covers the alert.
package escalation
