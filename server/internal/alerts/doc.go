// Package alerts is the alert engine: it evaluates rules on each tick and
// exposes the lifecycle operations callers use on alerts.
//
// A tick lists a workspace's active rules and evaluates them in parallel on
// a bounded worker group. Each rule is evaluated under an exclusive
// per-rule lock covering the met check, the suppression check and alert
// creation, so overlapping ticks cannot open two alerts for one incident.
// A rule that errors or panics is isolated; the tick carries on and
// reports the faults together.
//
// A new alert dispatches its tier-1 notifications and arms the next
// escalation level. Acknowledge and Resolve stop escalation before they
// return.
//
// Engine is safe for concurrent use.
package alerts
