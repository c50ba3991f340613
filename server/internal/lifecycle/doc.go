// Package lifecycle owns the state of individual alerts.
//
// An alert moves OPEN -> ACKNOWLEDGED -> RESOLVED, or OPEN -> RESOLVED
// directly. RESOLVED is terminal; a recurring incident is a new alert.
// Every mutation of an alert (acknowledge, resolve, escalation level
// increments) happens under a per-alert lock, so a timer fire racing an
// acknowledge is serialized and the loser observes the winner's state.
//
// Acknowledge and Resolve cancel the alert's escalation timer while still
// holding the lock, before they return.
package lifecycle
