// Package suppression decides whether a rule whose condition is met may
// create a new alert.
//
// Two sources are consulted: the rule's cooldown, measured from its most
// recent trigger, and manually declared suppression windows whose pattern
// matches the rule. Window matching is also used on its own to silence
// escalation sends for already-open alerts.
package suppression
