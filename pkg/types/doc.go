// Package types defines the data model shared by every part of the alert
// engine: rules and their condition specs, alerts and their lifecycle state,
// escalation policies, suppression windows, notification attempts, and the
// sentinel errors callers match on.
//
// These are plain structs with json/yaml tags and validator tags. They carry
// no behaviour beyond small helpers; evaluation, state transitions and
// delivery live in server/internal.
package types
