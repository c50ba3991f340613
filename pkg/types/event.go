package types

import "time"

// EventType names an alert lifecycle transition.
type EventType string

const (
	EventOpened       EventType = "alert.opened"
	EventEscalated    EventType = "alert.escalated"
	EventAcknowledged EventType = "alert.acknowledged"
	EventResolved     EventType = "alert.resolved"
)

// AlertEvent is published after every committed transition.
type AlertEvent struct {
	Type  EventType `json:"event"`
	At    time.Time `json:"at"`
	Alert *Alert    `json:"alert"`
}
