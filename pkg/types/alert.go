package types

import "time"

// AlertState is the lifecycle state of an Alert.
type AlertState string

const (
	StateOpen         AlertState = "open"
	StateAcknowledged AlertState = "acknowledged"
	StateResolved     AlertState = "resolved"
)

// Alert is one incident created when a rule's condition was met and not
// suppressed. Alerts are never deleted; they end RESOLVED.
//
// Severity, Channels and Escalation are copied from the rule and its policy
// at trigger time so later rule edits do not change an open alert.
type Alert struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspace_id"`
	RuleID          string            `json:"rule_id"`
	RuleName        string            `json:"rule_name"`
	Metric          string            `json:"metric"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	Severity        Severity          `json:"severity"`
	State           AlertState        `json:"state"`
	ObservedValue   float64           `json:"observed_value"`
	ThresholdValue  float64           `json:"threshold_value"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	EscalationLevel int               `json:"escalation_level"`
	Channels        []string          `json:"channels"`
	Escalation      []EscalationLevel `json:"escalation,omitempty"`
	Context         map[string]any    `json:"context,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	cp.Channels = append([]string(nil), a.Channels...)
	if a.Escalation != nil {
		cp.Escalation = make([]EscalationLevel, len(a.Escalation))
		for i, l := range a.Escalation {
			cp.Escalation[i] = l.clone()
		}
	}
	if a.Context != nil {
		cp.Context = make(map[string]any, len(a.Context))
		for k, v := range a.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

// NextLevel returns the escalation level after the current one and false if
// the snapshotted policy has no further levels.
func (a *Alert) NextLevel() (EscalationLevel, bool) {
	for _, l := range a.Escalation {
		if l.Level == a.EscalationLevel+1 {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	State  AlertState
	RuleID string
	Limit  int
}
