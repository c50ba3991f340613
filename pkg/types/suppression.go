package types

import "time"

// SuppressionWindow blocks alert creation and notification sends for
// matching rules while Start <= now < End.
//
// A window matches when RuleID equals the rule's ID, or when Pattern (a glob)
// matches the rule name or metric. An empty RuleID and Pattern matches every
// rule in the workspace.
type SuppressionWindow struct {
	ID          string    `json:"id" yaml:"id" validate:"required"`
	WorkspaceID string    `json:"workspace_id" yaml:"-" validate:"required"`
	RuleID      string    `json:"rule_id,omitempty" yaml:"rule_id"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern"`
	Start       time.Time `json:"start" yaml:"start" validate:"required"`
	End         time.Time `json:"end" yaml:"end" validate:"required,gtfield=Start"`
	Reason      string    `json:"reason" yaml:"reason"`
}

// Contains reports whether t lies in [Start, End).
func (w SuppressionWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Subject is what a suppression window is matched against.
type Subject struct {
	WorkspaceID string
	RuleID      string
	RuleName    string
	Metric      string
	Cooldown    time.Duration
}

// SubjectOf builds the Subject for a rule.
func SubjectOf(r AlertRule) Subject {
	return Subject{
		WorkspaceID: r.WorkspaceID,
		RuleID:      r.ID,
		RuleName:    r.Name,
		Metric:      r.Metric,
		Cooldown:    r.Cooldown,
	}
}

// SubjectOfAlert builds the Subject for an alert. Cooldown is not tracked
// on alerts and is left zero.
func SubjectOfAlert(a *Alert) Subject {
	return Subject{
		WorkspaceID: a.WorkspaceID,
		RuleID:      a.RuleID,
		RuleName:    a.RuleName,
		Metric:      a.Metric,
	}
}
