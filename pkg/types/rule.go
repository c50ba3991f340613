package types

import "time"

// Severity of a rule and of the alerts it creates.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// AlertRule is identified by (WorkspaceID, ID). Name is unique per workspace.
type AlertRule struct {
	WorkspaceID        string        `json:"workspace_id" yaml:"-" validate:"required"`
	ID                 string        `json:"id" yaml:"id" validate:"required"`
	Name               string        `json:"name" yaml:"name" validate:"required,max=200"`
	Metric             string        `json:"metric" yaml:"metric" validate:"required"`
	Condition          Condition     `json:"condition" yaml:"condition"`
	Severity           Severity      `json:"severity" yaml:"severity" validate:"required,oneof=info warning critical emergency"`
	Active             bool          `json:"active" yaml:"-"`
	CheckInterval      time.Duration `json:"check_interval" yaml:"check_interval" validate:"gte=0"`
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	Channels           []string      `json:"channels" yaml:"channels" validate:"dive,required"`
	EscalationPolicyID string        `json:"escalation_policy_id,omitempty" yaml:"escalation_policy"`
}

// Key returns the (workspace, rule) key used for locks and cooldowns.
func (r AlertRule) Key() string { return RuleKey(r.WorkspaceID, r.ID) }

// RuleKey joins a workspace and rule ID.
func RuleKey(workspaceID, ruleID string) string { return workspaceID + "/" + ruleID }
