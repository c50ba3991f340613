package store

import (
	"context"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// RuleRepository stores alert rules. Rule names are unique per workspace.
type RuleRepository interface {
	PutRule(ctx context.Context, r types.AlertRule) error
	GetRule(ctx context.Context, workspaceID, ruleID string) (*types.AlertRule, error)
	ListRules(ctx context.Context, workspaceID string) ([]types.AlertRule, error)
	ListActiveRules(ctx context.Context, workspaceID string) ([]types.AlertRule, error)
	DeleteRule(ctx context.Context, workspaceID, ruleID string) error
	// ListWorkspaces returns, sorted, every workspace that has a rule or an
	// alert.
	ListWorkspaces(ctx context.Context) ([]string, error)
}

// PolicyRepository stores escalation policies.
type PolicyRepository interface {
	PutPolicy(ctx context.Context, p types.EscalationPolicy) error
	GetPolicy(ctx context.Context, workspaceID, policyID string) (*types.EscalationPolicy, error)
}

// AlertRepository stores alerts. Alerts are never deleted.
type AlertRepository interface {
	InsertAlert(ctx context.Context, a *types.Alert) error
	GetAlert(ctx context.Context, alertID string) (*types.Alert, error)
	UpdateAlert(ctx context.Context, a *types.Alert) error
	ListAlerts(ctx context.Context, workspaceID string, f types.AlertFilter) ([]types.Alert, error)
}

// SuppressionRepository stores per-rule cooldown state and suppression windows.
type SuppressionRepository interface {
	LastTrigger(ctx context.Context, workspaceID, ruleID string) (time.Time, bool, error)
	SetLastTrigger(ctx context.Context, workspaceID, ruleID string, at time.Time) error
	PutWindow(ctx context.Context, w types.SuppressionWindow) error
	DeleteWindow(ctx context.Context, workspaceID, windowID string) error
	ListWindows(ctx context.Context, workspaceID string) ([]types.SuppressionWindow, error)
	ActiveWindows(ctx context.Context, workspaceID string, now time.Time) ([]types.SuppressionWindow, error)
}

// AttemptRepository is the append-only notification audit trail.
type AttemptRepository interface {
	InsertAttempt(ctx context.Context, a types.NotificationAttempt) error
	UpdateAttempt(ctx context.Context, a types.NotificationAttempt) error
	ListAttempts(ctx context.Context, alertID string) ([]types.NotificationAttempt, error)
	// DeliveredAttempt returns the delivered attempt for an idempotency key.
	DeliveredAttempt(ctx context.Context, key string) (*types.NotificationAttempt, bool, error)
}

// Repositories bundles every repository the engine needs.
type Repositories interface {
	RuleRepository
	PolicyRepository
	AlertRepository
	SuppressionRepository
	AttemptRepository
}
