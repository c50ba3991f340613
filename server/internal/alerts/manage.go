package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/validation"
)

// PutRule validates and stores a rule. Rule names are unique per workspace.
func (e *Engine) PutRule(ctx context.Context, r types.AlertRule) error {
	if err := validation.Rule(r); err != nil {
		return err
	}
	return e.repos.PutRule(ctx, r)
}

// Rule returns one rule.
func (e *Engine) Rule(ctx context.Context, workspaceID, ruleID string) (*types.AlertRule, error) {
	return e.repos.GetRule(ctx, workspaceID, ruleID)
}

// Rules lists a workspace's rules, active or not.
func (e *Engine) Rules(ctx context.Context, workspaceID string) ([]types.AlertRule, error) {
	return e.repos.ListRules(ctx, workspaceID)
}

// DeleteRule removes a rule. Alerts it already opened are unaffected.
func (e *Engine) DeleteRule(ctx context.Context, workspaceID, ruleID string) error {
	if err := e.repos.DeleteRule(ctx, workspaceID, ruleID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.lastEval, types.RuleKey(workspaceID, ruleID))
	e.mu.Unlock()
	return nil
}

// PutPolicy validates and stores an escalation policy. Open alerts keep the
// levels they were created with.
func (e *Engine) PutPolicy(ctx context.Context, p types.EscalationPolicy) error {
	if err := validation.Policy(p); err != nil {
		return err
	}
	return e.repos.PutPolicy(ctx, p)
}

// PutWindow validates and stores a suppression window, assigning an ID
// when none is given. It returns the stored window.
func (e *Engine) PutWindow(ctx context.Context, w types.SuppressionWindow) (types.SuppressionWindow, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if err := validation.Window(w); err != nil {
		return types.SuppressionWindow{}, err
	}
	if err := e.repos.PutWindow(ctx, w); err != nil {
		return types.SuppressionWindow{}, err
	}
	return w, nil
}

// DeleteWindow removes a suppression window.
func (e *Engine) DeleteWindow(ctx context.Context, workspaceID, windowID string) error {
	return e.repos.DeleteWindow(ctx, workspaceID, windowID)
}

// Windows lists a workspace's suppression windows.
func (e *Engine) Windows(ctx context.Context, workspaceID string) ([]types.SuppressionWindow, error) {
	return e.repos.ListWindows(ctx, workspaceID)
}

// Alert returns an alert of the workspace. An alert of another workspace
// is reported as not found.
func (e *Engine) Alert(ctx context.Context, workspaceID, alertID string) (*types.Alert, error) {
	a, err := e.repos.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
	}
	return a, nil
}

// Alerts lists a workspace's alerts, newest first.
func (e *Engine) Alerts(ctx context.Context, workspaceID string, f types.AlertFilter) ([]types.Alert, error) {
	return e.repos.ListAlerts(ctx, workspaceID, f)
}

// Attempts returns the notification audit trail of an alert.
func (e *Engine) Attempts(ctx context.Context, alertID string) ([]types.NotificationAttempt, error) {
	return e.repos.ListAttempts(ctx, alertID)
}

// Workspace is the declared configuration of one workspace.
type Workspace struct {
	ID       string
	Rules    []types.AlertRule
	Policies []types.EscalationPolicy
	Windows  []types.SuppressionWindow
	// Removed lists rule IDs to delete before the rules are stored.
	Removed []string
}

// Sync applies a declared workspace: removed rules are deleted, then
// policies, rules and windows are upserted. Each object is applied on its
// own; failures are collected and the rest still apply.
func (e *Engine) Sync(ctx context.Context, ws Workspace) error {
	var errs *multierror.Error
	for _, id := range ws.Removed {
		if err := e.DeleteRule(ctx, ws.ID, id); err != nil && !IsNotFound(err) {
			errs = multierror.Append(errs, fmt.Errorf("delete rule %s: %w", id, err))
		}
	}
	for _, p := range ws.Policies {
		if err := e.PutPolicy(ctx, p); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("policy %s: %w", p.ID, err))
		}
	}
	for _, r := range ws.Rules {
		if err := e.PutRule(ctx, r); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
		}
	}
	for _, w := range ws.Windows {
		if _, err := e.PutWindow(ctx, w); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("suppression window %s: %w", w.ID, err))
		}
	}
	slog.Info("alerts: workspace synced", "workspace", ws.ID,
		"rules", len(ws.Rules), "policies", len(ws.Policies), "windows", len(ws.Windows),
		"removed", len(ws.Removed))
	return errs.ErrorOrNil()
}
