package suppression

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/store"
)

// Reason names the source that suppressed a trigger.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonCooldown Reason = "cooldown"
	ReasonWindow   Reason = "window"
)

// Decision is the result of a suppression check.
type Decision struct {
	Suppressed bool
	Reason     Reason
	// Until is when the blocking cooldown or window ends.
	Until time.Time
	// Window is set when Reason is ReasonWindow.
	Window *types.SuppressionWindow
}

// Manager gates alert creation. It holds no per-rule state of its own;
// cooldowns and windows live in the repository.
type Manager struct {
	repo store.SuppressionRepository

	mu    sync.Mutex
	globs map[string]glob.Glob
}

// New returns a Manager backed by repo.
func New(repo store.SuppressionRepository) *Manager {
	return &Manager{repo: repo, globs: make(map[string]glob.Glob)}
}

// IsSuppressed reports whether a trigger of s at now is blocked by the
// rule's cooldown or by an active suppression window. Cooldown is checked
// first.
func (m *Manager) IsSuppressed(ctx context.Context, s types.Subject, now time.Time) (Decision, error) {
	if s.Cooldown > 0 {
		last, ok, err := m.repo.LastTrigger(ctx, s.WorkspaceID, s.RuleID)
		if err != nil {
			return Decision{}, fmt.Errorf("suppression: last trigger %s/%s: %w", s.WorkspaceID, s.RuleID, err)
		}
		if until := last.Add(s.Cooldown); ok && now.Before(until) {
			return Decision{Suppressed: true, Reason: ReasonCooldown, Until: until}, nil
		}
	}
	return m.InWindow(ctx, s, now)
}

// InWindow reports whether an active suppression window matches s at now.
// Cooldown is ignored.
func (m *Manager) InWindow(ctx context.Context, s types.Subject, now time.Time) (Decision, error) {
	windows, err := m.repo.ActiveWindows(ctx, s.WorkspaceID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("suppression: active windows %s: %w", s.WorkspaceID, err)
	}
	for i := range windows {
		w := windows[i]
		if w.Contains(now) && m.matches(w, s) {
			return Decision{Suppressed: true, Reason: ReasonWindow, Until: w.End, Window: &w}, nil
		}
	}
	return Decision{}, nil
}

// RecordTrigger restarts the rule's cooldown at at. It is called once per
// created alert, never per evaluation.
func (m *Manager) RecordTrigger(ctx context.Context, workspaceID, ruleID string, at time.Time) error {
	if err := m.repo.SetLastTrigger(ctx, workspaceID, ruleID, at); err != nil {
		return fmt.Errorf("suppression: record trigger %s/%s: %w", workspaceID, ruleID, err)
	}
	return nil
}

// matches reports whether w applies to s. A window with neither RuleID nor
// Pattern covers the whole workspace.
func (m *Manager) matches(w types.SuppressionWindow, s types.Subject) bool {
	if w.RuleID == "" && w.Pattern == "" {
		return true
	}
	if w.RuleID != "" && w.RuleID == s.RuleID {
		return true
	}
	if w.Pattern == "" {
		return false
	}
	g, err := m.compile(w.Pattern)
	if err != nil {
		slog.Warn("suppression: bad window pattern", "window", w.ID, "pattern", w.Pattern, "err", err)
		return false
	}
	return g.Match(s.RuleName) || g.Match(s.Metric) || g.Match(s.RuleID)
}

func (m *Manager) compile(pattern string) (glob.Glob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.globs[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.globs[pattern] = g
	return g, nil
}
