package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// Memory is a thread-safe in-memory implementation of Repositories.
// A background goroutine (Run) periodically evicts suppression windows that
// ended more than the retention period ago.
type Memory struct {
	mu        sync.RWMutex
	rules     map[string]*types.AlertRule // key: workspace/rule
	policies  map[string]*types.EscalationPolicy
	alerts    map[string]*types.Alert
	triggers  map[string]time.Time
	windows   map[string]*types.SuppressionWindow // key: workspace/window
	attempts  map[string][]types.NotificationAttempt
	delivered map[string]types.NotificationAttempt // key: idempotency key
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

var _ Repositories = (*Memory)(nil)

// NewMemory returns an empty store. Expired suppression windows are kept for
// retention before Evict removes them.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		rules:     make(map[string]*types.AlertRule),
		policies:  make(map[string]*types.EscalationPolicy),
		alerts:    make(map[string]*types.Alert),
		triggers:  make(map[string]time.Time),
		windows:   make(map[string]*types.SuppressionWindow),
		attempts:  make(map[string][]types.NotificationAttempt),
		delivered: make(map[string]types.NotificationAttempt),
		retention: retention,
		now:       time.Now,
	}
}

// --- rules ------------------------------------------------------------------

func (m *Memory) PutRule(_ context.Context, r types.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, existing := range m.rules {
		if existing.WorkspaceID == r.WorkspaceID && existing.Name == r.Name && k != r.Key() {
			return fmt.Errorf("rule name %q in workspace %s: %w", r.Name, r.WorkspaceID, types.ErrConflict)
		}
	}
	cp := cloneRule(r)
	m.rules[r.Key()] = &cp
	return nil
}

func (m *Memory) GetRule(_ context.Context, workspaceID, ruleID string) (*types.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[types.RuleKey(workspaceID, ruleID)]
	if !ok {
		return nil, fmt.Errorf("rule %s/%s: %w", workspaceID, ruleID, types.ErrNotFound)
	}
	cp := cloneRule(*r)
	return &cp, nil
}

func (m *Memory) ListRules(_ context.Context, workspaceID string) ([]types.AlertRule, error) {
	return m.listRules(workspaceID, false), nil
}

func (m *Memory) ListActiveRules(_ context.Context, workspaceID string) ([]types.AlertRule, error) {
	return m.listRules(workspaceID, true), nil
}

func (m *Memory) listRules(workspaceID string, activeOnly bool) []types.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AlertRule, 0)
	for _, r := range m.rules {
		if r.WorkspaceID != workspaceID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, cloneRule(*r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) DeleteRule(_ context.Context, workspaceID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := types.RuleKey(workspaceID, ruleID)
	if _, ok := m.rules[key]; !ok {
		return fmt.Errorf("rule %s: %w", key, types.ErrNotFound)
	}
	delete(m.rules, key)
	return nil
}

func (m *Memory) ListWorkspaces(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range m.rules {
		seen[r.WorkspaceID] = struct{}{}
	}
	for _, a := range m.alerts {
		seen[a.WorkspaceID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ws := range seen {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out, nil
}

// --- policies ---------------------------------------------------------------

func (m *Memory) PutPolicy(_ context.Context, p types.EscalationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	cp.Levels = p.Snapshot()
	m.policies[types.RuleKey(p.WorkspaceID, p.ID)] = &cp
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, workspaceID, policyID string) (*types.EscalationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[types.RuleKey(workspaceID, policyID)]
	if !ok {
		return nil, fmt.Errorf("policy %s/%s: %w", workspaceID, policyID, types.ErrNotFound)
	}
	cp := *p
	cp.Levels = p.Snapshot()
	return &cp, nil
}

// --- alerts -----------------------------------------------------------------

func (m *Memory) InsertAlert(_ context.Context, a *types.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; ok {
		return fmt.Errorf("alert %s: %w", a.ID, types.ErrConflict)
	}
	m.alerts[a.ID] = a.Clone()
	return nil
}

func (m *Memory) GetAlert(_ context.Context, alertID string) (*types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
	}
	return a.Clone(), nil
}

func (m *Memory) UpdateAlert(_ context.Context, a *types.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return fmt.Errorf("alert %s: %w", a.ID, types.ErrNotFound)
	}
	m.alerts[a.ID] = a.Clone()
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (m *Memory) ListAlerts(_ context.Context, workspaceID string, f types.AlertFilter) ([]types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Alert, 0)
	for _, a := range m.alerts {
		if a.WorkspaceID != workspaceID {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.RuleID != "" && a.RuleID != f.RuleID {
			continue
		}
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// --- suppression ------------------------------------------------------------

func (m *Memory) LastTrigger(_ context.Context, workspaceID, ruleID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[types.RuleKey(workspaceID, ruleID)]
	return t, ok, nil
}

func (m *Memory) SetLastTrigger(_ context.Context, workspaceID, ruleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[types.RuleKey(workspaceID, ruleID)] = at
	return nil
}

func (m *Memory) PutWindow(_ context.Context, w types.SuppressionWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := w
	m.windows[types.RuleKey(w.WorkspaceID, w.ID)] = &cp
	return nil
}

func (m *Memory) DeleteWindow(_ context.Context, workspaceID, windowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := types.RuleKey(workspaceID, windowID)
	if _, ok := m.windows[key]; !ok {
		return fmt.Errorf("suppression window %s: %w", key, types.ErrNotFound)
	}
	delete(m.windows, key)
	return nil
}

func (m *Memory) ListWindows(_ context.Context, workspaceID string) ([]types.SuppressionWindow, error) {
	return m.windowsWhere(workspaceID, func(types.SuppressionWindow) bool { return true }), nil
}

func (m *Memory) ActiveWindows(_ context.Context, workspaceID string, now time.Time) ([]types.SuppressionWindow, error) {
	return m.windowsWhere(workspaceID, func(w types.SuppressionWindow) bool { return w.Contains(now) }), nil
}

func (m *Memory) windowsWhere(workspaceID string, keep func(types.SuppressionWindow) bool) []types.SuppressionWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SuppressionWindow, 0)
	for _, w := range m.windows {
		if w.WorkspaceID == workspaceID && keep(*w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// --- attempts ---------------------------------------------------------------

func (m *Memory) InsertAttempt(_ context.Context, a types.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.AlertID] = append(m.attempts[a.AlertID], a)
	if a.Outcome == types.OutcomeDelivered {
		m.delivered[a.IdempotencyKey] = a
	}
	return nil
}

func (m *Memory) UpdateAttempt(_ context.Context, a types.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attempts[a.AlertID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			if a.Outcome == types.OutcomeDelivered {
				m.delivered[a.IdempotencyKey] = a
			}
			return nil
		}
	}
	return fmt.Errorf("attempt %s: %w", a.ID, types.ErrNotFound)
}

func (m *Memory) ListAttempts(_ context.Context, alertID string) ([]types.NotificationAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.NotificationAttempt{}, m.attempts[alertID]...), nil
}

func (m *Memory) DeliveredAttempt(_ context.Context, key string) (*types.NotificationAttempt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.delivered[key]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

// --- retention --------------------------------------------------------------

// Evict removes suppression windows that ended before now minus retention.
// It returns the number of windows removed.
func (m *Memory) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.retention)
	removed := 0
	for k, w := range m.windows {
		if w.End.Before(cutoff) {
			delete(m.windows, k)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop, ticking at half the retention
// (minimum 1 second). Run blocks until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	interval := m.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Evict(m.now()); n > 0 {
				slog.Debug("store: evicted expired suppression windows", "count", n)
			}
		}
	}
}

func cloneRule(r types.AlertRule) types.AlertRule {
	r.Channels = append([]string(nil), r.Channels...)
	c := r.Condition
	if c.Threshold != nil {
		v := *c.Threshold
		c.Threshold = &v
	}
	if c.Change != nil {
		v := *c.Change
		c.Change = &v
	}
	if c.Anomaly != nil {
		v := *c.Anomaly
		c.Anomaly = &v
	}
	if c.Pattern != nil {
		v := *c.Pattern
		c.Pattern = &v
	}
	r.Condition = c
	return r
}
