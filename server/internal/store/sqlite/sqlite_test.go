package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRule(id, name string) types.AlertRule {
	return types.AlertRule{
		WorkspaceID: "ws1",
		ID:          id,
		Name:        name,
		Metric:      "cpu",
		Active:      true,
		Severity:    types.SeverityCritical,
		Cooldown:    5 * time.Minute,
		Condition: types.Condition{
			Kind:      types.ConditionThreshold,
			Threshold: &types.ThresholdCondition{Operator: types.OpGreater, Value: 80, Duration: 3 * time.Minute},
		},
		Channels:           []string{"ops"},
		EscalationPolicyID: "p1",
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestRules_RoundTripAndConflict(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	require.NoError(t, s.PutRule(ctx, testRule("r1", "high cpu")))
	got, err := s.GetRule(ctx, "ws1", "r1")
	require.NoError(t, err)
	assert.Equal(t, testRule("r1", "high cpu"), *got)

	assert.ErrorIs(t, s.PutRule(ctx, testRule("r2", "high cpu")), types.ErrConflict)

	inactive := testRule("r3", "other")
	inactive.Active = false
	require.NoError(t, s.PutRule(ctx, inactive))

	active, err := s.ListActiveRules(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r1", active[0].ID)

	wss, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1"}, wss)

	require.NoError(t, s.DeleteRule(ctx, "ws1", "r3"))
	assert.ErrorIs(t, s.DeleteRule(ctx, "ws1", "r3"), types.ErrNotFound)
	_, err = s.GetRule(ctx, "ws1", "r3")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAlerts_UpdateAndList(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	a := &types.Alert{
		ID: "a1", WorkspaceID: "ws1", RuleID: "r1", State: types.StateOpen,
		Severity: types.SeverityCritical, TriggeredAt: t0, Channels: []string{"ops"},
		Escalation: []types.EscalationLevel{{Level: 1, Delay: time.Minute, Channels: []string{"ops"}}},
	}
	require.NoError(t, s.InsertAlert(ctx, a))
	require.NoError(t, s.InsertAlert(ctx, &types.Alert{
		ID: "a2", WorkspaceID: "ws1", RuleID: "r1", State: types.StateOpen, TriggeredAt: t0.Add(time.Minute),
	}))

	ack := t0.Add(2 * time.Minute)
	a.State = types.StateAcknowledged
	a.AcknowledgedAt = &ack
	a.AcknowledgedBy = "alice"
	require.NoError(t, s.UpdateAlert(ctx, a))

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.StateAcknowledged, got.State)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(ack))
	assert.Len(t, got.Escalation, 1)

	open, err := s.ListAlerts(ctx, "ws1", types.AlertFilter{State: types.StateOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a2", open[0].ID)

	all, err := s.ListAlerts(ctx, "ws1", types.AlertFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID, "newest first")

	_, err = s.GetAlert(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// No rules exist here; alerts alone make ws1 a workspace.
	wss, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1"}, wss)
}

func TestSuppression_WindowsAndTriggers(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	require.NoError(t, s.PutWindow(ctx, types.SuppressionWindow{
		ID: "w1", WorkspaceID: "ws1", Pattern: "db-*", Start: t0, End: t0.Add(time.Hour), Reason: "maintenance",
	}))

	active, err := s.ActiveWindows(ctx, "ws1", t0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "db-*", active[0].Pattern)
	assert.True(t, active[0].Start.Equal(t0))

	active, err = s.ActiveWindows(ctx, "ws1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active, "end is exclusive")

	_, ok, err := s.LastTrigger(ctx, "ws1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastTrigger(ctx, "ws1", "r1", t0))
	require.NoError(t, s.SetLastTrigger(ctx, "ws1", "r1", t0.Add(time.Minute)))
	last, ok, err := s.LastTrigger(ctx, "ws1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(t0.Add(time.Minute)))

	require.NoError(t, s.DeleteWindow(ctx, "ws1", "w1"))
	assert.ErrorIs(t, s.DeleteWindow(ctx, "ws1", "w1"), types.ErrNotFound)
}

func TestAttempts_PendingThenDelivered(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	a := types.NotificationAttempt{
		ID: "n1", AlertID: "a1", Channel: "ops", Level: 1,
		IdempotencyKey: "a1:ops::1", SentAt: t0, Outcome: types.OutcomePending,
	}
	require.NoError(t, s.InsertAttempt(ctx, a))

	_, ok, err := s.DeliveredAttempt(ctx, a.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, ok)

	a.Outcome = types.OutcomeDelivered
	a.RetryCount = 2
	require.NoError(t, s.UpdateAttempt(ctx, a))

	got, ok, err := s.DeliveredAttempt(ctx, a.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.RetryCount)

	list, err := s.ListAttempts(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.OutcomeDelivered, list[0].Outcome)

	assert.ErrorIs(t, s.UpdateAttempt(ctx, types.NotificationAttempt{ID: "missing"}), types.ErrNotFound)
}

func TestEvictWindows(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	require.NoError(t, s.PutWindow(ctx, types.SuppressionWindow{ID: "old", WorkspaceID: "ws1", Start: t0, End: t0.Add(time.Hour)}))
	require.NoError(t, s.PutWindow(ctx, types.SuppressionWindow{ID: "new", WorkspaceID: "ws1", Start: t0, End: t0.Add(3 * time.Hour)}))

	n, err := s.EvictWindows(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.ListWindows(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}
