package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/store"
)

// Store persists rules, alerts, windows and notification attempts.
type Store struct {
	db   *sql.DB
	path string
}

var _ store.Repositories = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrations: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// --- rules ------------------------------------------------------------------

func (s *Store) PutRule(ctx context.Context, r types.AlertRule) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlite: encode rule: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM rules WHERE workspace_id = ? AND name = ?`, r.WorkspaceID, r.Name).Scan(&owner)
	switch {
	case err == nil && owner != r.ID:
		return fmt.Errorf("rule name %q in workspace %s: %w", r.Name, r.WorkspaceID, types.ErrConflict)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (workspace_id, id, name, active, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, id) DO UPDATE SET name = excluded.name, active = excluded.active, body = excluded.body`,
		r.WorkspaceID, r.ID, r.Name, r.Active, string(body))
	if err != nil {
		return fmt.Errorf("sqlite: put rule: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetRule(ctx context.Context, workspaceID, ruleID string) (*types.AlertRule, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM rules WHERE workspace_id = ? AND id = ?`, workspaceID, ruleID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s/%s: %w", workspaceID, ruleID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r types.AlertRule
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("sqlite: decode rule: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, workspaceID string) ([]types.AlertRule, error) {
	return s.queryRules(ctx, `SELECT body FROM rules WHERE workspace_id = ? ORDER BY id`, workspaceID)
}

func (s *Store) ListActiveRules(ctx context.Context, workspaceID string) ([]types.AlertRule, error) {
	return s.queryRules(ctx, `SELECT body FROM rules WHERE workspace_id = ? AND active = 1 ORDER BY id`, workspaceID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]types.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.AlertRule, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r types.AlertRule
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("sqlite: decode rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRule(ctx context.Context, workspaceID, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE workspace_id = ? AND id = ?`, workspaceID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s/%s: %w", workspaceID, ruleID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id FROM rules
		UNION
		SELECT workspace_id FROM alerts
		ORDER BY workspace_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// --- policies ---------------------------------------------------------------

func (s *Store) PutPolicy(ctx context.Context, p types.EscalationPolicy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlite: encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_policies (workspace_id, id, body) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id, id) DO UPDATE SET body = excluded.body`,
		p.WorkspaceID, p.ID, string(body))
	return err
}

func (s *Store) GetPolicy(ctx context.Context, workspaceID, policyID string) (*types.EscalationPolicy, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM escalation_policies WHERE workspace_id = ? AND id = ?`, workspaceID, policyID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s/%s: %w", workspaceID, policyID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p types.EscalationPolicy
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("sqlite: decode policy: %w", err)
	}
	return &p, nil
}

// --- alerts -----------------------------------------------------------------

func (s *Store) InsertAlert(ctx context.Context, a *types.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlite: encode alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, workspace_id, rule_id, state, triggered_at, body) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.RuleID, string(a.State), nanos(a.TriggeredAt), string(body))
	if err != nil {
		return fmt.Errorf("sqlite: insert alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (*types.Alert, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM alerts WHERE id = ?`, alertID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeAlert(body)
}

func (s *Store) UpdateAlert(ctx context.Context, a *types.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlite: encode alert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET state = ?, body = ? WHERE id = ?`,
		string(a.State), string(body), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, types.ErrNotFound)
	}
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, workspaceID string, f types.AlertFilter) ([]types.Alert, error) {
	query := `SELECT body FROM alerts WHERE workspace_id = ?`
	args := []any{workspaceID}
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, string(f.State))
	}
	if f.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, f.RuleID)
	}
	query += ` ORDER BY triggered_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Alert, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		a, err := decodeAlert(body)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func decodeAlert(body string) (*types.Alert, error) {
	var a types.Alert
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("sqlite: decode alert: %w", err)
	}
	return &a, nil
}

// --- suppression ------------------------------------------------------------

func (s *Store) LastTrigger(ctx context.Context, workspaceID, ruleID string) (time.Time, bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_trigger FROM rule_triggers WHERE workspace_id = ? AND rule_id = ?`, workspaceID, ruleID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fromNanos(n), true, nil
}

func (s *Store) SetLastTrigger(ctx context.Context, workspaceID, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_triggers (workspace_id, rule_id, last_trigger) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id, rule_id) DO UPDATE SET last_trigger = excluded.last_trigger`,
		workspaceID, ruleID, nanos(at))
	return err
}

func (s *Store) PutWindow(ctx context.Context, w types.SuppressionWindow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppression_windows (workspace_id, id, rule_id, pattern, start_at, end_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, id) DO UPDATE SET
			rule_id = excluded.rule_id, pattern = excluded.pattern,
			start_at = excluded.start_at, end_at = excluded.end_at, reason = excluded.reason`,
		w.WorkspaceID, w.ID, w.RuleID, w.Pattern, nanos(w.Start), nanos(w.End), w.Reason)
	return err
}

func (s *Store) DeleteWindow(ctx context.Context, workspaceID, windowID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM suppression_windows WHERE workspace_id = ? AND id = ?`, workspaceID, windowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("suppression window %s/%s: %w", workspaceID, windowID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListWindows(ctx context.Context, workspaceID string) ([]types.SuppressionWindow, error) {
	return s.queryWindows(ctx, `
		SELECT workspace_id, id, rule_id, pattern, start_at, end_at, reason
		FROM suppression_windows WHERE workspace_id = ? ORDER BY start_at`, workspaceID)
}

func (s *Store) ActiveWindows(ctx context.Context, workspaceID string, now time.Time) ([]types.SuppressionWindow, error) {
	n := nanos(now)
	return s.queryWindows(ctx, `
		SELECT workspace_id, id, rule_id, pattern, start_at, end_at, reason
		FROM suppression_windows WHERE workspace_id = ? AND start_at <= ? AND end_at > ?
		ORDER BY start_at`, workspaceID, n, n)
}

func (s *Store) queryWindows(ctx context.Context, query string, args ...any) ([]types.SuppressionWindow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.SuppressionWindow, 0)
	for rows.Next() {
		var (
			w          types.SuppressionWindow
			start, end int64
		)
		if err := rows.Scan(&w.WorkspaceID, &w.ID, &w.RuleID, &w.Pattern, &start, &end, &w.Reason); err != nil {
			return nil, err
		}
		w.Start, w.End = fromNanos(start), fromNanos(end)
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- attempts ---------------------------------------------------------------

const attemptColumns = `id, alert_id, channel, recipient, level, idempotency_key, sent_at, outcome, error, retry_count`

func (s *Store) InsertAttempt(ctx context.Context, a types.NotificationAttempt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AlertID, a.Channel, a.Recipient, a.Level, a.IdempotencyKey,
		nanos(a.SentAt), string(a.Outcome), a.Error, a.RetryCount)
	if err != nil {
		return fmt.Errorf("sqlite: insert attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) UpdateAttempt(ctx context.Context, a types.NotificationAttempt) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_attempts SET sent_at = ?, outcome = ?, error = ?, retry_count = ? WHERE id = ?`,
		nanos(a.SentAt), string(a.Outcome), a.Error, a.RetryCount, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, alertID string) ([]types.NotificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+`
		FROM notification_attempts WHERE alert_id = ? ORDER BY rowid`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.NotificationAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeliveredAttempt(ctx context.Context, key string) (*types.NotificationAttempt, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+`
		FROM notification_attempts WHERE idempotency_key = ? AND outcome = ? LIMIT 1`,
		key, string(types.OutcomeDelivered))
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(sc scanner) (types.NotificationAttempt, error) {
	var (
		a       types.NotificationAttempt
		sentAt  int64
		outcome string
	)
	err := sc.Scan(&a.ID, &a.AlertID, &a.Channel, &a.Recipient, &a.Level, &a.IdempotencyKey,
		&sentAt, &outcome, &a.Error, &a.RetryCount)
	if err != nil {
		return a, err
	}
	a.SentAt = fromNanos(sentAt)
	a.Outcome = types.Outcome(outcome)
	return a, nil
}

// --- retention --------------------------------------------------------------

// EvictWindows deletes suppression windows that ended before cutoff.
func (s *Store) EvictWindows(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suppression_windows WHERE end_at < ?`, nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: evict windows: %w", err)
	}
	return res.RowsAffected()
}

// Run evicts windows older than retention every half retention (minimum
// one minute) until ctx is cancelled.
func (s *Store) Run(ctx context.Context, retention time.Duration) {
	interval := retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := s.EvictWindows(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("sqlite: window eviction failed", "err", err)
			} else if n > 0 {
				slog.Debug("sqlite: evicted expired suppression windows", "count", n)
			}
		}
	}
}
