package sqlite

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		workspace_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		body TEXT NOT NULL,
		PRIMARY KEY (workspace_id, id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_name ON rules(workspace_id, name);`,

	`CREATE TABLE IF NOT EXISTS escalation_policies (
		workspace_id TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (workspace_id, id)
	);`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		state TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_ws_ts ON alerts(workspace_id, triggered_at);`,

	`CREATE TABLE IF NOT EXISTS rule_triggers (
		workspace_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		last_trigger INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, rule_id)
	);`,

	`CREATE TABLE IF NOT EXISTS suppression_windows (
		workspace_id TEXT NOT NULL,
		id TEXT NOT NULL,
		rule_id TEXT NOT NULL DEFAULT '',
		pattern TEXT NOT NULL DEFAULT '',
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (workspace_id, id)
	);`,

	`CREATE TABLE IF NOT EXISTS notification_attempts (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_alert ON notification_attempts(alert_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_key ON notification_attempts(idempotency_key, outcome);`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
