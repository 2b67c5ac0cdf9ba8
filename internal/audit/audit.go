// Package audit persists a restart/run history that survives wrapper
// restarts and crashes, supplementing spec.md §3's in-memory-only
// WrapperSession/BackgroundAgent records (see SPEC_FULL.md "Supplemented
// Features" #1). Backed by modernc.org/sqlite, a pure-Go driver, so this
// doesn't add a second cgo surface alongside the hooks library.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Log is an append-only restart/run history store.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time is simplest and sufficient here

	const schema = `
CREATE TABLE IF NOT EXISTS restarts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	wrapper_pid INTEGER NOT NULL,
	restart_count INTEGER NOT NULL,
	reason TEXT,
	prompt TEXT,
	new_pid INTEGER,
	occurred_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_runs (
	id TEXT PRIMARY KEY,
	task_description TEXT,
	agent_type TEXT,
	status TEXT NOT NULL,
	exit_info TEXT,
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// RecordRestart appends one restart event.
func (l *Log) RecordRestart(ctx context.Context, wrapperPID, restartCount int, reason, prompt string, newPID int) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO restarts (wrapper_pid, restart_count, reason, prompt, new_pid, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		wrapperPID, restartCount, reason, prompt, newPID, time.Now())
	return err
}

// RestartCountToday returns how many restarts this wrapper pid has
// recorded since the most recent midnight UTC, used to answer the supplemented "how many times
// has this session restarted today" question across wrapper crashes.
func (l *Log) RestartCountToday(ctx context.Context, wrapperPID int) (int, error) {
	midnight := time.Now().Truncate(24 * time.Hour)
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM restarts WHERE wrapper_pid = ? AND occurred_at >= ?`,
		wrapperPID, midnight).Scan(&count)
	return count, err
}

// RecordAgentRunStart inserts a new background-agent run row.
func (l *Log) RecordAgentRunStart(ctx context.Context, id, taskDescription, agentType string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, task_description, agent_type, status, started_at) VALUES (?, ?, ?, 'Running', ?)`,
		id, taskDescription, agentType, time.Now())
	return err
}

// RecordAgentRunEnd updates a background-agent run row on terminal transition.
func (l *Log) RecordAgentRunEnd(ctx context.Context, id, status, exitInfo string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, exit_info = ?, ended_at = ? WHERE id = ?`,
		status, exitInfo, time.Now(), id)
	return err
}
