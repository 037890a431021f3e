// Package audit keeps a SQLite journal with one summary row per tool call.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mijiamcp/internal/domain"
)

const defaultRecentLimit = 50

// Journal implements domain.AuditJournal on SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditJournal = (*Journal)(nil)

// Open creates the database file (and its directory) if needed and brings the
// schema up to date.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Journal{db: db, logger: logger.With("component", "audit")}, nil
}

// Record appends one row. A zero CreatedAt is set to now.
func (j *Journal) Record(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, tool_name, action, success, error_kind, message, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.ToolName, e.Action, boolToInt(e.Success), e.ErrorKind, e.Message, e.ElapsedMS,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. limit <= 0 means the default.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, request_id, tool_name, action, success, error_kind, message, elapsed_ms, created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			success int
			created string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ToolName, &e.Action, &success,
			&e.ErrorKind, &e.Message, &e.ElapsedMS, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Success = success != 0
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		} else {
			j.logger.Warn("unparseable audit timestamp", "id", e.ID, "value", created)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
