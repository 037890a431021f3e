package domain

import (
	"context"
	"time"
)

// AuditEntry is one row of the invocation journal.
type AuditEntry struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	ToolName  string    `json:"tool_name"`
	Action    string    `json:"action,omitempty"` // empty for locally handled tools
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditJournal persists a summary of every dispatched call.
type AuditJournal interface {
	Record(ctx context.Context, entry AuditEntry) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
