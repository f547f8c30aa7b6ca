package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Account   string         `json:"account"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only log of submitted mutations.
type AuditStore interface {
	Log(ctx context.Context, event, account string, detail map[string]any) error
	List(ctx context.Context, account string, opts ListOpts) ([]AuditEntry, error)
}
