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

// SaleStore persists the ledger's append-only sales history.
type SaleStore interface {
	InsertBatch(ctx context.Context, sales []SaleRecord) (int64, error)
	LastIndex(ctx context.Context) (int64, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SaleRecord, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]SaleRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
