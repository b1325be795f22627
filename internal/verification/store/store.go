// Package store is the append-only verification ledger.
package store

import (
	"context"
	"time"

	"aidtrace/internal/verification/models"
)

// Store is implemented by InMemory and Postgres. Records are never deleted and
// MarkConfirmed only flips unconfirmed rows.
type Store interface {
	Append(ctx context.Context, rec *models.VerificationRecord) error
	MarkConfirmed(ctx context.Context, hash string, at time.Time) (int64, error)
	FindByHash(ctx context.Context, hash string) ([]*models.VerificationRecord, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error)
	ListPending(ctx context.Context, afterSeq int64, limit int) ([]*models.VerificationRecord, error)
	Stats(ctx context.Context) (models.Stats, error)
}

var (
	_ Store = (*InMemory)(nil)
	_ Store = (*Postgres)(nil)
)
