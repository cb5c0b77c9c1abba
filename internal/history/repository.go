package history

import (
	"context"
	"time"
)

// Repository stores reschedule attempts.
type Repository interface {
	// Save stores a new attempt record.
	Save(ctx context.Context, attempt *Attempt) error

	// ListRecent returns up to limit attempts, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Attempt, error)

	// DeleteOld removes attempts older than the cutoff and reports how
	// many were removed.
	DeleteOld(ctx context.Context, before time.Time) (int64, error)

	// Close releases the underlying store.
	Close() error
}

// NoopRepository discards attempts. Used when no history path is configured.
type NoopRepository struct{}

func (NoopRepository) Save(ctx context.Context, attempt *Attempt) error { return nil }
func (NoopRepository) ListRecent(ctx context.Context, limit int) ([]*Attempt, error) {
	return nil, nil
}
func (NoopRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (NoopRepository) Close() error { return nil }
