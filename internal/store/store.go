package store

import (
	"context"

	"github.com/quantfall/binance-data/internal/model"
)

// Store persists one canonical dataset per series.
type Store interface {
	// Load reads the canonical dataset. Returns ErrNotFound when none has
	// been written for the series.
	Load(ctx context.Context, series model.Series) (*model.Dataset, error)

	// Replace swaps in a new canonical dataset atomically.
	Replace(ctx context.Context, ds *model.Dataset) error

	// Append extends the canonical dataset's tail. Records must already be
	// ordered and deduplicated against the stored tail; the first record
	// may not precede it.
	Append(ctx context.Context, series model.Series, records []model.Record) error

	// Tail returns the last persisted record, the continuation point for a
	// live feed. ok is false when no records are stored.
	Tail(ctx context.Context, series model.Series) (model.Record, bool, error)
}
