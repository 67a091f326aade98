package ledger

import (
	"context"
	"time"

	"github.com/tradewind/tradewind/internal/domain"
)

// Writer persists cycle outcomes. Upsert must be idempotent on
// (asset_id, cycle_ts): retrying a persist after a timeout overwrites the
// same row instead of duplicating it.
type Writer interface {
	Upsert(ctx context.Context, rec domain.LedgerRecord) error
}

// Reader serves historical records back to the trading path and the
// dashboard API.
type Reader interface {
	// ReadRecent returns up to limit records for the asset, newest first.
	ReadRecent(ctx context.Context, assetID string, limit int) ([]domain.LedgerRecord, error)

	// ReadLastTimestamp returns the cycle timestamp of the asset's most
	// recent record, or the zero time with a nil error when none exist.
	ReadLastTimestamp(ctx context.Context, assetID string) (time.Time, error)
}

// HealthStore persists the staleness monitor's per-asset state so alert
// suppression survives restarts.
type HealthStore interface {
	UpsertHealth(ctx context.Context, h domain.AssetHealth) error

	// ReadHealth returns the stored health row, or nil with a nil error when
	// the asset has never been classified.
	ReadHealth(ctx context.Context, assetID string) (*domain.AssetHealth, error)
}

// Store is the full persistence surface backed by a single database.
type Store interface {
	Writer
	Reader
	HealthStore
}
