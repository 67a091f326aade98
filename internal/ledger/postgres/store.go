package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/domain"
)

// Store is the Postgres-backed ledger. Every query runs under the configured
// timeout so a wedged database turns into a retryable step failure instead
// of a hung cycle.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, queryTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db, queryTimeout), nil
}

func New(db *sqlx.DB, queryTimeout time.Duration) *Store {
	return &Store{db: db, timeout: queryTimeout}
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS ledger_records (
	asset_id        TEXT             NOT NULL,
	cycle_ts        TIMESTAMPTZ      NOT NULL,
	action          TEXT             NOT NULL,
	magnitude       DOUBLE PRECISION NOT NULL,
	rationale       TEXT             NOT NULL DEFAULT '',
	prior_rationale TEXT             NOT NULL DEFAULT '',
	source          TEXT             NOT NULL,
	status          TEXT             NOT NULL,
	filled_amount   DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	order_ids       TEXT[]           NOT NULL DEFAULT '{}',
	error_detail    TEXT             NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (asset_id, cycle_ts)
);

CREATE INDEX IF NOT EXISTS idx_ledger_asset_recent
	ON ledger_records (asset_id, cycle_ts DESC);

CREATE TABLE IF NOT EXISTS asset_health (
	asset_id    TEXT        PRIMARY KEY,
	last_record TIMESTAMPTZ NOT NULL,
	last_alert  TIMESTAMPTZ NOT NULL,
	state       TEXT        NOT NULL
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Debug().Msg("ledger schema ensured")
	return nil
}

type recordRow struct {
	AssetID        string         `db:"asset_id"`
	CycleTS        time.Time      `db:"cycle_ts"`
	Action         string         `db:"action"`
	Magnitude      float64        `db:"magnitude"`
	Rationale      string         `db:"rationale"`
	PriorRationale string         `db:"prior_rationale"`
	Source         string         `db:"source"`
	Status         string         `db:"status"`
	FilledAmount   float64        `db:"filled_amount"`
	AvgPrice       float64        `db:"avg_price"`
	OrderIDs       pq.StringArray `db:"order_ids"`
	ErrorDetail    string         `db:"error_detail"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r recordRow) toDomain() domain.LedgerRecord {
	return domain.LedgerRecord{
		AssetID: r.AssetID,
		CycleTS: r.CycleTS,
		Decision: domain.Decision{
			AssetID:        r.AssetID,
			CycleTS:        r.CycleTS,
			Action:         domain.Action(r.Action),
			Magnitude:      r.Magnitude,
			Rationale:      r.Rationale,
			PriorRationale: r.PriorRationale,
			Source:         domain.DecisionSource(r.Source),
		},
		Result: domain.ExecutionResult{
			Status:       domain.ExecStatus(r.Status),
			FilledAmount: r.FilledAmount,
			AvgPrice:     r.AvgPrice,
			OrderIDs:     r.OrderIDs,
			Error:        r.ErrorDetail,
		},
		CreatedAt: r.CreatedAt,
	}
}

const upsertRecord = `
INSERT INTO ledger_records (
	asset_id, cycle_ts, action, magnitude, rationale, prior_rationale,
	source, status, filled_amount, avg_price, order_ids, error_detail, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (asset_id, cycle_ts) DO UPDATE SET
	action          = EXCLUDED.action,
	magnitude       = EXCLUDED.magnitude,
	rationale       = EXCLUDED.rationale,
	prior_rationale = EXCLUDED.prior_rationale,
	source          = EXCLUDED.source,
	status          = EXCLUDED.status,
	filled_amount   = EXCLUDED.filled_amount,
	avg_price       = EXCLUDED.avg_price,
	order_ids       = EXCLUDED.order_ids,
	error_detail    = EXCLUDED.error_detail,
	created_at      = EXCLUDED.created_at`

// Upsert writes one cycle record. Re-running the same cycle's persist
// overwrites the existing row, so retries after a write timeout are safe.
func (s *Store) Upsert(ctx context.Context, rec domain.LedgerRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, upsertRecord,
		rec.AssetID,
		rec.CycleTS,
		string(rec.Decision.Action),
		rec.Decision.Magnitude,
		rec.Decision.Rationale,
		rec.Decision.PriorRationale,
		string(rec.Decision.Source),
		string(rec.Result.Status),
		rec.Result.FilledAmount,
		rec.Result.AvgPrice,
		pq.StringArray(rec.Result.OrderIDs),
		rec.Result.Error,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger record for %s@%s: %w",
			rec.AssetID, rec.CycleTS.Format(time.RFC3339), err)
	}
	return nil
}

const selectRecent = `
SELECT asset_id, cycle_ts, action, magnitude, rationale, prior_rationale,
       source, status, filled_amount, avg_price, order_ids, error_detail, created_at
FROM ledger_records
WHERE asset_id = $1
ORDER BY cycle_ts DESC
LIMIT $2`

// ReadRecent returns up to limit records for the asset, newest first.
func (s *Store) ReadRecent(ctx context.Context, assetID string, limit int) ([]domain.LedgerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, selectRecent, assetID, limit); err != nil {
		return nil, fmt.Errorf("failed to read recent records for %s: %w", assetID, err)
	}

	records := make([]domain.LedgerRecord, len(rows))
	for i, r := range rows {
		records[i] = r.toDomain()
	}
	return records, nil
}

// ReadLastTimestamp returns the most recent cycle timestamp for the asset,
// or the zero time when the asset has no records yet.
func (s *Store) ReadLastTimestamp(ctx context.Context, assetID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ts time.Time
	err := s.db.GetContext(ctx, &ts,
		`SELECT cycle_ts FROM ledger_records WHERE asset_id = $1 ORDER BY cycle_ts DESC LIMIT 1`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last timestamp for %s: %w", assetID, err)
	}
	return ts, nil
}

const upsertHealth = `
INSERT INTO asset_health (asset_id, last_record, last_alert, state)
VALUES ($1, $2, $3, $4)
ON CONFLICT (asset_id) DO UPDATE SET
	last_record = EXCLUDED.last_record,
	last_alert  = EXCLUDED.last_alert,
	state       = EXCLUDED.state`

func (s *Store) UpsertHealth(ctx context.Context, h domain.AssetHealth) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, upsertHealth, h.AssetID, h.LastRecord, h.LastAlert, string(h.State))
	if err != nil {
		return fmt.Errorf("failed to upsert health for %s: %w", h.AssetID, err)
	}
	return nil
}

type healthRow struct {
	AssetID    string    `db:"asset_id"`
	LastRecord time.Time `db:"last_record"`
	LastAlert  time.Time `db:"last_alert"`
	State      string    `db:"state"`
}

func (s *Store) ReadHealth(ctx context.Context, assetID string) (*domain.AssetHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row healthRow
	err := s.db.GetContext(ctx, &row,
		`SELECT asset_id, last_record, last_alert, state FROM asset_health WHERE asset_id = $1`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read health for %s: %w", assetID, err)
	}
	return &domain.AssetHealth{
		AssetID:    row.AssetID,
		LastRecord: row.LastRecord,
		LastAlert:  row.LastAlert,
		State:      domain.HealthState(row.State),
	}, nil
}
