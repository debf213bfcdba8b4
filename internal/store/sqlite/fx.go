package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/finledger/ledgerd/internal/valuation"
)

// FXRepository implements valuation.FXStore over the fx_rates table.
type FXRepository struct {
	db *DB
}

// NewFXRepository constructs an FXRepository over db.
func NewFXRepository(db *DB) *FXRepository { return &FXRepository{db: db} }

// GetFXRate returns the direct rate for (source, target), or nil if absent.
func (r *FXRepository) GetFXRate(ctx context.Context, source, target string) (*valuation.FXRate, error) {
	var rate valuation.FXRate
	var fetchedAt string
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT source_ccy, target_ccy, rate, fetched_at FROM fx_rates WHERE source_ccy = ? AND target_ccy = ?`,
		source, target).Scan(&rate.SourceCcy, &rate.TargetCcy, &rate.Rate, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rate.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// UpsertFXRates overwrites each (source, target) row. Each row is upserted
// independently so a single bad row does not roll back the others that
// already succeeded — §4.1's "partial failure leaves pre-existing rows intact".
func (r *FXRepository) UpsertFXRates(ctx context.Context, rates []valuation.FXRate) error {
	stmt, err := r.db.Conn().PrepareContext(ctx, `
		INSERT INTO fx_rates (source_ccy, target_ccy, rate, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_ccy, target_ccy) DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var firstErr error
	for _, rate := range rates {
		if _, err := stmt.ExecContext(ctx, rate.SourceCcy, rate.TargetCcy, rate.Rate, rate.FetchedAt.UTC().Format(time.RFC3339)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
