package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/finledger/ledgerd/internal/valuation"
)

// BarRepository implements valuation.BarStore (C3's read path) and the
// full C4 Market Data Store contract: upsert-many with conflict-do-nothing,
// ranged ordered query, and 30-day hourly retention.
type BarRepository struct {
	db *DB
}

// NewBarRepository constructs a BarRepository over db.
func NewBarRepository(db *DB) *BarRepository { return &BarRepository{db: db} }

// UpsertBars inserts bars keyed by (symbol, venue, timestamp, interval),
// doing nothing on conflict — the same observation seen twice through
// overlapping fetch windows must not double-count volume or perturb OHLC.
// Rows with an empty symbol, a zero timestamp, a non-finite OHLC value, or a
// low/high that does not bracket open and close are dropped individually
// (ErrMalformedBar) without aborting the rest of the batch.
func (r *BarRepository) UpsertBars(ctx context.Context, bars []valuation.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return WithTx(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ohlcv_bars (symbol, venue, timestamp, interval, open, high, low, close, volume, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, venue, timestamp, interval) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			if err := validateBar(b); err != nil {
				continue // ErrMalformedBar: drop this row, keep the rest
			}
			if _, err := stmt.ExecContext(ctx, b.Symbol, b.Venue, b.Timestamp.UTC().Format(time.RFC3339),
				string(b.Interval), b.Open, b.High, b.Low, b.Close, b.Volume, b.Currency); err != nil {
				return fmt.Errorf("insert bar %s/%s@%s: %w", b.Symbol, b.Venue, b.Timestamp, err)
			}
		}
		return nil
	})
}

func validateBar(b valuation.Bar) error {
	if b.Symbol == "" || b.Timestamp.IsZero() {
		return valuation.ErrMalformedBar
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return valuation.ErrMalformedBar
		}
	}
	minOC, maxOC := b.Open, b.Close
	if minOC > maxOC {
		minOC, maxOC = maxOC, minOC
	}
	if b.Low > minOC || maxOC > b.High {
		return valuation.ErrMalformedBar
	}
	return nil
}

// Query returns bars for (symbol, venue, interval) within [start, end], ordered by timestamp ascending.
func (r *BarRepository) Query(ctx context.Context, symbol, venue string, interval valuation.Interval, start, end time.Time) ([]valuation.Bar, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT symbol, venue, timestamp, interval, open, high, low, close, volume, currency
		FROM ohlcv_bars
		WHERE symbol = ? AND venue = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		symbol, venue, string(interval), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows)
}

// LatestBarsDescending implements valuation.BarStore: returns all bars for
// (symbol, venue) at or before `before`, ordered by timestamp descending,
// across any interval — C3 does not filter by granularity.
func (r *BarRepository) LatestBarsDescending(ctx context.Context, symbol, venue string, before time.Time) ([]valuation.Bar, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT symbol, venue, timestamp, interval, open, high, low, close, volume, currency
		FROM ohlcv_bars
		WHERE symbol = ? AND venue = ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 500`,
		symbol, venue, before.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows)
}

// EarliestBarAtOrBefore reports whether any bar for (symbol, venue) exists at or before `before`.
func (r *BarRepository) EarliestBarAtOrBefore(ctx context.Context, symbol, venue string, before time.Time) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ohlcv_bars WHERE symbol = ? AND venue = ? AND timestamp <= ?`,
		symbol, venue, before.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PurgeHourlyOlderThan deletes 1hour bars older than the cutoff (§4.4 retention).
// Idempotent: running it twice with the same or later cutoff is a no-op on the second run.
func (r *BarRepository) PurgeHourlyOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Conn().ExecContext(ctx, `
		DELETE FROM ohlcv_bars WHERE interval = ? AND timestamp < ?`,
		string(valuation.Interval1Hour), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanBars(rows *sql.Rows) ([]valuation.Bar, error) {
	var out []valuation.Bar
	for rows.Next() {
		var b valuation.Bar
		var ts, interval string
		if err := rows.Scan(&b.Symbol, &b.Venue, &ts, &interval, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Currency); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse bar timestamp %q: %w", ts, err)
		}
		b.Timestamp = parsed
		b.Interval = valuation.Interval(interval)
		out = append(out, b)
	}
	return out, rows.Err()
}
