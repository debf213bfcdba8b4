package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/finledger/ledgerd/internal/valuation"
)

// StatisticRepository persists rebuilt portfolio statistic rows.
type StatisticRepository struct {
	db *DB
}

// NewStatisticRepository constructs a StatisticRepository over db.
func NewStatisticRepository(db *DB) *StatisticRepository { return &StatisticRepository{db: db} }

// dayKey truncates to the calendar date, UTC, so that Phase A's historical
// insert (midnight) and Phase C's "now" insert (wall-clock) for the same
// date collide on the same key - the ON CONFLICT below then makes whichever
// write lands last win, per §3/§9's per-(user, calendar_date) uniqueness.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Upsert writes one statistic row, keyed by (user_id, day_key) so that a
// same-calendar-day recompute overwrites rather than duplicates - last
// write wins per §4.8.
func (r *StatisticRepository) Upsert(ctx context.Context, s valuation.Statistic) error {
	dist, err := json.Marshal(s.Distribution)
	if err != nil {
		return err
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO statistics (user_id, date, day_key, total_usd, distribution)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day_key) DO UPDATE SET
			date = excluded.date, total_usd = excluded.total_usd, distribution = excluded.distribution`,
		s.UserID, s.Date.UTC().Format(time.RFC3339), dayKey(s.Date), s.TotalUSD, string(dist))
	return err
}

// ForUserOrdered returns every statistic row for a user, ordered by date ascending.
func (r *StatisticRepository) ForUserOrdered(ctx context.Context, userID string) ([]valuation.Statistic, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT user_id, date, total_usd, distribution FROM statistics
		WHERE user_id = ? ORDER BY date ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStatistics(rows)
}

// Latest returns the most recent statistic row for a user, or nil if none exists.
func (r *StatisticRepository) Latest(ctx context.Context, userID string) (*valuation.Statistic, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT user_id, date, total_usd, distribution FROM statistics
		WHERE user_id = ? ORDER BY date DESC LIMIT 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats, err := scanStatistics(rows)
	if err != nil || len(stats) == 0 {
		return nil, err
	}
	return &stats[0], nil
}

// AtOrBefore returns the statistic row closest to but not after t, or nil.
func (r *StatisticRepository) AtOrBefore(ctx context.Context, userID string, t time.Time) (*valuation.Statistic, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT user_id, date, total_usd, distribution FROM statistics
		WHERE user_id = ? AND date <= ? ORDER BY date DESC LIMIT 1`,
		userID, t.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats, err := scanStatistics(rows)
	if err != nil || len(stats) == 0 {
		return nil, err
	}
	return &stats[0], nil
}

// DeleteAtOrAfter removes every statistic row for a user from t onward.
// Phase B does not call it: it overwrites existing rows in place.
func (r *StatisticRepository) DeleteAtOrAfter(ctx context.Context, userID string, t time.Time) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		DELETE FROM statistics WHERE user_id = ? AND date >= ?`,
		userID, t.UTC().Format(time.RFC3339))
	return err
}

func scanStatistics(rows *sql.Rows) ([]valuation.Statistic, error) {
	var out []valuation.Statistic
	for rows.Next() {
		var s valuation.Statistic
		var date, dist string
		if err := rows.Scan(&s.UserID, &date, &s.TotalUSD, &dist); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, err
		}
		s.Date = parsed
		s.Distribution = make(map[valuation.AssetClass]float64)
		if err := json.Unmarshal([]byte(dist), &s.Distribution); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
