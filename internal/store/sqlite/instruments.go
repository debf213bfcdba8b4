package sqlite

import (
	"context"
	"database/sql"

	"github.com/finledger/ledgerd/internal/valuation"
)

// InstrumentRepository persists the weekly instrument directory snapshot.
type InstrumentRepository struct {
	db *DB
}

// NewInstrumentRepository constructs an InstrumentRepository over db.
func NewInstrumentRepository(db *DB) *InstrumentRepository { return &InstrumentRepository{db: db} }

// Upsert replaces the directory entries by (symbol, venue) UPSERT, as §4.6 prefers
// over delete-then-insert.
func (r *InstrumentRepository) Upsert(ctx context.Context, instruments []valuation.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	return WithTx(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO instruments (symbol, venue, display_venue, name, country, quote_currency)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, venue) DO UPDATE SET
				display_venue = excluded.display_venue,
				name = excluded.name,
				country = excluded.country,
				quote_currency = excluded.quote_currency`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, inst := range instruments {
			if _, err := stmt.ExecContext(ctx, inst.Symbol, inst.Venue, inst.DisplayVenue, inst.Name, inst.Country, inst.QuoteCurrency); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a single instrument entry, or nil if not found.
func (r *InstrumentRepository) Get(ctx context.Context, symbol, venue string) (*valuation.Instrument, error) {
	var inst valuation.Instrument
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT symbol, venue, display_venue, name, country, quote_currency FROM instruments WHERE symbol = ? AND venue = ?`,
		symbol, venue).Scan(&inst.Symbol, &inst.Venue, &inst.DisplayVenue, &inst.Name, &inst.Country, &inst.QuoteCurrency)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
