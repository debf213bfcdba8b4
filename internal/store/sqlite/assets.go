package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/finledger/ledgerd/internal/valuation"
)

// AssetRepository persists Asset rows.
type AssetRepository struct {
	db *DB
}

// NewAssetRepository constructs an AssetRepository over db.
func NewAssetRepository(db *DB) *AssetRepository { return &AssetRepository{db: db} }

// bondSettingsWire is the JSON-serializable shape of valuation.BondSettings;
// the wire format keys interest rates by period-index string, matching §4.2.
type bondSettingsWire struct {
	CapitalizationOfInterest      bool               `json:"capitalization_of_interest"`
	CapitalizationFrequencyMonths *int               `json:"capitalization_frequency_months"`
	RateResetFrequencyMonths      int                `json:"rate_reset_frequency_months"`
	InterestRates                 map[string]float64 `json:"interest_rates"`
	PurchaseDate                  time.Time          `json:"purchase_date"`
	MaturityDate                  time.Time          `json:"maturity_date"`
}

func encodeBondSettings(s *valuation.BondSettings) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	rates := make(map[string]float64, len(s.InterestRates))
	for k, v := range s.InterestRates {
		rates[strconv.Itoa(k)] = v.RatePercent
	}
	wire := bondSettingsWire{
		CapitalizationOfInterest:      s.CapitalizationOfInterest,
		CapitalizationFrequencyMonths: s.CapitalizationFrequencyMonths,
		RateResetFrequencyMonths:      s.RateResetFrequencyMonths,
		InterestRates:                 rates,
		PurchaseDate:                  s.PurchaseDate,
		MaturityDate:                  s.MaturityDate,
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeBondSettings(raw sql.NullString) (*valuation.BondSettings, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var wire bondSettingsWire
	if err := json.Unmarshal([]byte(raw.String), &wire); err != nil {
		return nil, err
	}
	rates, err := valuation.ParseInterestRateSchedule(wire.InterestRates)
	if err != nil {
		return nil, err
	}
	return &valuation.BondSettings{
		CapitalizationOfInterest:      wire.CapitalizationOfInterest,
		CapitalizationFrequencyMonths: wire.CapitalizationFrequencyMonths,
		RateResetFrequencyMonths:      wire.RateResetFrequencyMonths,
		InterestRates:                 rates,
		PurchaseDate:                  wire.PurchaseDate,
		MaturityDate:                  wire.MaturityDate,
	}, nil
}

// Upsert inserts or replaces a single asset.
func (r *AssetRepository) Upsert(ctx context.Context, a *valuation.Asset) error {
	bondJSON, err := encodeBondSettings(a.BondSettings)
	if err != nil {
		return err
	}
	var closedAt sql.NullString
	if a.ClosedAt != nil {
		closedAt = sql.NullString{String: a.ClosedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO assets (id, user_id, class, status, symbol, venue, currency, quantity, purchase_price, purchase_date, current_price, closed_at, bond_settings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class = excluded.class, status = excluded.status, symbol = excluded.symbol, venue = excluded.venue,
			currency = excluded.currency, quantity = excluded.quantity, purchase_price = excluded.purchase_price,
			purchase_date = excluded.purchase_date, current_price = excluded.current_price,
			closed_at = excluded.closed_at, bond_settings = excluded.bond_settings, updated_at = excluded.updated_at`,
		a.ID, a.UserID, string(a.Class), string(a.Status), a.Symbol, a.Venue, a.Currency, a.Quantity,
		a.PurchasePrice, a.PurchaseDate.UTC().Format(time.RFC3339), a.CurrentPrice, closedAt, bondJSON,
		a.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// SetCurrentPrice updates only the cached current_price column.
func (r *AssetRepository) SetCurrentPrice(ctx context.Context, assetID string, price float64) error {
	_, err := r.db.Conn().ExecContext(ctx, `UPDATE assets SET current_price = ? WHERE id = ?`, price, assetID)
	return err
}

// ActiveForUser returns all active assets for a user.
func (r *AssetRepository) ActiveForUser(ctx context.Context, userID string) ([]*valuation.Asset, error) {
	return r.queryAssets(ctx, `SELECT id, user_id, class, status, symbol, venue, currency, quantity, purchase_price, purchase_date, current_price, closed_at, bond_settings, updated_at
		FROM assets WHERE user_id = ? AND status = ?`, userID, string(valuation.StatusActive))
}

// AllForUser returns every asset for a user regardless of status, used by Phases A/B
// to reconstruct history that may include since-closed positions.
func (r *AssetRepository) AllForUser(ctx context.Context, userID string) ([]*valuation.Asset, error) {
	return r.queryAssets(ctx, `SELECT id, user_id, class, status, symbol, venue, currency, quantity, purchase_price, purchase_date, current_price, closed_at, bond_settings, updated_at
		FROM assets WHERE user_id = ?`, userID)
}

// MostRecentlyUpdatedActive returns the user's most-recently-updated active asset, or nil.
func (r *AssetRepository) MostRecentlyUpdatedActive(ctx context.Context, userID string) (*valuation.Asset, error) {
	assets, err := r.queryAssets(ctx, `SELECT id, user_id, class, status, symbol, venue, currency, quantity, purchase_price, purchase_date, current_price, closed_at, bond_settings, updated_at
		FROM assets WHERE user_id = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`, userID, string(valuation.StatusActive))
	if err != nil || len(assets) == 0 {
		return nil, err
	}
	return assets[0], nil
}

// UpdatedSince returns every asset whose updated_at is strictly after since,
// ordered oldest-first so a caller tracking a high-water-mark cursor can
// advance it to the last row's timestamp without skipping a tie.
func (r *AssetRepository) UpdatedSince(ctx context.Context, since time.Time) ([]*valuation.Asset, error) {
	return r.queryAssets(ctx, `SELECT id, user_id, class, status, symbol, venue, currency, quantity, purchase_price, purchase_date, current_price, closed_at, bond_settings, updated_at
		FROM assets WHERE updated_at > ? ORDER BY updated_at ASC`, since.UTC().Format(time.RFC3339))
}

// DistinctUserIDs returns every distinct user ID with at least one asset.
func (r *AssetRepository) DistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `SELECT DISTINCT user_id FROM assets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DistinctActiveMarketSymbols returns every distinct (symbol, venue) pair with
// an active equity/etf or crypto asset, across all users, for C6's ingestion fan-out.
func (r *AssetRepository) DistinctActiveMarketSymbols(ctx context.Context) ([]struct{ Symbol, Venue string }, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT symbol, venue FROM assets
		WHERE status = ? AND class IN (?, ?) AND symbol != ''`,
		string(valuation.StatusActive), string(valuation.ClassEquityETF), string(valuation.ClassCrypto))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []struct{ Symbol, Venue string }
	for rows.Next() {
		var s struct{ Symbol, Venue string }
		if err := rows.Scan(&s.Symbol, &s.Venue); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *AssetRepository) queryAssets(ctx context.Context, query string, args ...interface{}) ([]*valuation.Asset, error) {
	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*valuation.Asset
	for rows.Next() {
		a := &valuation.Asset{}
		var class, status, purchaseDate, updatedAt string
		var closedAt, bondSettings sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &class, &status, &a.Symbol, &a.Venue, &a.Currency, &a.Quantity,
			&a.PurchasePrice, &purchaseDate, &a.CurrentPrice, &closedAt, &bondSettings, &updatedAt); err != nil {
			return nil, err
		}
		a.Class = valuation.AssetClass(class)
		a.Status = valuation.AssetStatus(status)
		if a.PurchaseDate, err = time.Parse(time.RFC3339, purchaseDate); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, err
			}
			a.ClosedAt = &t
		}
		if a.BondSettings, err = decodeBondSettings(bondSettings); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
