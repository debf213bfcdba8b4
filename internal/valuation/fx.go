package valuation

import (
	"context"
	"fmt"
)

// FXStore is the persistence contract C1 reads and writes against.
type FXStore interface {
	GetFXRate(ctx context.Context, source, target string) (*FXRate, error)
	UpsertFXRates(ctx context.Context, rates []FXRate) error
}

// FXTable looks up direct source->target conversion rates. No transitive
// inversion is performed — a pair not stored directly is ErrUnknownRate,
// by design: chaining conversions through a pivot currency compounds
// provider error (§4.1).
type FXTable struct {
	store FXStore
}

// NewFXTable constructs an FXTable over the given store.
func NewFXTable(store FXStore) *FXTable {
	return &FXTable{store: store}
}

// Convert converts amount from src to tgt. Same-currency pairs are the identity.
func (t *FXTable) Convert(ctx context.Context, src, tgt string, amount float64) (float64, error) {
	if src == tgt {
		return amount, nil
	}
	rate, err := t.store.GetFXRate(ctx, src, tgt)
	if err != nil {
		return 0, fmt.Errorf("valuation: fx lookup %s->%s: %w", src, tgt, err)
	}
	if rate == nil {
		return 0, fmt.Errorf("%w: %s->%s", ErrUnknownRate, src, tgt)
	}
	return amount * rate.Rate, nil
}

// Refresh upserts a batch of freshly-fetched rates. Partial failure (a single
// row failing to upsert) must not roll back rows that already succeeded —
// the store's UPSERT-per-pair contract leaves any pre-existing row intact on
// failure for that pair only.
func (t *FXTable) Refresh(ctx context.Context, rates []FXRate) error {
	if len(rates) == 0 {
		return nil
	}
	return t.store.UpsertFXRates(ctx, rates)
}
