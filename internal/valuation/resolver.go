package valuation

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// BarStore is the read contract C3 uses to find the latest bar at or before
// an instant. Implementations are expected to already return bars ordered
// descending by Timestamp for the (symbol, venue) pair.
type BarStore interface {
	LatestBarsDescending(ctx context.Context, symbol, venue string, before time.Time) ([]Bar, error)
}

// Resolver dispatches price_at(asset, t) by asset classification. It is pure
// with respect to the store: no cache writes happen here (§4.3) — callers
// that want current_price caching do it themselves (C8's pre-Phase-C refresh).
type Resolver struct {
	bars BarStore
}

// NewResolver constructs a Resolver over the given bar store.
func NewResolver(bars BarStore) *Resolver {
	return &Resolver{bars: bars}
}

// PriceAt returns the asset's price, in the asset's own currency, at instant t.
func (r *Resolver) PriceAt(ctx context.Context, asset *Asset, t time.Time) (float64, error) {
	switch asset.Class {
	case ClassEquityETF, ClassCrypto:
		return r.marketPriceAt(ctx, asset, t)
	case ClassBond:
		if asset.BondSettings == nil {
			return 0, fmt.Errorf("valuation: bond asset %s has no bond settings", asset.ID)
		}
		return BondValue(asset.PurchasePrice, asset.BondSettings, t)
	default:
		return asset.PurchasePrice, nil
	}
}

// marketPriceAt finds the newest bar at or before t and returns its close,
// regardless of interval — the resolver orders by timestamp and does not
// filter by granularity (§4.3).
func (r *Resolver) marketPriceAt(ctx context.Context, asset *Asset, t time.Time) (float64, error) {
	bars, err := r.bars.LatestBarsDescending(ctx, asset.Symbol, asset.Venue, t)
	if err != nil {
		return 0, fmt.Errorf("valuation: load bars for %s/%s: %w", asset.Symbol, asset.Venue, err)
	}
	if len(bars) == 0 {
		return 0, ErrNoPrice
	}

	// Defensive re-sort: the binary search below assumes strict descending order,
	// mirroring findClosingPriceAsOf's contract on its input slice.
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.After(bars[j].Timestamp) })

	idx := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.After(t)
	})
	if idx >= len(bars) {
		return 0, ErrNoPrice
	}
	return bars[idx].Close, nil
}
