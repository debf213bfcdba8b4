package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AssetStore is the subset of asset persistence the statistic builder needs.
type AssetStore interface {
	ActiveForUser(ctx context.Context, userID string) ([]*Asset, error)
	AllForUser(ctx context.Context, userID string) ([]*Asset, error)
	MostRecentlyUpdatedActive(ctx context.Context, userID string) (*Asset, error)
	SetCurrentPrice(ctx context.Context, assetID string, price float64) error
	DistinctUserIDs(ctx context.Context) ([]string, error)
}

// StatStore is the subset of statistic persistence the builder needs.
type StatStore interface {
	Upsert(ctx context.Context, s Statistic) error
	ForUserOrdered(ctx context.Context, userID string) ([]Statistic, error)
	Latest(ctx context.Context, userID string) (*Statistic, error)
}

// StatLogger is the narrow logging surface the builder needs to report
// per-asset exclusions without aborting the statistic being built.
type StatLogger interface {
	Warn(userID, assetID string, err error)
}

// StatBuilder implements rebuild_for_user and rebuild_all (C8).
type StatBuilder struct {
	Assets   AssetStore
	Stats    StatStore
	Resolver *Resolver
	FX       *FXTable
	Locks    *UserLocks
	Logger   StatLogger
	Now      func() time.Time
}

func (b *StatBuilder) warn(userID, assetID string, err error) {
	if b.Logger != nil {
		b.Logger.Warn(userID, assetID, err)
	}
}

// excludable reports whether err means "cannot value this asset, drop it
// from the statistic" per §7 - ErrUnknownRate and ErrBadBondRange must not
// poison the whole total - as opposed to a genuine storage failure that
// should abort the rebuild.
func excludable(err error) bool {
	return errors.Is(err, ErrUnknownRate) || errors.Is(err, ErrBadBondRange)
}

func (b *StatBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func truncDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// valueAssetAt resolves asset's contribution in USD at instant t, applying
// the §4.8 inner-loop rule: price lookup with purchase_price fallback on
// ErrNoPrice, quantity scaling, then currency conversion. The second return
// is false when the asset must be excluded from the statistic entirely
// (ErrUnknownRate, ErrBadBondRange) rather than aborting the whole rebuild.
func (b *StatBuilder) valueAssetAt(ctx context.Context, asset *Asset, t time.Time) (float64, bool, error) {
	unitPrice, err := b.Resolver.PriceAt(ctx, asset, t)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoPrice):
			unitPrice = asset.PurchasePrice
		case excludable(err):
			return 0, false, nil
		default:
			return 0, false, err
		}
	}
	contribution := unitPrice * asset.Quantity
	if asset.Currency != "" && asset.Currency != "USD" {
		converted, err := b.FX.Convert(ctx, asset.Currency, "USD", contribution)
		if err != nil {
			if excludable(err) {
				return 0, false, nil
			}
			return 0, false, err
		}
		contribution = converted
	}
	return contribution, true, nil
}

// valuePortfolioAt sums every asset's contribution at t, returning both the
// total and the per-class distribution. Excluded assets are skipped and logged.
func (b *StatBuilder) valuePortfolioAt(ctx context.Context, userID string, assets []*Asset, t time.Time) (float64, map[AssetClass]float64, error) {
	total := 0.0
	dist := make(map[AssetClass]float64)
	for _, a := range assets {
		contribution, ok, err := b.valueAssetAt(ctx, a, t)
		if err != nil {
			return 0, nil, fmt.Errorf("valuation: value asset %s at %s: %w", a.ID, t.Format(time.RFC3339), err)
		}
		if !ok {
			b.warn(userID, a.ID, fmt.Errorf("excluded from statistic at %s", t.Format(time.RFC3339)))
			continue
		}
		total += contribution
		dist[a.Class] += contribution
	}
	return total, dist, nil
}

// refreshCurrentPrices updates every active market asset's cached
// current_price from the latest bar, and recomputes bond current_price via
// the accrual engine at now, ahead of Phase C - §4.8's pre-Phase-C step.
func (b *StatBuilder) refreshCurrentPrices(ctx context.Context, assets []*Asset, now time.Time) {
	for _, a := range assets {
		if a.Class != ClassBond && !a.IsMarketAsset() {
			continue
		}
		price, err := b.Resolver.PriceAt(ctx, a, now)
		if err != nil {
			continue // leave the stale cached price rather than clobbering it with zero
		}
		a.CurrentPrice = price
		_ = b.Assets.SetCurrentPrice(ctx, a.ID, price)
	}
}

// RebuildForUser runs Phases A, B (only when backwards) and C (always) for a
// single user. Callers must serialize calls per user via Locks; RebuildAll
// does this automatically.
func (b *StatBuilder) RebuildForUser(ctx context.Context, userID string, backwards bool) error {
	trigger, err := b.Assets.MostRecentlyUpdatedActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("valuation: rebuild %s: find trigger asset: %w", userID, err)
	}
	if trigger == nil {
		return nil // no assets: return silently
	}

	now := b.now()
	d0 := truncDay(trigger.PurchaseDate)

	if backwards {
		if err := b.runPhaseA(ctx, userID, trigger, d0); err != nil {
			return err
		}
		if err := b.runPhaseB(ctx, userID, d0); err != nil {
			return err
		}
	}
	return b.runPhaseC(ctx, userID, now)
}

func (b *StatBuilder) historicalAssetsAt(ctx context.Context, userID string, t time.Time) ([]*Asset, error) {
	all, err := b.Assets.AllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, len(all))
	for _, a := range all {
		if a.ActiveAt(t) {
			out = append(out, a)
		}
	}
	return out, nil
}

// runPhaseA inserts a historical row at d0 unless the first existing row
// dated at or after d0 sits exactly at d0, using the triggering asset's
// recorded purchase_price since its own bar history may not have been
// backfilled at that instant. Rows dated before d0 do not affect the decision.
func (b *StatBuilder) runPhaseA(ctx context.Context, userID string, trigger *Asset, d0 time.Time) error {
	existing, err := b.Stats.ForUserOrdered(ctx, userID)
	if err != nil {
		return fmt.Errorf("valuation: phase A: load existing statistics: %w", err)
	}
	for _, row := range existing {
		if row.Date.Before(d0) {
			continue
		}
		if !row.Date.After(d0) {
			return nil
		}
		break
	}

	assets, err := b.historicalAssetsAt(ctx, userID, d0)
	if err != nil {
		return fmt.Errorf("valuation: phase A: load assets: %w", err)
	}

	total := 0.0
	dist := make(map[AssetClass]float64)
	for _, a := range assets {
		var contribution float64
		if a.ID == trigger.ID {
			contribution = trigger.PurchasePrice * trigger.Quantity
			if trigger.Currency != "" && trigger.Currency != "USD" {
				converted, err := b.FX.Convert(ctx, trigger.Currency, "USD", contribution)
				if err != nil {
					if excludable(err) {
						b.warn(userID, a.ID, err)
						continue
					}
					return fmt.Errorf("valuation: phase A: convert trigger asset: %w", err)
				}
				contribution = converted
			}
		} else {
			var ok bool
			var err error
			contribution, ok, err = b.valueAssetAt(ctx, a, d0)
			if err != nil {
				return fmt.Errorf("valuation: phase A: value asset %s: %w", a.ID, err)
			}
			if !ok {
				b.warn(userID, a.ID, fmt.Errorf("excluded from phase A"))
				continue
			}
		}
		total += contribution
		dist[a.Class] += contribution
	}

	return b.Stats.Upsert(ctx, Statistic{UserID: userID, Date: d0, TotalUSD: total, Distribution: dist})
}

// runPhaseB recomputes every existing row at or after d0 in place.
func (b *StatBuilder) runPhaseB(ctx context.Context, userID string, d0 time.Time) error {
	existing, err := b.Stats.ForUserOrdered(ctx, userID)
	if err != nil {
		return fmt.Errorf("valuation: phase B: load existing statistics: %w", err)
	}
	for _, row := range existing {
		if row.Date.Before(d0) {
			continue
		}
		assets, err := b.historicalAssetsAt(ctx, userID, row.Date)
		if err != nil {
			return fmt.Errorf("valuation: phase B: load assets at %s: %w", row.Date, err)
		}
		total, dist, err := b.valuePortfolioAt(ctx, userID, assets, row.Date)
		if err != nil {
			return fmt.Errorf("valuation: phase B: revalue %s: %w", row.Date, err)
		}
		if err := b.Stats.Upsert(ctx, Statistic{UserID: userID, Date: row.Date, TotalUSD: total, Distribution: dist}); err != nil {
			return fmt.Errorf("valuation: phase B: write %s: %w", row.Date, err)
		}
	}
	return nil
}

// runPhaseC computes the "now" statistic from active assets' cached current
// prices and inserts it only if the total changed from the latest row.
func (b *StatBuilder) runPhaseC(ctx context.Context, userID string, now time.Time) error {
	active, err := b.Assets.ActiveForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("valuation: phase C: load active assets: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	b.refreshCurrentPrices(ctx, active, now)

	total := 0.0
	dist := make(map[AssetClass]float64)
	for _, a := range active {
		unitPrice := a.CurrentPrice
		if unitPrice == 0 {
			unitPrice = a.PurchasePrice
		}
		contribution := unitPrice * a.Quantity
		if a.Currency != "" && a.Currency != "USD" {
			converted, err := b.FX.Convert(ctx, a.Currency, "USD", contribution)
			if err != nil {
				if excludable(err) {
					b.warn(userID, a.ID, err)
					continue
				}
				return fmt.Errorf("valuation: phase C: convert asset %s: %w", a.ID, err)
			}
			contribution = converted
		}
		total += contribution
		dist[a.Class] += contribution
	}

	latest, err := b.Stats.Latest(ctx, userID)
	if err != nil {
		return fmt.Errorf("valuation: phase C: load latest statistic: %w", err)
	}
	if latest != nil && latest.TotalUSD == total {
		return nil
	}
	return b.Stats.Upsert(ctx, Statistic{UserID: userID, Date: now, TotalUSD: total, Distribution: dist})
}

// RebuildAll fans rebuild_for_user(u, backwards=false) out over every distinct
// user concurrently. One user's failure never cancels another's: results are
// collected with a plain WaitGroup rather than an error-cancelling group, and
// each user's call is still serialized against any concurrent rebuild of the
// same user via Locks.
func (b *StatBuilder) RebuildAll(ctx context.Context) []error {
	userIDs, err := b.Assets.DistinctUserIDs(ctx)
	if err != nil {
		return []error{fmt.Errorf("valuation: rebuild_all: list users: %w", err)}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			var rebuildErr error
			b.Locks.With(userID, func() {
				rebuildErr = b.RebuildForUser(ctx, userID, false)
			})
			if rebuildErr != nil {
				mu.Lock()
				errs = append(errs, rebuildErr)
				mu.Unlock()
			}
		}(userID)
	}
	wg.Wait()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errs
}
