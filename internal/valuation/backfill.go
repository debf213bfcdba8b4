package valuation

import (
	"context"
	"fmt"
	"time"
)

// thirtyDayBoundary is the split point between hourly and daily history
// fetches in §4.7.
const thirtyDayBoundary = 30 * 24 * time.Hour

// BarFetcher abstracts the quote provider's time series call, kept narrow so
// the backfill engine does not depend on the provider's transport package.
type BarFetcher interface {
	TimeSeries(ctx context.Context, symbol, venue string, interval Interval, start, end time.Time) ([]Bar, error)
}

// BarSink abstracts bar persistence for the backfill engine.
type BarSink interface {
	EarliestBarAtOrBefore(ctx context.Context, symbol, venue string, before time.Time) (bool, error)
	UpsertBars(ctx context.Context, bars []Bar) error
}

// OnBackfillComplete is invoked once the pre-check has completed, whether the
// fetches that follow succeed or fail, to trigger C8's rebuild_for_user. The
// bool reports whether the fetch step ran (false when the pre-check
// short-circuited); it is true even when every fetch failed.
type OnBackfillComplete func(ctx context.Context, userID string, triggered bool)

// Backfiller drives the per-asset price backfill (C7).
type Backfiller struct {
	Fetcher  BarFetcher
	Sink     BarSink
	OnDone   OnBackfillComplete
	Now      func() time.Time
}

func (b *Backfiller) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Backfill runs the pre-check and, if needed, the split hourly/daily fetch
// for a market asset. Once the pre-check succeeds it invokes OnDone for the
// owning user, whether or not new history was actually fetched, because C8
// must still run after asset creation/mutation even when the pre-check finds
// existing coverage. Non-market assets and a failed pre-check return without
// calling OnDone.
func (b *Backfiller) Backfill(ctx context.Context, asset *Asset) error {
	if !asset.IsMarketAsset() {
		return nil
	}
	now := b.now()

	exists, err := b.Sink.EarliestBarAtOrBefore(ctx, asset.Symbol, asset.Venue, asset.PurchaseDate)
	if err != nil {
		return fmt.Errorf("valuation: backfill pre-check: %w", err)
	}
	if exists {
		if b.OnDone != nil {
			b.OnDone(ctx, asset.UserID, false)
		}
		return ErrOverlappingHistory
	}

	var hourlyErr, dailyErr error
	if now.Sub(asset.PurchaseDate) > thirtyDayBoundary {
		boundary := now.Add(-thirtyDayBoundary)
		hourlyErr = b.fetchAndStore(ctx, asset, Interval1Hour, boundary, now)
		dailyErr = b.fetchAndStore(ctx, asset, Interval1Day, asset.PurchaseDate, boundary)
	} else {
		hourlyErr = b.fetchAndStore(ctx, asset, Interval1Hour, asset.PurchaseDate, now)
	}

	if b.OnDone != nil {
		b.OnDone(ctx, asset.UserID, true)
	}

	if hourlyErr != nil {
		return hourlyErr
	}
	return dailyErr
}

func (b *Backfiller) fetchAndStore(ctx context.Context, asset *Asset, interval Interval, start, end time.Time) error {
	bars, err := b.Fetcher.TimeSeries(ctx, asset.Symbol, asset.Venue, interval, start, end)
	if err != nil {
		return fmt.Errorf("%w: backfill %s %s: %v", ErrProvider, asset.Symbol, interval, err)
	}
	if err := b.Sink.UpsertBars(ctx, bars); err != nil {
		return fmt.Errorf("valuation: backfill store %s %s: %w", asset.Symbol, interval, err)
	}
	return nil
}
