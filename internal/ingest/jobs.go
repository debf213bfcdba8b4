// Package ingest implements the scheduled market data and FX ingestion jobs (C6).
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/quote"
	"github.com/finledger/ledgerd/internal/store/sqlite"
	"github.com/finledger/ledgerd/internal/valuation"
)

// Jobs groups the five scheduled ingestion tasks invoked by the scheduler (C9).
// Each method is idempotent under the bar store's conflict-do-nothing rule and
// isolates per-symbol failures: one bad symbol never aborts the rest of a batch.
type Jobs struct {
	Quote       *quote.Client
	Bars        *sqlite.BarRepository
	Instruments *sqlite.InstrumentRepository
	FX          *sqlite.FXRepository
	Assets      *sqlite.AssetRepository
	Logger      *common.Logger

	// FXPairs lists the "SRC/TGT" pairs the operator requires; §4.1 performs
	// no transitive inversion so every needed pair must be listed explicitly.
	FXPairs []string
}

// RefreshDirectory replaces the instrument directory snapshot via UPSERT on
// (symbol, venue_code), run weekly.
func (j *Jobs) RefreshDirectory(ctx context.Context) error {
	var failures int
	for _, kind := range []quote.InstrumentKind{quote.KindStocks, quote.KindETFs, quote.KindCrypto} {
		instruments, err := j.Quote.List(ctx, kind)
		if err != nil {
			failures++
			j.Logger.Warn().Str("kind", string(kind)).Err(err).Msg("directory refresh: list failed")
			continue
		}
		if err := j.Instruments.Upsert(ctx, instruments); err != nil {
			failures++
			j.Logger.Warn().Str("kind", string(kind)).Err(err).Msg("directory refresh: upsert failed")
			continue
		}
		j.Logger.Info().Str("kind", string(kind)).Int("count", len(instruments)).Msg("directory refresh: upserted")
	}
	if failures == 3 {
		return fmt.Errorf("directory refresh: all %d directory kinds failed", failures)
	}
	return nil
}

// RefreshFX re-fetches every configured currency pair and overwrites its row.
// A failed pair leaves the pre-existing row intact per §4.1.
func (j *Jobs) RefreshFX(ctx context.Context) error {
	var rates []valuation.FXRate
	var failures int
	for _, pair := range j.FXPairs {
		rate, err := j.Quote.ExchangeRate(ctx, pair)
		if err != nil {
			failures++
			j.Logger.Warn().Str("pair", pair).Err(err).Msg("fx refresh: fetch failed")
			continue
		}
		rates = append(rates, *rate)
	}
	if len(rates) == 0 && len(j.FXPairs) > 0 {
		return fmt.Errorf("fx refresh: all %d pairs failed", failures)
	}
	return j.FX.UpsertFXRates(ctx, rates)
}

// FetchLatestHourly requests the last hour of 1hour bars for every distinct
// active market (symbol, venue_code), run hourly.
func (j *Jobs) FetchLatestHourly(ctx context.Context, now time.Time) error {
	return j.fetchWindowForActiveSymbols(ctx, valuation.Interval1Hour, now.Add(-1*time.Hour), now)
}

// FetchDailyClose requests yesterday-to-today 1day bars for every distinct
// active market (symbol, venue_code), run daily at 18:00 local.
func (j *Jobs) FetchDailyClose(ctx context.Context, now time.Time) error {
	return j.fetchWindowForActiveSymbols(ctx, valuation.Interval1Day, now.AddDate(0, 0, -1), now)
}

func (j *Jobs) fetchWindowForActiveSymbols(ctx context.Context, interval valuation.Interval, start, end time.Time) error {
	symbols, err := j.Assets.DistinctActiveMarketSymbols(ctx)
	if err != nil {
		return fmt.Errorf("ingest: list active symbols: %w", err)
	}
	for _, s := range symbols {
		bars, err := j.Quote.TimeSeries(ctx, s.Symbol, s.Venue, interval, start, end)
		if err != nil {
			j.Logger.Warn().Str("symbol", s.Symbol).Str("venue", s.Venue).Err(err).Msg("ingest: time series fetch failed")
			continue
		}
		if err := j.Bars.UpsertBars(ctx, bars); err != nil {
			j.Logger.Warn().Str("symbol", s.Symbol).Str("venue", s.Venue).Err(err).Msg("ingest: upsert bars failed")
			continue
		}
	}
	return nil
}

// PurgeRetention deletes 1hour bars older than 30 days, run daily at 02:00 local.
func (j *Jobs) PurgeRetention(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -30)
	n, err := j.Bars.PurgeHourlyOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("ingest: retention purge: %w", err)
	}
	j.Logger.Info().Int64("deleted", n).Msg("retention purge complete")
	return nil
}
