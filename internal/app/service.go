// Package app wires §6's upstream asset-lifecycle boundary
// (on_asset_created/on_asset_mutated/on_asset_closed) into the valuation
// core: every event runs C7's per-asset backfill (skipped on close) and then
// C8's rebuild_for_user with backwards=true, since any lifecycle change can
// alter historical reconstruction, not just the "now" row.
package app

import (
	"context"
	"errors"

	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/valuation"
)

// Backfiller is the subset of valuation.Backfiller the service depends on.
type Backfiller interface {
	Backfill(ctx context.Context, asset *valuation.Asset) error
}

// Rebuilder is the subset of valuation.StatBuilder the service depends on.
type Rebuilder interface {
	RebuildForUser(ctx context.Context, userID string, backwards bool) error
}

// Service implements the three upstream entrypoints. It holds no state of
// its own: every call is a synchronous backfill-then-rebuild round trip, so
// whatever drives these methods (a poller, a queue consumer, an API handler)
// controls concurrency and retry.
type Service struct {
	Backfill Backfiller
	Rebuild  Rebuilder
	Logger   *common.Logger
}

// OnAssetCreated handles a newly-arrived asset: backfill its price history,
// then rebuild the owning user's statistics all the way back to purchase.
func (s *Service) OnAssetCreated(ctx context.Context, asset *valuation.Asset) error {
	return s.handle(ctx, asset, true)
}

// OnAssetMutated handles a changed asset (quantity, bond terms, venue, ...).
// Treated identically to creation: a mutation can move the asset's effective
// purchase date or classification, so the backfill pre-check must run again.
func (s *Service) OnAssetMutated(ctx context.Context, asset *valuation.Asset) error {
	return s.handle(ctx, asset, true)
}

// OnAssetClosed handles an asset leaving the active book. No new price
// history is needed for a position that no longer accrues, but the user's
// statistics must still be rebuilt so Phase C drops it from "now" while
// Phase A/B keep valuing it up to closed_at (§9).
func (s *Service) OnAssetClosed(ctx context.Context, asset *valuation.Asset) error {
	return s.handle(ctx, asset, false)
}

func (s *Service) handle(ctx context.Context, asset *valuation.Asset, backfill bool) error {
	if backfill {
		if err := s.Backfill.Backfill(ctx, asset); err != nil && !errors.Is(err, valuation.ErrOverlappingHistory) {
			s.Logger.Error().Str("user_id", asset.UserID).Str("asset_id", asset.ID).Err(err).Msg("asset backfill failed")
		}
	}
	if err := s.Rebuild.RebuildForUser(ctx, asset.UserID, true); err != nil {
		return err
	}
	return nil
}
