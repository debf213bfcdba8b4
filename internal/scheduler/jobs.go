package scheduler

import (
	"context"
	"time"

	"github.com/finledger/ledgerd/internal/ingest"
	"github.com/finledger/ledgerd/internal/valuation"
)

// Cron schedules per §4.9, interpreted in the scheduler's configured
// timezone. Five-field standard cron: minute hour day month weekday.
const (
	ScheduleFXRefresh        = "0 0 * * *"  // every 24h, at local midnight
	ScheduleDirectoryRefresh = "0 3 * * 0"  // every 7d, Sunday 03:00
	ScheduleHourly           = "0 * * * *"  // every 1h, also drives current_price refresh and rebuild_all
	ScheduleDailyClose       = "0 18 * * *" // daily 18:00 local
	ScheduleRetentionPurge   = "0 2 * * *"  // daily 02:00 local
	ScheduleAssetIntake      = "* * * * *"  // every 1m, the §6 upstream asset-lifecycle boundary
)

type fxRefreshJob struct{ jobs *ingest.Jobs }

func (j fxRefreshJob) Name() string { return "fx_refresh" }
func (j fxRefreshJob) Run(ctx context.Context) error {
	return j.jobs.RefreshFX(ctx)
}

// NewFXRefreshJob wraps ingest.Jobs.RefreshFX.
func NewFXRefreshJob(jobs *ingest.Jobs) Job { return fxRefreshJob{jobs: jobs} }

type directoryRefreshJob struct{ jobs *ingest.Jobs }

func (j directoryRefreshJob) Name() string { return "directory_refresh" }
func (j directoryRefreshJob) Run(ctx context.Context) error {
	return j.jobs.RefreshDirectory(ctx)
}

// NewDirectoryRefreshJob wraps ingest.Jobs.RefreshDirectory. Also used for the
// startup immediate refresh via Scheduler.RunNow.
func NewDirectoryRefreshJob(jobs *ingest.Jobs) Job { return directoryRefreshJob{jobs: jobs} }

type latestHourlyJob struct{ jobs *ingest.Jobs }

func (j latestHourlyJob) Name() string { return "latest_hourly_bars" }
func (j latestHourlyJob) Run(ctx context.Context) error {
	return j.jobs.FetchLatestHourly(ctx, time.Now())
}

// NewLatestHourlyJob wraps ingest.Jobs.FetchLatestHourly.
func NewLatestHourlyJob(jobs *ingest.Jobs) Job { return latestHourlyJob{jobs: jobs} }

type dailyCloseJob struct{ jobs *ingest.Jobs }

func (j dailyCloseJob) Name() string { return "daily_close_bars" }
func (j dailyCloseJob) Run(ctx context.Context) error {
	return j.jobs.FetchDailyClose(ctx, time.Now())
}

// NewDailyCloseJob wraps ingest.Jobs.FetchDailyClose.
func NewDailyCloseJob(jobs *ingest.Jobs) Job { return dailyCloseJob{jobs: jobs} }

type retentionPurgeJob struct{ jobs *ingest.Jobs }

func (j retentionPurgeJob) Name() string { return "retention_purge" }
func (j retentionPurgeJob) Run(ctx context.Context) error {
	return j.jobs.PurgeRetention(ctx, time.Now())
}

// NewRetentionPurgeJob wraps ingest.Jobs.PurgeRetention.
func NewRetentionPurgeJob(jobs *ingest.Jobs) Job { return retentionPurgeJob{jobs: jobs} }

type rebuildAllJob struct{ builder *valuation.StatBuilder }

func (j rebuildAllJob) Name() string { return "rebuild_all" }
func (j rebuildAllJob) Run(ctx context.Context) error {
	if errs := j.builder.RebuildAll(ctx); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// NewRebuildAllJob wraps valuation.StatBuilder.RebuildAll. Per-user failures
// are logged individually inside RebuildAll; only the first is surfaced here
// so the scheduler's own failure log has something to report.
func NewRebuildAllJob(builder *valuation.StatBuilder) Job { return rebuildAllJob{builder: builder} }

// AssetLister is the read side of the asset store the intake job polls.
type AssetLister interface {
	UpdatedSince(ctx context.Context, since time.Time) ([]*valuation.Asset, error)
}

// AssetEventHandler is the §6 upstream boundary the intake job drives.
type AssetEventHandler interface {
	OnAssetCreated(ctx context.Context, asset *valuation.Asset) error
	OnAssetMutated(ctx context.Context, asset *valuation.Asset) error
	OnAssetClosed(ctx context.Context, asset *valuation.Asset) error
}

// assetIntakeJob polls for assets that appeared or changed since its last
// run and turns each row into an on_asset_created/mutated/closed call. A
// poll-based boundary stands in for whatever system of record owns asset
// creation upstream (on the spec's out-of-scope list); the cursor and
// per-ID "seen" set are kept in memory, matching the teacher's watcher loop,
// which also tracks its own scan progress rather than persisting a cursor.
type assetIntakeJob struct {
	assets  AssetLister
	handler AssetEventHandler
	cursor  time.Time
	seen    map[string]struct{}
}

// NewAssetIntakeJob wraps an AssetLister/AssetEventHandler pair as a Job.
func NewAssetIntakeJob(assets AssetLister, handler AssetEventHandler) Job {
	return &assetIntakeJob{assets: assets, handler: handler, seen: make(map[string]struct{})}
}

func (j *assetIntakeJob) Name() string { return "asset_intake" }

func (j *assetIntakeJob) Run(ctx context.Context) error {
	changed, err := j.assets.UpdatedSince(ctx, j.cursor)
	if err != nil {
		return err
	}

	var firstErr error
	for _, asset := range changed {
		if asset.UpdatedAt.After(j.cursor) {
			j.cursor = asset.UpdatedAt
		}
		_, alreadySeen := j.seen[asset.ID]
		j.seen[asset.ID] = struct{}{}

		var handleErr error
		switch {
		case asset.Status == valuation.StatusClosed:
			handleErr = j.handler.OnAssetClosed(ctx, asset)
		case !alreadySeen:
			handleErr = j.handler.OnAssetCreated(ctx, asset)
		default:
			handleErr = j.handler.OnAssetMutated(ctx, asset)
		}
		if handleErr != nil && firstErr == nil {
			firstErr = handleErr
		}
	}
	return firstErr
}
