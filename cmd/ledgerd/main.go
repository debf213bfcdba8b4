package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finledger/ledgerd/internal/app"
	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/ingest"
	"github.com/finledger/ledgerd/internal/quote"
	"github.com/finledger/ledgerd/internal/scheduler"
	"github.com/finledger/ledgerd/internal/store/sqlite"
	"github.com/finledger/ledgerd/internal/valuation"
)

func main() {
	configPath := os.Getenv("LEDGERD_CONFIG")

	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	common.LoadVersionFromFile()
	logger := common.NewLogger(config.Logging.Level)
	common.PrintBanner(config, logger)

	db, err := sqlite.Open(sqlite.Config{Path: config.Database.Path, Profile: sqlite.ProfileLedger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.Migrate(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	cancel()

	assets := sqlite.NewAssetRepository(db)
	bars := sqlite.NewBarRepository(db)
	instruments := sqlite.NewInstrumentRepository(db)
	fxStore := sqlite.NewFXRepository(db)
	stats := sqlite.NewStatisticRepository(db)

	quoteClient := quote.NewClient(config.Quote.APIKey,
		quote.WithBaseURL(config.Quote.BaseURL),
		quote.WithTimeout(config.Quote.GetTimeout()),
		quote.WithLogger(logger),
	)

	jobs := &ingest.Jobs{
		Quote:       quoteClient,
		Bars:        bars,
		Instruments: instruments,
		FX:          fxStore,
		Assets:      assets,
		Logger:      logger,
		FXPairs:     config.FX.Pairs,
	}

	fxTable := valuation.NewFXTable(fxStore)
	resolver := valuation.NewResolver(bars)
	locks := valuation.NewUserLocks()

	builder := &valuation.StatBuilder{
		Assets:   assets,
		Stats:    stats,
		Resolver: resolver,
		FX:       fxTable,
		Locks:    locks,
		Logger:   statLogger{logger: logger},
	}

	backfiller := &valuation.Backfiller{
		Fetcher: quoteClient,
		Sink:    bars,
		OnDone: func(ctx context.Context, userID string, triggered bool) {
			// triggered only reports whether a fetch ran; §6 requires a
			// backwards rebuild on every lifecycle event regardless.
			if err := builder.RebuildForUser(ctx, userID, true); err != nil {
				logger.Error().Str("user_id", userID).Err(err).Msg("statistic rebuild after backfill failed")
			}
		},
	}

	assetEvents := &app.Service{
		Backfill: backfiller,
		Rebuild:  builder,
		Logger:   logger,
	}

	sched := scheduler.New(logger, config.Scheduler.Location())
	directoryJob := scheduler.NewDirectoryRefreshJob(jobs)

	registrations := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduler.ScheduleFXRefresh, scheduler.NewFXRefreshJob(jobs)},
		{scheduler.ScheduleDirectoryRefresh, directoryJob},
		{scheduler.ScheduleHourly, scheduler.NewLatestHourlyJob(jobs)},
		{scheduler.ScheduleHourly, scheduler.NewRebuildAllJob(builder)},
		{scheduler.ScheduleDailyClose, scheduler.NewDailyCloseJob(jobs)},
		{scheduler.ScheduleRetentionPurge, scheduler.NewRetentionPurgeJob(jobs)},
		{scheduler.ScheduleAssetIntake, scheduler.NewAssetIntakeJob(assets, assetEvents)},
	}
	for _, r := range registrations {
		if err := sched.AddJob(r.schedule, r.job); err != nil {
			logger.Fatal().Str("job", r.job.Name()).Err(err).Msg("failed to register job")
		}
	}

	sched.RunNow(directoryJob)
	sched.Start()

	logger.Info().Msg("ledgerd ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	sched.Stop()
	common.PrintShutdownBanner(logger)
}

// statLogger adapts *common.Logger to valuation.StatLogger.
type statLogger struct {
	logger *common.Logger
}

func (s statLogger) Warn(userID, assetID string, err error) {
	s.logger.Warn().Str("user_id", userID).Str("asset_id", assetID).Err(err).Msg("asset excluded from statistic")
}
