// Package scheduler runs the fixed-cadence ingestion and rebuild jobs (C9)
// inside a single process using robfig/cron.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/finledger/ledgerd/internal/common"
)

// Job is a named unit of scheduled work. Run receives the scheduler's root
// context, cancelled on shutdown; partial DB work already committed survives.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps a robfig/cron instance configured for the operator's local
// timezone. A missed tick is skipped, never coalesced - cron's default
// behavior already matches §4.9's requirement.
type Scheduler struct {
	cron   *cron.Cron
	logger *common.Logger
	root   context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler whose cron expressions are interpreted in loc.
func New(logger *common.Logger, loc *time.Location) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
		root:   root,
		cancel: cancel,
	}
}

// AddJob registers job under a standard five-field cron schedule expression.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		runLogger := s.logger.WithCorrelationId(common.CorrelationID(uuid.NewString()))
		start := time.Now()
		runLogger.Debug().Str("job", job.Name()).Msg("scheduled job starting")
		if err := job.Run(s.root); err != nil {
			runLogger.Error().Str("job", job.Name()).Dur("elapsed", time.Since(start)).Err(err).Msg("scheduled job failed")
			return
		}
		runLogger.Debug().Str("job", job.Name()).Dur("elapsed", time.Since(start)).Msg("scheduled job completed")
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its cron schedule - used for the
// startup directory refresh §4.9 requires.
func (s *Scheduler) RunNow(job Job) {
	s.logger.Info().Str("job", job.Name()).Msg("running job immediately")
	if err := job.Run(s.root); err != nil {
		s.logger.Error().Str("job", job.Name()).Err(err).Msg("startup job failed")
	}
}

// Start begins dispatching registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts dispatch, cancels the root context so any job still suspended
// on an I/O point unwinds, then waits for in-flight job runs to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.logger.Info().Msg("scheduler stopped")
}
