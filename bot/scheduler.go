package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"giveaway-bot/cleanup"
	"giveaway-bot/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScanRunner runs one background scan pass.
type ScanRunner interface {
	RunBackground(ctx context.Context) []models.ScanResult
}

// CleanupRunner runs one cleanup sweep.
type CleanupRunner interface {
	RunCleanup(ctx context.Context) cleanup.Report
}

// Scheduler owns the two recurring loops. A panic in a job is recovered and a
// tick that arrives while the previous run of the same job is still going is skipped.
type Scheduler struct {
	c       *cron.Cron
	scan    ScanRunner
	sweep   CleanupRunner
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	oneShot sync.WaitGroup
}

// NewScheduler registers the scan and cleanup jobs. Nothing runs until Start.
func NewScheduler(scan ScanRunner, sweep CleanupRunner, scanEvery, cleanupEvery time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if scanEvery < time.Minute || cleanupEvery < time.Minute {
		return nil, fmt.Errorf("scheduler intervals must be at least one minute (scan %s, cleanup %s)", scanEvery, cleanupEvery)
	}

	logger = logger.With().Str("module", "scheduler").Logger()
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		c:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		scan:   scan,
		sweep:  sweep,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.c.AddFunc(every(scanEvery), s.runScan); err != nil {
		cancel()
		return nil, fmt.Errorf("could not set up scan job: %w", err)
	}
	if _, err := s.c.AddFunc(every(cleanupEvery), s.runCleanup); err != nil {
		cancel()
		return nil, fmt.Errorf("could not set up cleanup job: %w", err)
	}
	logger.Info().Dur("scan_every", scanEvery).Dur("cleanup_every", cleanupEvery).Msg("Scheduler initialized")
	return s, nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Start begins running the recurring jobs.
func (s *Scheduler) Start() {
	s.c.Start()
	s.logger.Info().Msg("Scheduler started")
}

// ScanNow starts one background scan outside the schedule, as done at startup.
func (s *Scheduler) ScanNow() {
	s.oneShot.Add(1)
	go func() {
		defer s.oneShot.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("Startup scan panicked")
			}
		}()
		s.logger.Info().Msg("Performing initial scan on startup...")
		s.runScan()
	}()
}

// Stop cancels the loops and waits for running jobs to finish their current
// channel.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
	s.oneShot.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runScan() {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	results := s.scan.RunBackground(s.ctx)
	posted := 0
	for _, r := range results {
		posted += len(r.NewLinks)
	}
	s.logger.Info().Int("channels", len(results)).Int("posted", posted).Dur("took", time.Since(start)).Msg("Scheduled scan done")
}

func (s *Scheduler) runCleanup() {
	if s.ctx.Err() != nil {
		return
	}
	rep := s.sweep.RunCleanup(s.ctx)
	if len(rep.Errors) > 0 {
		s.logger.Warn().Int("errors", len(rep.Errors)).Int("deleted", rep.Deleted).Msg("Scheduled cleanup finished with errors")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
