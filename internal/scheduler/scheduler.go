package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	contactusecase "crm-backend/internal/contact/usecase"
	emailusecase "crm-backend/internal/email/usecase"
	insightusecase "crm-backend/internal/insight/usecase"
	"crm-backend/pkg/logger"

	rcron "github.com/robfig/cron/v3"
)

// DefaultReminderSpec checks for due follow-ups every 15 minutes.
const DefaultReminderSpec = "0 */15 * * * *"

// jobTimeout bounds a single scheduled run.
const jobTimeout = 10 * time.Minute

// Config holds the cron expressions (six fields, seconds first).
// Empty SyncSpec or ClassifySpec leaves that job unregistered.
type Config struct {
	ReminderSpec string
	SyncSpec     string
	ClassifySpec string
}

// Scheduler runs the follow-up reminder job and the optional in-process
// sync and classification jobs.
type Scheduler struct {
	cron      *rcron.Cron
	reminders contactusecase.ReminderUsecase
	sync      emailusecase.SyncUsecase
	insights  insightusecase.InsightUsecase
	now       func() time.Time
}

// NewScheduler registers the jobs. sync and insights may be nil.
func NewScheduler(cfg Config, reminders contactusecase.ReminderUsecase, sync emailusecase.SyncUsecase, insights insightusecase.InsightUsecase) (*Scheduler, error) {
	cronLog := rcron.PrintfLogger(&cronLogAdapter{})
	s := &Scheduler{
		cron: rcron.New(
			rcron.WithSeconds(),
			rcron.WithChain(rcron.Recover(cronLog), rcron.SkipIfStillRunning(cronLog)),
		),
		reminders: reminders,
		sync:      sync,
		insights:  insights,
		now:       time.Now,
	}

	spec := cfg.ReminderSpec
	if spec == "" {
		spec = DefaultReminderSpec
	}
	if _, err := s.cron.AddFunc(spec, s.runReminders); err != nil {
		return nil, fmt.Errorf("follow-up reminder schedule %q: %w", spec, err)
	}

	if cfg.SyncSpec != "" && sync != nil {
		if _, err := s.cron.AddFunc(cfg.SyncSpec, s.runSync); err != nil {
			return nil, fmt.Errorf("sync schedule %q: %w", cfg.SyncSpec, err)
		}
	}
	if cfg.ClassifySpec != "" && insights != nil {
		if _, err := s.cron.AddFunc(cfg.ClassifySpec, s.runClassify); err != nil {
			return nil, fmt.Errorf("classify schedule %q: %w", cfg.ClassifySpec, err)
		}
	}

	return s, nil
}

// Jobs reports the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	logger.With("scheduler").Info().Int("jobs", s.Jobs()).Msg("starting scheduler")
	s.cron.Start()
}

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logger.With("scheduler").Info().Msg("scheduler stopped")
	case <-ctx.Done():
		logger.With("scheduler").Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runReminders() {
	log := logger.With("scheduler")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	sent, err := s.reminders.RemindDue(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Int("sent", sent).Msg("follow-up reminders failed")
		return
	}
	if sent > 0 {
		log.Info().Int("sent", sent).Msg("follow-up reminders sent")
	}
}

func (s *Scheduler) runSync() {
	log := logger.With("scheduler")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.sync.Run(ctx)
	if errors.Is(err, emailusecase.ErrMailboxLocked) {
		log.Info().Msg("sync skipped, mailbox locked by another run")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("scheduled sync failed")
		return
	}
	log.Info().Interface("result", result).Msg("scheduled sync finished")
}

func (s *Scheduler) runClassify() {
	log := logger.With("scheduler")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.insights.ClassifyBatch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduled classification failed")
		return
	}
	log.Info().Interface("result", result).Msg("scheduled classification finished")
}

type cronLogAdapter struct{}

func (cronLogAdapter) Printf(format string, args ...interface{}) {
	logger.With("cron").Info().Msgf(format, args...)
}
