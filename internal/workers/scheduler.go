package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/tasks"
)

// Enqueuer is the part of asynq.Client the scheduler uses
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues the maintenance tasks on their cron schedules
type Scheduler struct {
	cron      *cron.Cron
	client    Enqueuer
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// uniqueWindow keeps several worker processes from enqueueing the same run twice
const uniqueWindow = time.Minute

// NewScheduler validates the schedules in cfg and registers both jobs.
// Schedules use the standard 5-field format or descriptors like @daily.
func NewScheduler(client Enqueuer, cfg config.MaintenanceConfig, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		client:    client,
		retention: cfg.AppointmentRetention,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}

	if _, err := s.cron.AddFunc(cfg.SessionPurgeSchedule, s.enqueuePurge); err != nil {
		return nil, fmt.Errorf("invalid session purge schedule %q: %w", cfg.SessionPurgeSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.enqueuePrune); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}

	now := s.now()
	for name, spec := range map[string]string{
		tasks.TypePurgeSessions:     cfg.SessionPurgeSchedule,
		tasks.TypePruneAppointments: cfg.PruneSchedule,
	} {
		if next := NextRun(spec, now); next != nil {
			s.logger.Info().Str("task", name).Str("schedule", spec).Time("next_run", *next).Msg("Scheduled maintenance task")
		}
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron loop and waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) enqueuePurge() {
	task, err := tasks.NewPurgeSessionsTask(s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create session purge task")
		return
	}
	s.enqueue(task)
}

func (s *Scheduler) enqueuePrune() {
	task, err := tasks.NewPruneAppointmentsTask(s.now(), s.retention)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create prune task")
		return
	}
	s.enqueue(task)
}

func (s *Scheduler) enqueue(task *asynq.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := s.client.EnqueueContext(ctx, task, asynq.Unique(uniqueWindow))
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			s.logger.Debug().Str("task", task.Type()).Msg("Task already enqueued by another scheduler")
			return
		}
		s.logger.Error().Err(err).Str("task", task.Type()).Msg("Failed to enqueue maintenance task")
		return
	}

	s.logger.Info().
		Str("task", task.Type()).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Msg("Maintenance task enqueued")
}

// NextRun calculates the next run time from a cron schedule, or nil if the
// schedule does not parse
func NextRun(spec string, from time.Time) *time.Time {
	if spec == "" {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil
	}

	next := schedule.Next(from)
	return &next
}
