package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sitebook-dev/sitebook/internal/tasks"
)

// SessionPurger deletes expired sessions
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// AppointmentPruner deletes available appointments that ended before cutoff
type AppointmentPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Maintenance holds the handlers for the periodic cleanup tasks
type Maintenance struct {
	sessions     SessionPurger
	appointments AppointmentPruner
	retention    time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewMaintenance creates the maintenance handlers. retention is the default
// age past which an unbooked appointment is pruned.
func NewMaintenance(sessions SessionPurger, appointments AppointmentPruner, retention time.Duration, logger zerolog.Logger) *Maintenance {
	return &Maintenance{
		sessions:     sessions,
		appointments: appointments,
		retention:    retention,
		logger:       logger.With().Str("component", "maintenance").Logger(),
		now:          time.Now,
	}
}

// Register adds the maintenance handlers to mux
func (m *Maintenance) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypePurgeSessions, m.HandlePurgeSessions)
	mux.HandleFunc(tasks.TypePruneAppointments, m.HandlePruneAppointments)
}

// HandlePurgeSessions removes expired session rows
func (m *Maintenance) HandlePurgeSessions(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	removed, err := m.sessions.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge sessions: %w", err)
	}

	m.logger.Info().
		Int64("removed", removed).
		Dur("lag", m.lag(payload)).
		Msg("Expired sessions purged")
	return nil
}

// HandlePruneAppointments removes stale available appointments. Booked
// appointments are never touched.
func (m *Maintenance) HandlePruneAppointments(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	retention := m.retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}
	if retention <= 0 {
		return fmt.Errorf("appointment retention must be positive: %w", asynq.SkipRetry)
	}
	cutoff := m.now().Add(-retention)

	removed, err := m.appointments.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune appointments: %w", err)
	}

	m.logger.Info().
		Int64("removed", removed).
		Time("cutoff", cutoff).
		Dur("lag", m.lag(payload)).
		Msg("Stale appointments pruned")
	return nil
}

func (m *Maintenance) lag(payload tasks.TaskPayload) time.Duration {
	if payload.ScheduledAt.IsZero() {
		return 0
	}
	return m.now().Sub(payload.ScheduledAt)
}
