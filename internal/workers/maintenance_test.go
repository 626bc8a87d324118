package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebook-dev/sitebook/internal/appointments"
	"github.com/sitebook-dev/sitebook/internal/store"
	"github.com/sitebook-dev/sitebook/internal/store/storetest"
	"github.com/sitebook-dev/sitebook/internal/tasks"
)

type fakePurger struct {
	removed int64
	err     error
	calls   int
}

func (f *fakePurger) DeleteExpired(context.Context) (int64, error) {
	f.calls++
	return f.removed, f.err
}

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return int64(len(f.cutoffs)), f.err
}

func fixedMaintenance(p SessionPurger, a AppointmentPruner, retention time.Duration, now time.Time) *Maintenance {
	m := NewMaintenance(p, a, retention, zerolog.Nop())
	m.now = func() time.Time { return now }
	return m
}

func TestHandlePruneAppointments_Cutoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	m := fixedMaintenance(&fakePurger{}, pruner, 30*24*time.Hour, now)

	t.Run("configured retention", func(t *testing.T) {
		task, err := tasks.NewPruneAppointmentsTask(now, 0)
		require.NoError(t, err)
		require.NoError(t, m.HandlePruneAppointments(context.Background(), task))
		require.Len(t, pruner.cutoffs, 1)
		assert.Equal(t, now.Add(-30*24*time.Hour), pruner.cutoffs[0])
	})

	t.Run("payload override", func(t *testing.T) {
		task, err := tasks.NewPruneAppointmentsTask(now, 6*time.Hour)
		require.NoError(t, err)
		require.NoError(t, m.HandlePruneAppointments(context.Background(), task))
		require.Len(t, pruner.cutoffs, 2)
		assert.Equal(t, now.Add(-6*time.Hour), pruner.cutoffs[1])
	})
}

func TestHandlePruneAppointments_Errors(t *testing.T) {
	now := time.Now()
	task, err := tasks.NewPruneAppointmentsTask(now, 0)
	require.NoError(t, err)

	m := fixedMaintenance(&fakePurger{}, &fakePruner{}, 0, now)
	err = m.HandlePruneAppointments(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	m = fixedMaintenance(&fakePurger{}, &fakePruner{err: store.ErrRetriesExhausted}, time.Hour, now)
	err = m.HandlePruneAppointments(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrRetriesExhausted)

	err = m.HandlePruneAppointments(context.Background(), asynq.NewTask(tasks.TypePruneAppointments, []byte("nope")))
	assert.Error(t, err)
}

func TestHandlePurgeSessions(t *testing.T) {
	purger := &fakePurger{removed: 7}
	m := fixedMaintenance(purger, &fakePruner{}, time.Hour, time.Now())

	task, err := tasks.NewPurgeSessionsTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, m.HandlePurgeSessions(context.Background(), task))
	assert.Equal(t, 1, purger.calls)

	purger.err = errors.New("disk full")
	assert.Error(t, m.HandlePurgeSessions(context.Background(), task))
}

func TestMaintenanceAgainstDatabase(t *testing.T) {
	acc := storetest.Open(t)
	ctx := context.Background()
	sessions := store.NewSessionStore(acc)
	appts := appointments.NewService(acc, zerolog.Nop())

	require.NoError(t, sessions.Commit("live", []byte("a"), time.Now().Add(time.Hour)))
	require.NoError(t, sessions.Commit("dead", []byte("b"), time.Now().Add(-time.Hour)))

	past := time.Now().Add(-72 * time.Hour)
	stale, err := appts.Create(ctx, appointments.SlotParams{StartsAt: past, EndsAt: past.Add(time.Hour)})
	require.NoError(t, err)
	soon := time.Now().Add(24 * time.Hour)
	upcoming, err := appts.Create(ctx, appointments.SlotParams{StartsAt: soon, EndsAt: soon.Add(time.Hour)})
	require.NoError(t, err)

	m := NewMaintenance(sessions, appts, 24*time.Hour, zerolog.Nop())

	purge, err := tasks.NewPurgeSessionsTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, m.HandlePurgeSessions(ctx, purge))

	_, found, err := sessions.Find("dead")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = sessions.Find("live")
	require.NoError(t, err)
	assert.True(t, found)

	prune, err := tasks.NewPruneAppointmentsTask(time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, m.HandlePruneAppointments(ctx, prune))

	remaining, err := appts.List(ctx, appointments.ListFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, a := range remaining {
		ids = append(ids, a.ID)
	}
	assert.NotContains(t, ids, stale.ID)
	assert.Contains(t, ids, upcoming.ID)
}
