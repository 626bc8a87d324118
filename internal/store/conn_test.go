package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func countingDialer(t *testing.T) (Dialer, *atomic.Int32) {
	t.Helper()
	inner := testDialer(t)
	var dials atomic.Int32
	return func(ctx context.Context) (*gorm.DB, error) {
		dials.Add(1)
		return inner(ctx)
	}, &dials
}

func TestConn_DialsLazilyOnce(t *testing.T) {
	dial, dials := countingDialer(t)
	conn := NewConn(dial, zerolog.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	assert.Zero(t, dials.Load(), "nothing is dialled before first use")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.DB(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
}

func TestConn_DialFailureIsUnavailable(t *testing.T) {
	conn := NewConn(func(ctx context.Context) (*gorm.DB, error) {
		return nil, errors.New("connection refused")
	}, zerolog.Nop())

	_, err := conn.DB(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestConn_ReconnectKeepsHealthyHandle(t *testing.T) {
	dial, dials := countingDialer(t)
	conn := NewConn(dial, zerolog.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	db, err := conn.DB(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Reconnect(context.Background(), db))
	again, err := conn.DB(context.Background())
	require.NoError(t, err)

	assert.Same(t, db, again)
	assert.Equal(t, int32(1), dials.Load())
}

func TestConn_ReconnectReplacesDeadHandle(t *testing.T) {
	dial, dials := countingDialer(t)
	conn := NewConn(dial, zerolog.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	stale, err := conn.DB(context.Background())
	require.NoError(t, err)
	closeHandle(stale)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Reconnect(context.Background(), stale))
		}()
	}
	wg.Wait()

	fresh, err := conn.DB(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, int32(2), dials.Load(), "concurrent reconnects share one dial")
	assert.NoError(t, fresh.Exec("SELECT 1").Error)
}

func TestConn_ReconnectNeverOverlapsLazyDial(t *testing.T) {
	inner := testDialer(t)
	release := make(chan struct{})
	var dials, inFlight, maxInFlight atomic.Int32
	dial := func(ctx context.Context) (*gorm.DB, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if dials.Add(1) > 1 {
			<-release
		}
		return inner(ctx)
	}
	conn := NewConn(dial, zerolog.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	stale, err := conn.DB(context.Background())
	require.NoError(t, err)
	closeHandle(stale)

	done := make(chan error, 1)
	go func() { done <- conn.Reconnect(context.Background(), stale) }()
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db, err := conn.DB(context.Background())
			assert.NoError(t, err)
			assert.NotNil(t, db)
		}()
	}
	wg.Wait()

	close(release)
	require.NoError(t, <-done)

	fresh, err := conn.DB(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, int32(1), maxInFlight.Load(), "dials never run concurrently")
	assert.Equal(t, int32(2), dials.Load())
	assert.NoError(t, fresh.Exec("SELECT 1").Error)
}

func TestConn_FailedReconnectKeepsCurrentHandle(t *testing.T) {
	inner := testDialer(t)
	var fail atomic.Bool
	conn := NewConn(func(ctx context.Context) (*gorm.DB, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return inner(ctx)
	}, zerolog.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	stale, err := conn.DB(context.Background())
	require.NoError(t, err)
	closeHandle(stale)
	fail.Store(true)

	err = conn.Reconnect(context.Background(), stale)
	assert.ErrorIs(t, err, ErrUnavailable)

	current, err := conn.DB(context.Background())
	require.NoError(t, err)
	assert.Same(t, stale, current, "the handle is only swapped after a successful dial")

	fail.Store(false)
	require.NoError(t, conn.Reconnect(context.Background(), stale))
	fresh, err := conn.DB(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
}

func TestConn_Close(t *testing.T) {
	dial, dials := countingDialer(t)
	conn := NewConn(dial, zerolog.Nop())

	assert.NoError(t, conn.Close(), "closing an undialled handle is a no-op")

	_, err := conn.DB(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.DB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())
	require.NoError(t, conn.Close())
}
