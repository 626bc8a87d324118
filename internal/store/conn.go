package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/metrics"
)

// ErrUnavailable wraps failures to establish the database handle
var ErrUnavailable = errors.New("database unavailable")

// dialKey is the single singleflight key for every dial
const dialKey = "dial"

// Dialer opens a new database handle
type Dialer func(ctx context.Context) (*gorm.DB, error)

// Connector hands out the shared database handle and repairs it
type Connector interface {
	DB(ctx context.Context) (*gorm.DB, error)
	Reconnect(ctx context.Context, stale *gorm.DB) error
}

// Conn is the process-wide, lazily established database handle.
// It is passed explicitly to whoever needs it; there is no package global.
type Conn struct {
	dial   Dialer
	logger zerolog.Logger

	mu    sync.RWMutex
	db    *gorm.DB
	group singleflight.Group
}

// NewConn creates a connection handle. Nothing is dialled until first use.
func NewConn(dial Dialer, logger zerolog.Logger) *Conn {
	return &Conn{
		dial:   dial,
		logger: logger.With().Str("component", "store_conn").Logger(),
	}
}

// DB returns the shared handle, dialling it on first use
func (c *Conn) DB(ctx context.Context) (*gorm.DB, error) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := c.group.Do(dialKey, func() (interface{}, error) {
		c.mu.RLock()
		existing := c.db
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		return c.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

// Reconnect re-validates the handle the caller saw failing and re-dials it
// when it is unhealthy. Lazy dials and reconnects share one in-flight dial.
// The stale handle stays in place until its replacement is ready, and
// callers holding a handle that was already replaced do nothing.
func (c *Conn) Reconnect(ctx context.Context, stale *gorm.DB) error {
	_, err, _ := c.group.Do(dialKey, func() (interface{}, error) {
		c.mu.RLock()
		current := c.db
		c.mu.RUnlock()

		if current != stale {
			return current, nil
		}
		if current != nil && ping(ctx, current) == nil {
			metrics.StoreReconnects.WithLabelValues("healthy").Inc()
			return current, nil
		}

		c.logger.Warn().Msg("Database handle unhealthy - reconnecting")
		fresh, err := c.connect(ctx)
		if err != nil {
			metrics.StoreReconnects.WithLabelValues("failed").Inc()
			return nil, err
		}
		closeHandle(current)
		metrics.StoreReconnects.WithLabelValues("reconnected").Inc()
		return fresh, nil
	})
	return err
}

// Close releases the handle
func (c *Conn) Close() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Conn) connect(ctx context.Context) (*gorm.DB, error) {
	db, err := c.dial(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to connect to database")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	return db, nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeHandle(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
