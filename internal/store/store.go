package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/models"
)

const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxLifetime = 5 * time.Minute
	busyTimeoutMs   = 5000
)

// IsPostgresURL reports whether the database URL selects PostgreSQL
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// NewDialer returns a Dialer for the configured database. PostgreSQL URLs
// go through lib/pq; anything else is treated as a SQLite file path.
func NewDialer(cfg config.DatabaseConfig) Dialer {
	return func(ctx context.Context) (*gorm.DB, error) {
		var dialector gorm.Dialector
		if IsPostgresURL(cfg.URL) {
			dialector = postgres.New(postgres.Config{
				DriverName: "postgres",
				DSN:        cfg.URL,
			})
		} else {
			dialector = sqlite.Open(sqliteDSN(cfg.URL))
		}

		db, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger: logger.New(
				log.New(os.Stdout, "\r\n", log.LstdFlags),
				logger.Config{
					LogLevel:                  logger.Error,
					IgnoreRecordNotFoundError: true,
					SlowThreshold:             200 * time.Millisecond,
				},
			),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Get underlying sql.DB to configure connection pool
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)

		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return db, nil
	}
}

// sqliteDSN attaches pragmas to every pooled connection. WAL and a busy
// timeout let concurrent writers queue instead of failing immediately.
func sqliteDSN(path string) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs),
		"foreign_keys(1)",
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	values := url.Values{}
	for _, p := range pragmas {
		values.Add("_pragma", p)
	}
	return path + sep + values.Encode()
}

// Migrate creates or updates the schema
func Migrate(ctx context.Context, acc *Accessor) error {
	return acc.Do(ctx, func(db *gorm.DB) error {
		return models.AutoMigrate(db)
	})
}

// Open builds the shared handle and accessor for cfg and migrates the schema
func Open(ctx context.Context, cfg config.DatabaseConfig, zlog zerolog.Logger) (*Conn, *Accessor, error) {
	conn := NewConn(NewDialer(cfg), zlog)
	acc := NewAccessor(conn, zlog, WithPolicy(RetryPolicy{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialDelay:      cfg.RetryInitialDelay,
		BackoffMultiplier: cfg.RetryMultiplier,
	}))

	if err := Migrate(ctx, acc); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return conn, acc, nil
}
