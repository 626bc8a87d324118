// Package storetest opens throwaway SQLite databases for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/store"
)

// Open returns a migrated accessor over a fresh SQLite file in t.TempDir().
// Retries are quick so failing tests fail fast.
func Open(t *testing.T) *store.Accessor {
	t.Helper()

	cfg := config.DatabaseConfig{
		URL:               filepath.Join(t.TempDir(), "sitebook.sqlite"),
		RetryMaxAttempts:  3,
		RetryInitialDelay: 10 * time.Millisecond,
		RetryMultiplier:   2,
	}
	conn, acc, err := store.Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return acc
}
