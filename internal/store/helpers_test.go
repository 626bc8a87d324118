package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/config"
)

func testDialer(t *testing.T) Dialer {
	t.Helper()
	return NewDialer(config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "store.sqlite")})
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := testDialer(t)(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { closeHandle(db) })
	return db
}
