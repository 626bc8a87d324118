package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/logger"
	"github.com/sitebook-dev/sitebook/internal/store"
)

// loadConfig is swapped out in tests
var loadConfig = config.Load

// openStore loads the configuration and opens the migrated database
func openStore(ctx context.Context) (*config.Config, *store.Accessor, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := cliLogger(cfg)
	conn, acc, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, acc, func() { _ = conn.Close() }, nil
}

// cliLogger keeps command output readable: warnings and up, console format
func cliLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Logging.Level
	if level == "" || level == "info" || level == "debug" {
		level = "warn"
	}
	return logger.New(os.Stderr, level, "console")
}

// promptPassword reads a password without echo. It refuses to block on a
// non-interactive stdin.
func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or SITEBOOK_ADMIN_PASSWORD env var)")
	}

	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

// describeDatabase names the database without leaking credentials
func describeDatabase(dsn string) string {
	if !store.IsPostgresURL(dsn) {
		return "sqlite " + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres"
	}
	return "postgres " + u.Host + u.Path
}
