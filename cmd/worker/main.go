package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sitebook-dev/sitebook/internal/appointments"
	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/logger"
	"github.com/sitebook-dev/sitebook/internal/store"
	"github.com/sitebook-dev/sitebook/internal/tasks"
	"github.com/sitebook-dev/sitebook/internal/workers"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	log.Info().Str("version", version).Msg("Starting Sitebook maintenance worker")

	conn, acc, err := store.Open(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer conn.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Address}

	// Client used by the scheduler to enqueue maintenance runs
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Initialize Asynq server
	asynqServer := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				tasks.QueueDefault: 3,
				tasks.QueueLow:     1,
			},
			// Logging
			Logger: &asynqLogger{log: log},
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	maintenance := workers.NewMaintenance(
		store.NewSessionStore(acc),
		appointments.NewService(acc, log),
		cfg.Maintenance.AppointmentRetention,
		log,
	)
	maintenance.Register(mux)

	scheduler, err := workers.NewScheduler(asynqClient, cfg.Maintenance, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid maintenance schedule")
	}
	scheduler.Start()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Info().Msg("Starting Asynq worker server...")
		if err := asynqServer.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("Asynq worker server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	scheduler.Stop()
	asynqServer.Shutdown()

	log.Info().Msg("Worker shutdown complete")
}

// asynqLogger is a wrapper to make zerolog compatible with Asynq's logger interface
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
