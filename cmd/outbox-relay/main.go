package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/outbox"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Service.StoreDriver != "postgres" {
		fmt.Fprintln(os.Stderr, "outbox-relay requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name + "-outbox-relay",
		Version:     cfg.Service.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	publisher, err := outbox.NewJetStreamPublisher(ctx, cfg.NATS, log)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()

	relay := outbox.NewRelay(repository.NewPostgresStore(db), publisher, cfg.Outbox, cfg.NATS.SubjectPrefix, log)

	log.Info().
		Str("stream", cfg.NATS.Stream).
		Dur("poll_interval", cfg.Outbox.PollInterval).
		Int("batch_size", cfg.Outbox.BatchSize).
		Msg("Starting outbox relay")
	if err := relay.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Outbox relay stopped with error")
		return
	}
	log.Info().Msg("Outbox relay stopped")
}
