package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-relay/internal/api"
	"github.com/dvloznov/statement-relay/internal/app"
	"github.com/dvloznov/statement-relay/internal/config"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/worker"
)

func main() {
	bootLog := logger.New()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, logCloser, err := logger.Setup(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}
	defer a.Close()

	w := worker.New(a.Orchestrator, cfg.PollInterval)

	var ops *api.Server
	if cfg.OpsAddr != "" {
		opts := api.Options{Heartbeat: w}
		if a.Memory != nil {
			opts.Requests = a.Memory
		}
		ops = api.NewServer(cfg.OpsAddr, api.NewRouter(log, opts), log)
		ops.Start()
	}

	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}
	log.Info().Dur("poll_interval", cfg.PollInterval).Msg("Worker started")

	<-ctx.Done()
	log.Info().Msg("Shutting down worker...")

	// A retrieval in flight is allowed to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := w.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Request still in flight at shutdown")
	}
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping ops server")
		}
	}

	log.Info().Msg("Worker exited")
}
