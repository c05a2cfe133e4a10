package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/config"
	"github.com/akave-ai/dgramlog/internal/database"
	"github.com/akave-ai/dgramlog/internal/observability"
	"github.com/akave-ai/dgramlog/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("could not load config")
	}
	logger := observability.NewLogger(cfg.Observability)

	nr, err := observability.NewRelicApp(cfg.Observability)
	if err != nil {
		logger.Fatal().Err(err).Msg("new relic")
	}
	if nr != nil {
		defer nr.Shutdown(10 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Logger: logger, NewRelic: nr}
	if cfg.Database != nil {
		if err := database.RunMigrations(ctx, cfg.Database.URL, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		pool, err := database.NewPool(ctx, cfg.Database, logger, nr)
		if err != nil {
			logger.Fatal().Err(err).Msg("database pool")
		}
		defer pool.Close()
		deps.Pool = pool
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("server")
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	logger.Info().Msg("shut down")
}
