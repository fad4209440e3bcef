package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/pkg/mrgun"
)

// shutdownTimeout bounds the graceful drain after SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("MRGUN_CONFIG"), "path to YAML configuration")
	flag.Parse()

	// .env is a local development convenience; production deployments set
	// real environment variables.
	_ = godotenv.Load()

	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("load config")
	}

	app, err := mrgun.NewApp(cfg)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("assemble application")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	bootstrap.Info().Str("address", cfg.Server.Address).Msg("server listening")

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			bootstrap.Error().Err(err).Msg("server stopped")
			exitCode = 1
		}
	case <-ctx.Done():
		bootstrap.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			bootstrap.Error().Err(err).Msg("graceful shutdown failed")
			exitCode = 1
		}
		cancel()
	}

	if err := app.Close(); err != nil {
		bootstrap.Error().Err(err).Msg("close resources")
		exitCode = 1
	}
	os.Exit(exitCode)
}
