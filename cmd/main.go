package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "live-transcript-service/internal/api/grpc"
	"live-transcript-service/internal/app"
	"live-transcript-service/internal/config"
	httpapi "live-transcript-service/internal/http"
	"live-transcript-service/internal/observability"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.DefaultConfig())
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: time.RFC3339,
	})

	application := app.New(cfg, metrics.DefaultMetrics)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	obs := observability.NewServer(":" + cfg.Metrics.Port)
	grpcServer := grpcapi.New(":"+cfg.GRPC.Port, metrics.DefaultMetrics)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           httpapi.NewRouter(application, obs.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(grpcServer.ListenAndServe)
	if cfg.Metrics.Enabled {
		g.Go(obs.ListenAndServe)
	}

	obs.SetReady(true)
	grpcServer.SetServing(true)
	log.Info().
		Str("httpPort", cfg.HTTP.Port).
		Str("grpcPort", cfg.GRPC.Port).
		Str("metricsPort", cfg.Metrics.Port).
		Msg("Live transcript service ready")

	// Shutdown runs once either a signal arrives or a server fails.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown initiated")

		obs.SetReady(false)
		grpcServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		grpcServer.Stop()
		if err := application.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if cfg.Metrics.Enabled {
			if err := obs.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Service stopped")
}
