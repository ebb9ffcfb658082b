package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newt-tracker/offline/internal/admin"
	"github.com/newt-tracker/offline/internal/config"
	httpx "github.com/newt-tracker/offline/internal/http"
	"github.com/newt-tracker/offline/internal/observe"
)

const meterName = "github.com/newt-tracker/offline"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the asset manifest and serve the origin cache-first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		provider, metricsHandler, err := observe.NewPrometheusProvider()
		if err != nil {
			return err
		}
		defer func() { _ = provider.Shutdown(context.Background()) }()
		metrics, err := observe.NewMetrics(provider.Meter(meterName))
		if err != nil {
			return err
		}

		rt, err := newRuntime(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Until activation finishes every request goes straight to the origin.
		go func() {
			if err := rt.worker.StartWithRetry(ctx, backoff.NewExponentialBackOff()); err != nil {
				logger.Error("offline cache not activated; passing requests through", zap.Error(err))
			}
		}()

		server := &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     newMux(rt, metricsHandler),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening",
				zap.String("addr", cfg.ListenAddr),
				zap.String("origin", cfg.OriginURL),
				zap.String("cache", cfg.CacheName()),
				zap.String("store", cfg.Store))
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	},
}

// newMux keeps the service's own endpoints under admin.Prefix so every
// other path, /healthz or /metrics included, belongs to the origin.
func newMux(rt *runtime, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(admin.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(admin.ReadyPath, admin.Ready(rt.worker.State))
	mux.Handle(admin.MetricsPath, metricsHandler)
	mux.Handle(admin.StatusPath, &admin.Handler{Source: rt.worker, Log: logger})
	mux.Handle("/", httpx.NewHandler(rt.worker, rt.origin, logger))
	return mux
}
