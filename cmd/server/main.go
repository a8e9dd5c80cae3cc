// Command server starts the Business Gemini pool gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/artifact"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/gemini"
	httpserver "github.com/nanlv11/business-gemini-pool/internal/adapter/httpserver"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/store"
	"github.com/nanlv11/business-gemini-pool/internal/app"
	"github.com/nanlv11/business-gemini-pool/internal/config"
	"github.com/nanlv11/business-gemini-pool/internal/pool"
	"github.com/nanlv11/business-gemini-pool/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, vendor, and pool instrumentation.
	observability.InitMetrics()

	// Settings store holds accounts, models, proxy, and the artifact link
	// base in one editable JSON file.
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("settings load failed", slog.Any("error", err))
		os.Exit(1)
	}

	artifacts, err := artifact.New(cfg.ImageCacheDir, cfg.ImageCacheTTL)
	if err != nil {
		slog.Error("artifact cache init failed", slog.Any("error", err))
		os.Exit(1)
	}

	vendor := gemini.New(cfg, st.Proxy())
	accountPool := pool.New(st.Accounts(), vendor, st)

	agg := gemini.NewAggregator(vendor, artifacts)
	dispatcher := usecase.NewDispatcher(accountPool, vendor, agg)
	files := usecase.NewFileService(accountPool, vendor)

	srv := httpserver.NewServer(cfg, accountPool, dispatcher, files, artifacts, st, vendor)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		total, available := accountPool.Counts()
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.Int("accounts", total),
			slog.Int("available", available))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
