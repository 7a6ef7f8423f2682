package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/api"
	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/bootstrap"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).Named("api-server")
	if err := run(cfg, logger); err != nil {
		logger.Error("api-server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *logging.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("index", cfg.IndexBackend),
		zap.String("transport", cfg.Transport),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancelConnect()

	index, err := bootstrap.OpenIndex(connectCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("central index: %w", err)
	}
	defer index.Close()

	locker := bootstrap.OpenLocker(connectCtx, cfg, logger)
	defer locker.Close()

	transport, err := bootstrap.OpenTransport(connectCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer transport.Close()

	fanout, err := transport.Fanout()
	if err != nil {
		return fmt.Errorf("fan-out channel: %w", err)
	}

	m := metrics.New(nil)
	svc := appointment.NewService(index.Store, fanout, locker.Locker, cfg, logger, m)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Checks:  []bootstrap.Check{index.Check, locker.Check},
			Logger:  logger,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received, stopping api-server")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("api-server stopped")
	return nil
}
