package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/bootstrap"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).Named("reconcile-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("reconcile-worker exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *logging.Logger) error {
	logger.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("stale_after", cfg.ReconcileStaleAfter),
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
	bootstrap.ServeMetrics(rootCtx, cfg.MetricsPort, logger)

	// The sweep never creates, so it runs without the insured lock.
	svc := appointment.NewService(index.Store, fanout, nil, cfg, logger, m)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reconcile worker")
			return nil
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ReconcilePending(runCtx)
	if err != nil {
		logger.Error("reconcile run failed", zap.Error(err))
		return
	}
	logger.Info("reconcile run complete",
		zap.Int("republished", n),
		zap.Duration("took", time.Since(start)),
	)
}
