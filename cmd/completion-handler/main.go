package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/bootstrap"
	"github.com/hackgods/insured-appointments/internal/completion"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).Named("completion-handler")
	if err := run(cfg, logger); err != nil {
		logger.Error("completion-handler exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *logging.Logger) error {
	logger.Info("completion-handler starting up",
		zap.String("env", cfg.Env),
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

	transport, err := bootstrap.OpenTransport(connectCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer transport.Close()

	source, err := transport.ConfirmationSource()
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	bootstrap.ServeMetrics(rootCtx, cfg.MetricsPort, logger)

	h := completion.NewHandler(index.Store, logger, m)
	consumer := messaging.NewConsumer(completion.Name, source, h.Handle, logger, m, bootstrap.ConsumerOptions(cfg)...)
	consumer.Start(rootCtx)

	<-rootCtx.Done()
	logger.Info("shutdown signal received, draining in-flight messages")
	consumer.Wait()
	logger.Info("completion-handler stopped")
	return nil
}
