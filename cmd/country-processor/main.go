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
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/internal/processor"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).Named("country-processor")
	if err := run(cfg, logger); err != nil {
		logger.Error("country-processor exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *logging.Logger) error {
	country, err := appointment.ParseCountry(cfg.Country)
	if err != nil {
		return fmt.Errorf("COUNTRY: %w", err)
	}
	logger = logger.With(zap.String("country", string(country)))
	logger.Info("country-processor starting up",
		zap.String("env", cfg.Env),
		zap.String("transport", cfg.Transport),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancelConnect()

	ledger, err := bootstrap.OpenLedger(connectCtx, cfg, country, logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer ledger.Close()

	transport, err := bootstrap.OpenTransport(connectCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer transport.Close()

	source, err := transport.CountrySource(country)
	if err != nil {
		return err
	}
	confirmations, err := transport.Confirmations()
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	bootstrap.ServeMetrics(rootCtx, cfg.MetricsPort, logger)

	p := processor.New(ledger.Store, confirmations, logger, m)
	consumer := messaging.NewConsumer(p.Name(), source, p.Handle, logger, m, bootstrap.ConsumerOptions(cfg)...)
	consumer.Start(rootCtx)

	<-rootCtx.Done()
	logger.Info("shutdown signal received, draining in-flight messages")
	consumer.Wait()
	logger.Info("country-processor stopped")
	return nil
}
