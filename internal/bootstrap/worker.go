package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// ConsumerOptions maps the retry and batching settings onto a consumer.
func ConsumerOptions(cfg config.Config) []messaging.Option {
	return []messaging.Option{
		messaging.WithWorkers(cfg.Workers),
		messaging.WithBatchSize(cfg.BatchSize),
		messaging.WithMaxAttempts(cfg.MaxAttempts),
		messaging.WithRetryBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}
}

// ServeMetrics exposes /metrics on port until ctx is done.
func ServeMetrics(ctx context.Context, port string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", zap.String("addr", srv.Addr))
}
