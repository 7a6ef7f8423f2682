package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/bootstrap"
	"github.com/hackgods/insured-appointments/internal/completion"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/internal/processor"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

type sqsHandler = func(context.Context, events.SQSEvent) (events.SQSEventResponse, error)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).Named("lambda-" + cfg.LambdaRole)

	// Connections are opened once per execution environment and reused
	// across invocations.
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	handler, err := build(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("lambda init failed", zap.Error(err))
	}

	lambda.Start(handler)
}

func build(ctx context.Context, cfg config.Config, logger *logging.Logger) (sqsHandler, error) {
	if cfg.Transport != config.TransportAWS {
		return nil, fmt.Errorf("lambda requires TRANSPORT=%s", config.TransportAWS)
	}

	transport, err := bootstrap.OpenTransport(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	m := metrics.New(nil)
	opts := bootstrap.ConsumerOptions(cfg)

	switch cfg.LambdaRole {
	case "processor":
		country, err := appointment.ParseCountry(cfg.Country)
		if err != nil {
			return nil, fmt.Errorf("COUNTRY: %w", err)
		}
		ledger, err := bootstrap.OpenLedger(ctx, cfg, country, logger)
		if err != nil {
			return nil, err
		}
		queue, err := transport.CountryQueue(country)
		if err != nil {
			return nil, err
		}
		confirmations, err := transport.Confirmations()
		if err != nil {
			return nil, err
		}
		p := processor.New(ledger.Store, confirmations, logger, m)
		return messaging.SQSEventHandler(p.Name(), p.Handle, queue, logger, m, opts...), nil

	case "completion":
		index, err := bootstrap.OpenIndex(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		queue, err := transport.ConfirmationQueue()
		if err != nil {
			return nil, err
		}
		h := completion.NewHandler(index.Store, logger, m)
		return messaging.SQSEventHandler(completion.Name, h.Handle, queue, logger, m, opts...), nil
	}

	return nil, fmt.Errorf("LAMBDA_ROLE must be processor or completion, got %q", cfg.LambdaRole)
}
