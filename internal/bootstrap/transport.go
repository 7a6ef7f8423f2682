package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// Transport exposes the fan-out and confirmation channels of the configured
// broker.
type Transport struct {
	kind string

	// AWS
	sqs *sqs.Client
	sns *sns.Client

	// RabbitMQ
	conn *amqp.Connection

	cfg     config.Config
	logger  *logging.Logger
	closers []func() error
}

// OpenTransport connects to the configured broker. On RabbitMQ it also
// declares the topology.
func OpenTransport(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Transport, error) {
	t := &Transport{kind: cfg.Transport, cfg: cfg, logger: logger}

	switch cfg.Transport {
	case config.TransportRabbitMQ:
		conn, err := messaging.DialRabbit(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		t.conn = conn
		t.closers = append(t.closers, conn.Close)

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open topology channel: %w", err)
		}
		countries := make([]string, 0, len(appointment.Countries()))
		for _, c := range appointment.Countries() {
			countries = append(countries, string(c))
		}
		err = messaging.DeclareTopology(ch, countries)
		_ = ch.Close()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("rabbitmq topology declared")

	default:
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		t.sqs = sqs.NewFromConfig(awsCfg)
		t.sns = sns.NewFromConfig(awsCfg)
	}

	logger.Info("transport ready", zap.String("transport", t.kind))
	return t, nil
}

func (t *Transport) channel(prefetch int) (*messaging.RabbitChannel, error) {
	ch, err := messaging.OpenRabbitChannel(t.conn, prefetch)
	if err != nil {
		return nil, err
	}
	t.closers = append(t.closers, ch.Close)
	return ch, nil
}

// Fanout publishes created events to every country subscriber.
func (t *Transport) Fanout() (messaging.Publisher, error) {
	if t.kind == config.TransportRabbitMQ {
		ch, err := t.channel(1)
		if err != nil {
			return nil, err
		}
		return messaging.NewRabbitPublisher(ch, messaging.CreatedExchange), nil
	}
	if t.cfg.CreatedTopicARN == "" {
		return nil, errors.New("CREATED_TOPIC_ARN is required")
	}
	return messaging.NewSNSTopic(t.sns, t.cfg.CreatedTopicARN), nil
}

// CountrySource is the fan-out subscriber queue of country.
func (t *Transport) CountrySource(country appointment.Country) (messaging.Source, error) {
	if t.kind == config.TransportRabbitMQ {
		ch, err := t.channel(t.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		return messaging.NewRabbitQueue(ch, messaging.CreatedQueue(string(country))), nil
	}
	url := t.cfg.QueueURLs[string(country)]
	if url == "" {
		return nil, fmt.Errorf("QUEUE_URL_%s is required", country)
	}
	return messaging.NewSQSQueue(t.sqs, url, t.cfg.DLQURLs[string(country)], t.cfg.ReceiveWait), nil
}

// CountryQueue is the SQS subscriber queue of country, used by the Lambda
// adapter to move messages to the dead-letter queue.
func (t *Transport) CountryQueue(country appointment.Country) (*messaging.SQSQueue, error) {
	if t.sqs == nil {
		return nil, errors.New("lambda requires the aws transport")
	}
	url := t.cfg.QueueURLs[string(country)]
	if url == "" {
		return nil, fmt.Errorf("QUEUE_URL_%s is required", country)
	}
	return messaging.NewSQSQueue(t.sqs, url, t.cfg.DLQURLs[string(country)], t.cfg.ReceiveWait), nil
}

// Confirmations publishes ledger confirmations.
func (t *Transport) Confirmations() (messaging.Publisher, error) {
	if t.kind == config.TransportRabbitMQ {
		ch, err := t.channel(1)
		if err != nil {
			return nil, err
		}
		return messaging.NewRabbitPublisher(ch, messaging.ConfirmedExchange), nil
	}
	q, err := t.ConfirmationQueue()
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ConfirmationSource is the queue the completion handler drains.
func (t *Transport) ConfirmationSource() (messaging.Source, error) {
	if t.kind == config.TransportRabbitMQ {
		ch, err := t.channel(t.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		return messaging.NewRabbitQueue(ch, messaging.ConfirmationQueue), nil
	}
	q, err := t.ConfirmationQueue()
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ConfirmationQueue is the SQS confirmation queue.
func (t *Transport) ConfirmationQueue() (*messaging.SQSQueue, error) {
	if t.sqs == nil {
		return nil, errors.New("confirmation queue requires the aws transport")
	}
	if t.cfg.ConfirmationQueue == "" {
		return nil, errors.New("CONFIRMATION_QUEUE_URL is required")
	}
	return messaging.NewSQSQueue(t.sqs, t.cfg.ConfirmationQueue, t.cfg.ConfirmationDLQ, t.cfg.ReceiveWait), nil
}

// Close releases channels and the broker connection in reverse order.
func (t *Transport) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil && !errors.Is(err, amqp.ErrClosed) {
			t.logger.Warn("transport close failed", zap.Error(err))
		}
	}
}
