package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

const (
	defaultWorkers     = 4
	defaultBatchSize   = 10
	defaultMaxAttempts = 5
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 5 * time.Minute
	maxBatchSize       = 10
	settleTimeout      = 5 * time.Second
)

// Consumer drains a Source with bounded concurrency and disposes of every
// message independently: ack on success, retry with backoff while attempts
// remain, dead-letter otherwise.
type Consumer struct {
	name    string
	source  Source
	handle  Handler
	logger  *logging.Logger
	metrics *metrics.Saga

	cfg consumerConfig
	wg  sync.WaitGroup
}

type consumerConfig struct {
	workers     int
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Option customizes consumer behavior.
type Option func(*consumerConfig)

// WithWorkers caps how many messages of a batch run concurrently.
func WithWorkers(n int) Option {
	return func(cfg *consumerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(cfg *consumerConfig) {
		if n <= 0 {
			return
		}
		if n > maxBatchSize {
			n = maxBatchSize
		}
		cfg.batchSize = n
	}
}

// WithMaxAttempts bounds deliveries before a message is dead-lettered.
func WithMaxAttempts(n int) Option {
	return func(cfg *consumerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the first retry delay and its cap. The delay doubles
// per attempt.
func WithRetryBackoff(base, limit time.Duration) Option {
	return func(cfg *consumerConfig) {
		if base > 0 {
			cfg.baseDelay = base
		}
		if limit > 0 {
			cfg.maxDelay = limit
		}
	}
}

func NewConsumer(name string, source Source, handle Handler, logger *logging.Logger, m *metrics.Saga, opts ...Option) *Consumer {
	if source == nil {
		panic("messaging: consumer source cannot be nil")
	}
	if handle == nil {
		panic("messaging: consumer handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := consumerConfig{
		workers:     defaultWorkers,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return &Consumer{
		name:    name,
		source:  source,
		handle:  handle,
		logger:  logger.Named(name),
		metrics: m,
		cfg:     cfg,
	}
}

// Start polls the source until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the poll loop exits and in-flight messages settle.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	c.logger.Info("consumer started",
		zap.Int("workers", c.cfg.workers),
		zap.Int("max_attempts", c.cfg.maxAttempts),
	)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping")
			return
		default:
		}

		msgs, err := c.source.Receive(ctx, c.cfg.batchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.ProcessBatch(ctx, msgs)
	}
}

// ProcessBatch handles msgs concurrently and returns once each one is
// disposed of. One message failing never affects the others.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []Message) {
	if len(msgs) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.workers)
	for _, msg := range msgs {
		g.Go(func() error {
			c.process(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer) process(ctx context.Context, msg Message) {
	start := time.Now()
	err := c.safeHandle(ctx, msg)

	// Disposition must reach the broker even during shutdown.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	log := c.logger.With(
		zap.String("message_id", msg.ID),
		zap.Int("attempt", msg.Attempt),
	)

	var outcome string
	switch {
	case err == nil:
		outcome = "ack"
		if ackErr := c.source.Ack(settleCtx, msg); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}

	case errors.Is(err, ErrDiscarded):
		outcome = "discarded"
		log.Warn("message discarded", zap.Error(err))
		if ackErr := c.source.Ack(settleCtx, msg); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}

	case IsPermanent(err) || msg.Attempt >= c.cfg.maxAttempts:
		outcome = "dead_letter"
		perr := &ProcessingError{
			Consumer:  c.name,
			MessageID: msg.ID,
			Attempt:   msg.Attempt,
			Permanent: IsPermanent(err),
			Err:       err,
		}
		c.metrics.ObserveDeadLetter(c.name)
		log.Error("message dead-lettered", zap.Error(perr))
		if dlqErr := c.source.DeadLetter(settleCtx, msg, perr); dlqErr != nil {
			log.Error("dead-letter failed, message will be redelivered", zap.Error(dlqErr))
		}

	default:
		outcome = "retry"
		delay := c.retryDelay(msg.Attempt)
		log.Warn("message failed, retrying",
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if retryErr := c.source.Retry(settleCtx, msg, delay); retryErr != nil {
			log.Error("retry scheduling failed", zap.Error(retryErr))
		}
	}

	c.metrics.ObserveMessage(c.name, outcome, time.Since(start).Seconds())
}

// safeHandle reports a handler panic as a permanent failure.
func (c *Consumer) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", zap.String("message_id", msg.ID), zap.Any("panic", r))
			err = Permanent(errors.New("handler panicked"))
		}
	}()
	return c.handle(ctx, msg)
}

func (c *Consumer) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.cfg.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.maxDelay {
			return c.cfg.maxDelay
		}
	}
	if delay > c.cfg.maxDelay {
		return c.cfg.maxDelay
	}
	return delay
}
