package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// lambdaBatch is the Source of one SQS-triggered invocation. Lambda deletes
// what is not reported as a batch item failure, so Ack is a no-op.
type lambdaBatch struct {
	queue *SQSQueue

	mu       sync.Mutex
	failures []events.SQSBatchItemFailure
}

func (b *lambdaBatch) Receive(context.Context, int) ([]Message, error) { return nil, nil }

func (b *lambdaBatch) Ack(context.Context, Message) error { return nil }

func (b *lambdaBatch) fail(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, events.SQSBatchItemFailure{ItemIdentifier: msg.ID})
}

func (b *lambdaBatch) Retry(ctx context.Context, msg Message, delay time.Duration) error {
	b.fail(msg)
	if b.queue == nil {
		return nil
	}
	return b.queue.Retry(ctx, msg, delay)
}

// DeadLetter moves the message when a dead-letter queue is known; otherwise
// it is reported failed and the queue's redrive policy takes over.
func (b *lambdaBatch) DeadLetter(ctx context.Context, msg Message, cause error) error {
	if b.queue == nil || b.queue.dlqURL == "" {
		b.fail(msg)
		return nil
	}
	if err := b.queue.DeadLetter(ctx, msg, cause); err != nil {
		b.fail(msg)
		return err
	}
	return nil
}

func fromSQSEvent(r events.SQSMessage) Message {
	attrs := make(map[string]string, len(r.MessageAttributes))
	for k, v := range r.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return Message{
		ID:         r.MessageId,
		Body:       []byte(r.Body),
		Attributes: attrs,
		Attempt:    receiveCount(r.Attributes),
		Receipt:    r.ReceiptHandle,
	}
}

// SQSEventHandler adapts handle to an SQS-triggered Lambda with partial
// batch responses. queue may be nil.
func SQSEventHandler(name string, handle Handler, queue *SQSQueue, logger *logging.Logger, m *metrics.Saga, opts ...Option) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		batch := &lambdaBatch{queue: queue}
		consumer := NewConsumer(name, batch, handle, logger, m, opts...)

		msgs := make([]Message, 0, len(event.Records))
		for _, r := range event.Records {
			msgs = append(msgs, fromSQSEvent(r))
		}
		consumer.ProcessBatch(ctx, msgs)

		return events.SQSEventResponse{BatchItemFailures: batch.failures}, nil
	}
}
