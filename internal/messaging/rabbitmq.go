package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// CreatedExchange is a headers exchange; each country queue binds with
	// x-match=all on countryCode.
	CreatedExchange = "appointments.created"
	// ConfirmedExchange fans confirmations out to the completion queue.
	ConfirmedExchange = "appointments.confirmed"
	ConfirmationQueue = "appointments.confirmed.completion"

	headerAttempt = "x-attempt"
	mimeJSON      = "application/json"
)

// CreatedQueue is the fan-out subscriber queue of a country.
func CreatedQueue(country string) string {
	return CreatedExchange + "." + country
}

func retryQueue(queue string) string { return queue + ".retry" }
func deadQueue(queue string) string  { return queue + ".dlq" }

type amqpChannel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitChannel serialises publishes on one channel and waits for the
// broker confirm of each.
type RabbitChannel struct {
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
	mu       sync.Mutex
	// confirms owed to publishes that gave up waiting
	pending int
}

// OpenRabbitChannel opens a confirm-mode channel with the given prefetch.
func OpenRabbitChannel(conn *amqp.Connection, prefetch int) (*RabbitChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("messaging: open rabbitmq channel: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("messaging: set rabbitmq qos: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("messaging: enable publisher confirms: %w", err)
	}
	return newRabbitChannel(ch, ch.NotifyPublish(make(chan amqp.Confirmation, 1))), nil
}

func newRabbitChannel(ch amqpChannel, confirms <-chan amqp.Confirmation) *RabbitChannel {
	return &RabbitChannel{ch: ch, confirms: confirms}
}

func (c *RabbitChannel) Close() error {
	return c.ch.Close()
}

func (c *RabbitChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.pending > 0 {
		select {
		case _, ok := <-c.confirms:
			if !ok {
				return fmt.Errorf("messaging: publish to %q/%q: channel closed", exchange, key)
			}
			c.pending--
		case <-ctx.Done():
			return fmt.Errorf("messaging: publish to %q/%q: %w", exchange, key, ctx.Err())
		}
	}

	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("messaging: publish to %q/%q: %w", exchange, key, err)
	}
	select {
	case confirmed, ok := <-c.confirms:
		if !ok {
			return fmt.Errorf("messaging: publish to %q/%q: channel closed", exchange, key)
		}
		if !confirmed.Ack {
			return fmt.Errorf("messaging: publish to %q/%q: message not confirmed", exchange, key)
		}
	case <-ctx.Done():
		c.pending++
		return fmt.Errorf("messaging: publish to %q/%q: %w", exchange, key, ctx.Err())
	}
	return nil
}

func headersFrom(attrs map[string]string) amqp.Table {
	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	return headers
}

// RabbitPublisher publishes to an exchange with attributes as headers.
type RabbitPublisher struct {
	ch       *RabbitChannel
	exchange string
}

var _ Publisher = (*RabbitPublisher)(nil)

func NewRabbitPublisher(ch *RabbitChannel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange}
}

func (p *RabbitPublisher) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	return p.ch.publish(ctx, p.exchange, "", amqp.Publishing{
		ContentType:  mimeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headersFrom(attrs),
		Body:         body,
	})
}

// RabbitQueue is a polling Source. Retries go through <queue>.retry, whose
// per-message TTL dead-letters them back into the queue after the delay.
type RabbitQueue struct {
	ch    *RabbitChannel
	queue string
}

var _ Source = (*RabbitQueue)(nil)

func NewRabbitQueue(ch *RabbitChannel, queue string) *RabbitQueue {
	return &RabbitQueue{ch: ch, queue: queue}
}

func (q *RabbitQueue) Receive(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	messages := make([]Message, 0, limit)
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		q.ch.mu.Lock()
		d, ok, err := q.ch.ch.Get(q.queue, false)
		q.ch.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("messaging: get from %q: %w", q.queue, err)
		}
		if !ok {
			break
		}
		messages = append(messages, fromDelivery(d))
	}

	// basic.get does not block, so idle polls back off here.
	if len(messages) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return messages, nil
}

func fromDelivery(d amqp.Delivery) Message {
	attrs := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}
	return Message{
		ID:         id,
		Body:       d.Body,
		Attributes: attrs,
		Attempt:    attemptFromHeaders(d.Headers),
		Receipt:    strconv.FormatUint(d.DeliveryTag, 10),
	}
}

func attemptFromHeaders(h amqp.Table) int {
	switch v := h[headerAttempt].(type) {
	case int32:
		return int(v) + 1
	case int64:
		return int(v) + 1
	case int:
		return v + 1
	}
	return 1
}

func (q *RabbitQueue) Ack(_ context.Context, msg Message) error {
	tag, err := strconv.ParseUint(msg.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("messaging: bad delivery tag %q: %w", msg.Receipt, err)
	}
	q.ch.mu.Lock()
	defer q.ch.mu.Unlock()
	if err := q.ch.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("messaging: ack on %q: %w", q.queue, err)
	}
	return nil
}

func (q *RabbitQueue) republish(ctx context.Context, key string, msg Message, headers amqp.Table, expiration string) error {
	return q.ch.publish(ctx, "", key, amqp.Publishing{
		ContentType:  mimeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Expiration:   expiration,
		Body:         msg.Body,
	})
}

func (q *RabbitQueue) Retry(ctx context.Context, msg Message, delay time.Duration) error {
	headers := headersFrom(msg.Attributes)
	headers[headerAttempt] = int32(msg.Attempt)

	if err := q.republish(ctx, retryQueue(q.queue), msg, headers, strconv.FormatInt(delay.Milliseconds(), 10)); err != nil {
		return err
	}
	return q.Ack(ctx, msg)
}

func (q *RabbitQueue) DeadLetter(ctx context.Context, msg Message, cause error) error {
	headers := headersFrom(msg.Attributes)
	headers[headerAttempt] = int32(msg.Attempt)
	if cause != nil {
		headers[AttrDeadLetterReason] = cause.Error()
	}

	if err := q.republish(ctx, deadQueue(q.queue), msg, headers, ""); err != nil {
		return err
	}
	return q.Ack(ctx, msg)
}

type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the exchanges, per-country queues, the
// confirmation queue and their retry and dead-letter queues. It is
// idempotent.
func DeclareTopology(ch topologyChannel, countries []string) error {
	if err := ch.ExchangeDeclare(CreatedExchange, amqp.ExchangeHeaders, true, false, false, false, nil); err != nil {
		return fmt.Errorf("messaging: declare %s: %w", CreatedExchange, err)
	}
	if err := ch.ExchangeDeclare(ConfirmedExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("messaging: declare %s: %w", ConfirmedExchange, err)
	}

	for _, c := range countries {
		queue := CreatedQueue(c)
		if err := declareWithRetry(ch, queue); err != nil {
			return err
		}
		args := amqp.Table{"x-match": "all", "countryCode": c}
		if err := ch.QueueBind(queue, "", CreatedExchange, false, args); err != nil {
			return fmt.Errorf("messaging: bind %s: %w", queue, err)
		}
	}

	if err := declareWithRetry(ch, ConfirmationQueue); err != nil {
		return err
	}
	if err := ch.QueueBind(ConfirmationQueue, "", ConfirmedExchange, false, nil); err != nil {
		return fmt.Errorf("messaging: bind %s: %w", ConfirmationQueue, err)
	}
	return nil
}

func declareWithRetry(ch topologyChannel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("messaging: declare %s: %w", queue, err)
	}
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(retryQueue(queue), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("messaging: declare %s: %w", retryQueue(queue), err)
	}
	if _, err := ch.QueueDeclare(deadQueue(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("messaging: declare %s: %w", deadQueue(queue), err)
	}
	return nil
}

// DialRabbit connects to the broker.
func DialRabbit(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect to rabbitmq: %w", err)
	}
	return conn, nil
}
