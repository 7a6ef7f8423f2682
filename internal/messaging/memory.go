package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Source and Publisher. Retries are redelivered
// on the next Receive regardless of delay.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []Message
	inflight map[string]Message
	dead     []Message
	acked    int
}

var (
	_ Source    = (*MemoryQueue)(nil)
	_ Publisher = (*MemoryQueue)(nil)
)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: make(map[string]Message)}
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func (q *MemoryQueue) Publish(_ context.Context, body []byte, attrs map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, Message{
		ID:         uuid.NewString(),
		Body:       append([]byte(nil), body...),
		Attributes: copyAttrs(attrs),
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, limit int) ([]Message, error) {
	if q.Len() == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.ready) {
		limit = len(q.ready)
	}
	out := make([]Message, 0, limit)
	for _, msg := range q.ready[:limit] {
		msg.Attempt++
		msg.Receipt = uuid.NewString()
		q.inflight[msg.Receipt] = msg
		out = append(out, msg)
	}
	q.ready = q.ready[limit:]
	return out, nil
}

func (q *MemoryQueue) settle(msg Message) (Message, error) {
	held, ok := q.inflight[msg.Receipt]
	if !ok {
		return Message{}, fmt.Errorf("messaging: unknown receipt %q", msg.Receipt)
	}
	delete(q.inflight, msg.Receipt)
	return held, nil
}

func (q *MemoryQueue) Ack(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.settle(msg); err != nil {
		return err
	}
	q.acked++
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, msg Message, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, err := q.settle(msg)
	if err != nil {
		return err
	}
	held.Receipt = ""
	q.ready = append(q.ready, held)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, msg Message, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, err := q.settle(msg)
	if err != nil {
		return err
	}
	held.Attributes = copyAttrs(held.Attributes)
	if cause != nil {
		held.Attributes[AttrDeadLetterReason] = cause.Error()
	}
	q.dead = append(q.dead, held)
	return nil
}

// Len is the number of messages waiting for delivery.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// DeadLetters returns a copy of the dead-lettered messages.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

type subscription struct {
	key, value string
	queue      *MemoryQueue
}

// MemoryBus fans a publish out to every queue whose filter matches, the way
// an SNS subscription filter policy or a headers exchange binding would.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []subscription
}

var _ Publisher = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe routes messages whose attribute key equals value into queue.
// An empty key subscribes to everything.
func (b *MemoryBus) Subscribe(key, value string, queue *MemoryQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{key: key, value: value, queue: queue})
}

func (b *MemoryBus) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.key != "" && attrs[s.key] != s.value {
			continue
		}
		if err := s.queue.Publish(ctx, body, attrs); err != nil {
			return err
		}
	}
	return nil
}
