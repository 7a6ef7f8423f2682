package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/insured-appointments/pkg/logging"
)

func drain(t *testing.T, c *Consumer, q *MemoryQueue, rounds int) {
	t.Helper()
	for i := 0; i < rounds && q.Len() > 0; i++ {
		msgs, err := q.Receive(context.Background(), 10)
		require.NoError(t, err)
		c.ProcessBatch(context.Background(), msgs)
	}
}

func TestConsumer_AcksSuccess(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("a"), nil))
	require.NoError(t, q.Publish(context.Background(), []byte("b"), nil))

	var handled atomic.Int32
	c := NewConsumer("test", q, func(context.Context, Message) error {
		handled.Add(1)
		return nil
	}, logging.Nop(), nil)

	drain(t, c, q, 1)
	assert.EqualValues(t, 2, handled.Load())
	assert.Equal(t, 2, q.Acked())
	assert.Empty(t, q.DeadLetters())
}

func TestConsumer_RetriesTransientFailure(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("flaky"), nil))

	var seen []int
	c := NewConsumer("test", q, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.Attempt)
		if msg.Attempt < 3 {
			return errors.New("ledger unavailable")
		}
		return nil
	}, logging.Nop(), nil, WithMaxAttempts(5), WithWorkers(1))

	drain(t, c, q, 10)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 1, q.Acked())
	assert.Empty(t, q.DeadLetters())
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("doomed"), map[string]string{"countryCode": "PE"}))

	var calls atomic.Int32
	c := NewConsumer("test", q, func(context.Context, Message) error {
		calls.Add(1)
		return errors.New("still down")
	}, logging.Nop(), nil, WithMaxAttempts(3))

	drain(t, c, q, 10)
	assert.EqualValues(t, 3, calls.Load())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "PE", dead[0].Attribute("countryCode"))
	assert.Contains(t, dead[0].Attribute(AttrDeadLetterReason), "retries exhausted")
}

func TestConsumer_PermanentGoesStraightToDeadLetter(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("{"), nil))

	var calls atomic.Int32
	c := NewConsumer("test", q, func(context.Context, Message) error {
		calls.Add(1)
		return Permanent(errors.New("malformed"))
	}, logging.Nop(), nil, WithMaxAttempts(5))

	drain(t, c, q, 10)
	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, q.DeadLetters(), 1)
	assert.Contains(t, q.DeadLetters()[0].Attribute(AttrDeadLetterReason), "permanent failure")
}

func TestConsumer_DiscardedIsAcked(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("x"), nil))

	c := NewConsumer("test", q, func(context.Context, Message) error {
		return fmt.Errorf("%w: not ours", ErrDiscarded)
	}, logging.Nop(), nil)

	drain(t, c, q, 1)
	assert.Equal(t, 1, q.Acked())
	assert.Empty(t, q.DeadLetters())
}

func TestConsumer_OneFailureDoesNotBlockBatch(t *testing.T) {
	q := NewMemoryQueue()
	for _, body := range []string{"ok-1", "poison", "ok-2", "panic"} {
		require.NoError(t, q.Publish(context.Background(), []byte(body), nil))
	}

	c := NewConsumer("test", q, func(_ context.Context, msg Message) error {
		switch string(msg.Body) {
		case "poison":
			return Permanent(errors.New("bad"))
		case "panic":
			panic("boom")
		}
		return nil
	}, logging.Nop(), nil, WithWorkers(2))

	drain(t, c, q, 1)
	assert.Equal(t, 2, q.Acked())
	assert.Len(t, q.DeadLetters(), 2)
}

func TestConsumer_RetryDelayDoublesAndCaps(t *testing.T) {
	c := NewConsumer("test", NewMemoryQueue(), func(context.Context, Message) error { return nil },
		logging.Nop(), nil, WithRetryBackoff(time.Second, 5*time.Second))

	assert.Equal(t, time.Second, c.retryDelay(1))
	assert.Equal(t, 2*time.Second, c.retryDelay(2))
	assert.Equal(t, 4*time.Second, c.retryDelay(3))
	assert.Equal(t, 5*time.Second, c.retryDelay(4))
	assert.Equal(t, 5*time.Second, c.retryDelay(30))
}

func TestConsumer_StartStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(context.Background(), []byte("a"), nil))

	done := make(chan struct{})
	c := NewConsumer("test", q, func(context.Context, Message) error {
		close(done)
		return nil
	}, logging.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not handled")
	}
	cancel()
	c.Wait()
	assert.Equal(t, 1, q.Acked())
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("root")
	err := &ProcessingError{Consumer: "c", MessageID: "m", Attempt: 2, Err: Permanent(cause)}
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPermanent(err))
	assert.Nil(t, Permanent(nil))
}
