package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one delivery from a Source. Attempt starts at 1.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
	Attempt    int
	Receipt    string
}

// Attribute returns a transport attribute or "".
func (m Message) Attribute(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}

// Publisher sends a body with transport attributes.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attrs map[string]string) error
}

// Source is a queue a Consumer drains. Every received message must end in
// exactly one of Ack, Retry or DeadLetter.
type Source interface {
	Receive(ctx context.Context, limit int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Retry(ctx context.Context, msg Message, delay time.Duration) error
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

// Handler processes one message. Returning nil acks it.
type Handler func(ctx context.Context, msg Message) error

// ErrDiscarded marks a message that is acked without effect, for example a
// fan-out message addressed to another country.
var ErrDiscarded = errors.New("message discarded")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message is dead-lettered
// on the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ProcessingError describes why a message was dead-lettered.
type ProcessingError struct {
	Consumer  string
	MessageID string
	Attempt   int
	Permanent bool
	Err       error
}

func (e *ProcessingError) Error() string {
	kind := "retries exhausted"
	if e.Permanent {
		kind = "permanent failure"
	}
	return fmt.Sprintf("%s: message %s attempt %d: %s: %v", e.Consumer, e.MessageID, e.Attempt, kind, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
