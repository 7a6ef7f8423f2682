package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	maxWaitSeconds       = 20
	maxVisibilitySeconds = 12 * 60 * 60

	// AttrDeadLetterReason is attached to dead-lettered messages.
	AttrDeadLetterReason = "deadLetterReason"
	AttrSourceMessageID  = "sourceMessageId"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue is a Source and Publisher backed by an SQS queue and its
// dead-letter queue.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	dlqURL   string
	wait     time.Duration
}

var (
	_ Source    = (*SQSQueue)(nil)
	_ Publisher = (*SQSQueue)(nil)
)

// NewSQSQueue wraps queueURL. dlqURL may be empty for publish-only use.
func NewSQSQueue(client sqsAPI, queueURL, dlqURL string, wait time.Duration) *SQSQueue {
	if client == nil {
		panic("messaging: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("messaging: SQS queueURL cannot be empty")
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		dlqURL:   dlqURL,
		wait:     wait,
	}
}

func stringAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}

func (q *SQSQueue) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: stringAttributes(attrs),
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, limit int) ([]Message, error) {
	waitSeconds := int32(q.wait / time.Second)
	if waitSeconds > maxWaitSeconds {
		waitSeconds = maxWaitSeconds
	}

	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     waitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to receive SQS messages: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, msg := range output.Messages {
		attrs := make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			attrs[k] = aws.ToString(v.StringValue)
		}
		messages = append(messages, Message{
			ID:         aws.ToString(msg.MessageId),
			Body:       []byte(aws.ToString(msg.Body)),
			Attributes: attrs,
			Attempt:    receiveCount(msg.Attributes),
			Receipt:    aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func receiveCount(system map[string]string) int {
	n, err := strconv.Atoi(system[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (q *SQSQueue) Ack(ctx context.Context, msg Message) error {
	if msg.Receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to delete SQS message: %w", err)
	}
	return nil
}

// Retry hides the message for delay; SQS then redelivers it with a higher
// receive count.
func (q *SQSQueue) Retry(ctx context.Context, msg Message, delay time.Duration) error {
	seconds := int32(delay / time.Second)
	if seconds > maxVisibilitySeconds {
		seconds = maxVisibilitySeconds
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.Receipt),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to delay SQS message: %w", err)
	}
	return nil
}

// DeadLetter copies the message to the dead-letter queue, then deletes it
// from the source queue.
func (q *SQSQueue) DeadLetter(ctx context.Context, msg Message, cause error) error {
	if q.dlqURL == "" {
		return errors.New("messaging: no dead-letter queue configured")
	}

	attrs := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[AttrSourceMessageID] = msg.ID
	if cause != nil {
		attrs[AttrDeadLetterReason] = cause.Error()
	}

	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.dlqURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: stringAttributes(attrs),
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to send to dead-letter queue: %w", err)
	}
	return q.Ack(ctx, msg)
}
