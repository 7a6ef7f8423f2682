package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSQS struct {
	sent       []*sqs.SendMessageInput
	sendErr    error
	received   *sqs.ReceiveMessageOutput
	receiveIn  *sqs.ReceiveMessageInput
	deleted    []string
	visibility *sqs.ChangeMessageVisibilityInput
}

func (s *stubSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sent-1")}, nil
}

func (s *stubSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.receiveIn = in
	if s.received == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return s.received, nil
}

func (s *stubSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.deleted = append(s.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (s *stubSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	s.visibility = in
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueue_ReceiveMapsAttemptAndAttributes(t *testing.T) {
	stub := &stubSQS{received: &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("r-1"),
		Body:          aws.String(`{"eventType":"created"}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"countryCode": {DataType: aws.String("String"), StringValue: aws.String("PE")},
		},
	}}}}
	q := NewSQSQueue(stub, "https://sqs/pe", "https://sqs/pe-dlq", time.Minute)

	msgs, err := q.Receive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 3, msgs[0].Attempt)
	assert.Equal(t, "PE", msgs[0].Attribute("countryCode"))
	assert.Equal(t, "r-1", msgs[0].Receipt)

	assert.EqualValues(t, 20, stub.receiveIn.WaitTimeSeconds)
	assert.Equal(t, []string{"All"}, stub.receiveIn.MessageAttributeNames)
}

func TestSQSQueue_RetryChangesVisibility(t *testing.T) {
	stub := &stubSQS{}
	q := NewSQSQueue(stub, "https://sqs/pe", "", 0)

	require.NoError(t, q.Retry(context.Background(), Message{Receipt: "r-1"}, 8*time.Second))
	require.NotNil(t, stub.visibility)
	assert.EqualValues(t, 8, stub.visibility.VisibilityTimeout)
	assert.Equal(t, "r-1", aws.ToString(stub.visibility.ReceiptHandle))
}

func TestSQSQueue_DeadLetterSendsThenDeletes(t *testing.T) {
	stub := &stubSQS{}
	q := NewSQSQueue(stub, "https://sqs/pe", "https://sqs/pe-dlq", 0)
	msg := Message{ID: "m-1", Receipt: "r-1", Body: []byte("{"), Attributes: map[string]string{"countryCode": "PE"}}

	require.NoError(t, q.DeadLetter(context.Background(), msg, errors.New("malformed")))
	require.Len(t, stub.sent, 1)
	assert.Equal(t, "https://sqs/pe-dlq", aws.ToString(stub.sent[0].QueueUrl))
	assert.Equal(t, "malformed", aws.ToString(stub.sent[0].MessageAttributes[AttrDeadLetterReason].StringValue))
	assert.Equal(t, []string{"r-1"}, stub.deleted)
}

func TestSQSQueue_DeadLetterKeepsMessageWhenSendFails(t *testing.T) {
	stub := &stubSQS{sendErr: errors.New("throttled")}
	q := NewSQSQueue(stub, "https://sqs/pe", "https://sqs/pe-dlq", 0)

	err := q.DeadLetter(context.Background(), Message{ID: "m-1", Receipt: "r-1"}, nil)
	assert.Error(t, err)
	assert.Empty(t, stub.deleted)

	q = NewSQSQueue(&stubSQS{}, "https://sqs/pe", "", 0)
	assert.Error(t, q.DeadLetter(context.Background(), Message{Receipt: "r-1"}, nil))
}

func TestSQSQueue_PublishSetsStringAttributes(t *testing.T) {
	stub := &stubSQS{}
	q := NewSQSQueue(stub, "https://sqs/confirmations", "", 0)

	require.NoError(t, q.Publish(context.Background(), []byte("{}"), map[string]string{"countryCode": "CL"}))
	require.Len(t, stub.sent, 1)
	attr := stub.sent[0].MessageAttributes["countryCode"]
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "CL", aws.ToString(attr.StringValue))
}
