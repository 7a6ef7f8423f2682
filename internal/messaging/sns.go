package messaging

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTopic publishes to a topic. Country routing is done by subscription
// filter policies on the countryCode message attribute.
type SNSTopic struct {
	client   snsAPI
	topicARN string
}

var _ Publisher = (*SNSTopic)(nil)

func NewSNSTopic(client snsAPI, topicARN string) *SNSTopic {
	if client == nil {
		panic("messaging: SNS client cannot be nil")
	}
	if topicARN == "" {
		panic("messaging: SNS topic ARN cannot be empty")
	}
	return &SNSTopic{client: client, topicARN: topicARN}
}

func (t *SNSTopic) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	msgAttrs := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		msgAttrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := t.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(t.topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: msgAttrs,
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to publish to SNS: %w", err)
	}
	return nil
}
