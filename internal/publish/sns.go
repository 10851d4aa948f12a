package publish

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the subset of the SNS client used by SNSTransport.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport publishes to SNS. The topic name is used as the TopicArn, so
// the configured prefix is normally "arn:aws:sns:<region>:<account>:".
type SNSTransport struct {
	Client SNSAPI
}

// NewSNSTransport wraps an SNS client built from cfg.
func NewSNSTransport(cfg aws.Config) *SNSTransport {
	return &SNSTransport{Client: sns.NewFromConfig(cfg)}
}

func (t *SNSTransport) Send(ctx context.Context, topic string, message []byte) (string, error) {
	out, err := t.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(string(message)),
	})
	if err != nil {
		return "", fmt.Errorf("sns:Publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
