package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Envelope is one queue message. Payload is JSON encoded; Key groups and
// de-duplicates messages on FIFO queues and is ignored on standard ones.
type Envelope struct {
	Payload    any
	Key        string
	Attributes map[string]string
}

// Publisher sends envelopes to a single SQS queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

// NewPublisher returns a Publisher bound to a queue URL. Queues whose URL
// ends in ".fifo" get MessageGroupId and MessageDeduplicationId set from
// the envelope key.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Publish encodes env and sends it, returning the queue's message id.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          awssdk.String(p.QueueURL),
		MessageBody:       awssdk.String(string(body)),
		MessageAttributes: messageAttributes(env.Attributes),
	}
	if p.fifo {
		if env.Key == "" {
			return "", fmt.Errorf("fifo queue %s requires a message key", p.QueueURL)
		}
		input.MessageGroupId = awssdk.String(env.Key)
		input.MessageDeduplicationId = awssdk.String(env.Key)
	}

	out, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out == nil || out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// messageAttributes converts attrs into String attributes, skipping empty
// values. SQS caps a message at 10 attributes; extra keys beyond the first
// ten in sorted order are dropped.
func messageAttributes(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	if len(keys) > 10 {
		keys = keys[:10]
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(keys))
	for _, k := range keys {
		out[k] = sqstypes.MessageAttributeValue{
			DataType:    awssdk.String("String"),
			StringValue: awssdk.String(attrs[k]),
		}
	}
	return out
}
