package drain

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// senderAttribute is the message attribute name carrying the resource-group
// backend tag.
const senderAttribute = "Sender"

// sqsAPI is the slice of *sqs.Client the drain pipeline calls; tests supply
// an in-memory fake rather than a mocking library, matching the style
// resourcegroup's asgAPI/sfrAPI seams already use.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Client wraps the drain and termination SQS queues for a single cluster.
// Both queues carry the same wire format (see Host); only the queue URL and
// the DelaySeconds used on send differ.
type Client struct {
	api                 sqsAPI
	drainQueueURL       string
	terminationQueueURL string
}

// NewClient builds a Client backed by a live SQS connection in region,
// matching the resourcegroup backends' LoadDefaultConfig-per-handle style.
func NewClient(ctx context.Context, region, drainQueueURL, terminationQueueURL string) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("drain: load aws config: %w", err)
	}
	return &Client{
		api:                 sqs.NewFromConfig(awsCfg),
		drainQueueURL:       drainQueueURL,
		terminationQueueURL: terminationQueueURL,
	}, nil
}

// NewClientWithAPI builds a Client over an already-constructed sqsAPI, such
// as the in-memory fake used by this package's tests.
func NewClientWithAPI(api sqsAPI, drainQueueURL, terminationQueueURL string) *Client {
	return &Client{api: api, drainQueueURL: drainQueueURL, terminationQueueURL: terminationQueueURL}
}

// SubmitForDraining enqueues instance onto the drain queue tagged with
// sender (the resource-group backend tag), with no delay: this is the pool
// manager's entry point into the pipeline, implementing the pool package's
// DrainSubmitter capability.
func (c *Client) SubmitForDraining(ctx context.Context, instance resourcegroup.InstanceMetadata, sender string) error {
	return c.send(ctx, c.drainQueueURL, Host{
		InstanceID: instance.InstanceID,
		IP:         instance.IPAddress,
		Hostname:   instance.Hostname,
		GroupID:    instance.GroupID,
	}, sender, 0)
}

// submitForTermination enqueues host onto the termination queue tagged with
// sender, visible only after delaySeconds — the mechanism by which the
// cloud queue withholds termination until cluster-side drain has had time
// to complete.
func (c *Client) submitForTermination(ctx context.Context, host Host, sender string, delaySeconds int32) error {
	return c.send(ctx, c.terminationQueueURL, host, sender, delaySeconds)
}

func (c *Client) send(ctx context.Context, queueURL string, host Host, sender string, delaySeconds int32) error {
	body, err := host.marshalBody()
	if err != nil {
		return fmt.Errorf("drain: marshal message body: %w", err)
	}
	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     awssdk.String(queueURL),
		MessageBody:  awssdk.String(string(body)),
		DelaySeconds: delaySeconds,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			senderAttribute: {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(sender),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("drain: send message to %s: %w", queueURL, err)
	}
	return nil
}

// receive polls queueURL for a single message (MaxNumberOfMessages=1,
// requesting the Sender attribute), returning ok=false when the queue has
// nothing to deliver right now — the normal, expected case between ticks.
func (c *Client) receive(ctx context.Context, queueURL string) (Host, bool, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              awssdk.String(queueURL),
		MaxNumberOfMessages:   1,
		MessageAttributeNames: []string{senderAttribute},
	})
	if err != nil {
		return Host{}, false, fmt.Errorf("drain: receive message from %s: %w", queueURL, err)
	}
	if len(out.Messages) == 0 {
		return Host{}, false, nil
	}
	msg := out.Messages[0]

	host, err := unmarshalBody([]byte(awssdk.ToString(msg.Body)))
	if err != nil {
		return Host{}, false, fmt.Errorf("drain: unmarshal message body: %w", err)
	}
	host.ReceiptHandle = awssdk.ToString(msg.ReceiptHandle)
	if attr, ok := msg.MessageAttributes[senderAttribute]; ok {
		host.Sender = awssdk.ToString(attr.StringValue)
	}
	return host, true, nil
}

// ReceiveDrain polls the drain queue for one message.
func (c *Client) ReceiveDrain(ctx context.Context) (Host, bool, error) {
	return c.receive(ctx, c.drainQueueURL)
}

// ReceiveTermination polls the termination queue for one message.
func (c *Client) ReceiveTermination(ctx context.Context) (Host, bool, error) {
	return c.receive(ctx, c.terminationQueueURL)
}

func (c *Client) deleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      awssdk.String(queueURL),
		ReceiptHandle: awssdk.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("drain: delete message from %s: %w", queueURL, err)
	}
	return nil
}

// DeleteDrainMessage removes a delivered drain message so it is not
// redelivered.
func (c *Client) DeleteDrainMessage(ctx context.Context, receiptHandle string) error {
	return c.deleteMessage(ctx, c.drainQueueURL, receiptHandle)
}

// DeleteTerminationMessage removes a delivered termination message so it is
// not redelivered.
func (c *Client) DeleteTerminationMessage(ctx context.Context, receiptHandle string) error {
	return c.deleteMessage(ctx, c.terminationQueueURL, receiptHandle)
}
