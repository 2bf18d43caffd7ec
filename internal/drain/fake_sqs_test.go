package drain

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeSQS is an in-memory sqsAPI test double: each queue URL gets its own
// FIFO slice of undelivered messages, matching SQS's at-least-once,
// receive-then-delete semantics closely enough for the worker's purposes.
type fakeSQS struct {
	mu      sync.Mutex
	queues  map[string][]sqstypes.Message
	nextID  int
	deleted []string
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string][]sqstypes.Message)}
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	receipt := fmt.Sprintf("receipt-%d", f.nextID)
	url := aws.ToString(params.QueueUrl)
	f.queues[url] = append(f.queues[url], sqstypes.Message{
		Body:              params.MessageBody,
		ReceiptHandle:     aws.String(receipt),
		MessageAttributes: params.MessageAttributes,
	})
	return &sqs.SendMessageOutput{MessageId: aws.String(receipt)}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := aws.ToString(params.QueueUrl)
	msgs := f.queues[url]
	if len(msgs) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{msgs[0]}}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := aws.ToString(params.QueueUrl)
	receipt := aws.ToString(params.ReceiptHandle)
	f.deleted = append(f.deleted, receipt)
	msgs := f.queues[url]
	for i, m := range msgs {
		if aws.ToString(m.ReceiptHandle) == receipt {
			f.queues[url] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) depth(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[url])
}

var _ sqsAPI = (*fakeSQS)(nil)
