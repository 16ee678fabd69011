package notify

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

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfig configures an SQSSource.
type SQSConfig struct {
	QueueURL string
	// DLQURL receives dead-lettered messages. When empty the message is
	// released immediately and the queue's redrive policy applies.
	DLQURL      string
	MaxMessages int32
	WaitTime    time.Duration
	// RetryDelay is the visibility timeout applied to retried messages.
	RetryDelay time.Duration
}

// SQSSource reads notifications from an SQS queue.
type SQSSource struct {
	client SQSAPI
	cfg    SQSConfig
}

// NewSQSSource validates cfg and returns a source.
func NewSQSSource(client SQSAPI, cfg SQSConfig) (*SQSSource, error) {
	if client == nil {
		return nil, errors.New("notify: sqs client is required")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("notify: sqs queue url is required")
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	return &SQSSource{client: client, cfg: cfg}, nil
}

// Receive long-polls the queue.
func (s *SQSSource) Receive(ctx context.Context) ([]Message, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(s.cfg.QueueURL),
		MaxNumberOfMessages:         s.cfg.MaxMessages,
		WaitTimeSeconds:             int32(s.cfg.WaitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: receive from %s: %w", s.cfg.QueueURL, err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attempt, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if attempt <= 0 {
			attempt = 1
		}
		msgs = append(msgs, Message{
			ID:      aws.ToString(m.MessageId),
			Body:    []byte(aws.ToString(m.Body)),
			Attempt: attempt,
			receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Ack deletes the message.
func (s *SQSSource) Ack(ctx context.Context, msg Message) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: aws.String(msg.receipt),
	})
	if err != nil {
		return fmt.Errorf("notify: delete %s: %w", msg.ID, err)
	}
	return nil
}

// Retry hides the message for the configured retry delay.
func (s *SQSSource) Retry(ctx context.Context, msg Message, _ string) error {
	return s.setVisibility(ctx, msg, s.cfg.RetryDelay)
}

// DeadLetter copies the message to the DLQ and deletes it.
func (s *SQSSource) DeadLetter(ctx context.Context, msg Message, reason string) error {
	if s.cfg.DLQURL == "" {
		return s.setVisibility(ctx, msg, 0)
	}
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.DLQURL),
		MessageBody: aws.String(string(msg.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"error":   {DataType: aws.String("String"), StringValue: aws.String(orUnknown(reason))},
			"attempt": {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(msg.Attempt))},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: send %s to dlq: %w", msg.ID, err)
	}
	return s.Ack(ctx, msg)
}

func (s *SQSSource) setVisibility(ctx context.Context, msg Message, d time.Duration) error {
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.cfg.QueueURL),
		ReceiptHandle:     aws.String(msg.receipt),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("notify: change visibility of %s: %w", msg.ID, err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
