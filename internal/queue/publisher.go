// Package queue provides the SQS producer that hands persisted alerts to the
// notification worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"tableline/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// maxPublishDelay is the SQS ceiling for per-message delivery delay.
const maxPublishDelay = 900 * time.Second

// AlertPublisher serializes AlertMessages and sends them to the alert queue.
// Publishing is the second half of alert dispatch (after the audit row
// insert); callers treat failures as non-fatal and log them.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates an AlertPublisher for the given queue URL.
func NewAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish sends one alert message. The message's RetryCount is incremented
// before marshaling so the consumer always sees the attempt number of the
// delivery it is processing. A missing TraceID is filled in from the context
// request ID or a fresh UUID.
func (p *AlertPublisher) Publish(ctx context.Context, msg *types.AlertMessage) error {
	return p.publish(ctx, msg, 0)
}

// PublishDelayed is Publish with an SQS delivery delay, clamped to the SQS
// maximum of 15 minutes. Used when re-enqueueing after a transient delivery
// failure.
func (p *AlertPublisher) PublishDelayed(ctx context.Context, msg *types.AlertMessage, delay time.Duration) error {
	return p.publish(ctx, msg, delay)
}

func (p *AlertPublisher) publish(ctx context.Context, msg *types.AlertMessage, delay time.Duration) error {
	msg.RetryCount++
	if msg.TraceID == "" {
		if traceID := types.GetRequestID(ctx); traceID != "" {
			msg.TraceID = traceID
		} else {
			msg.TraceID = uuid.New().String()
		}
	}
	if msg.EmittedAt.IsZero() {
		msg.EmittedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal alert message", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"alert_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Type)),
			},
		},
	}

	if delay > 0 {
		if delay > maxPublishDelay {
			delay = maxPublishDelay
		}
		input.DelaySeconds = int32(delay / time.Second)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send alert message to %s", p.queueURL),
			err,
		)
	}

	p.logger.InfoContext(ctx, "alert message sent",
		"queue_url", p.queueURL,
		"alert_id", msg.AlertID,
		"alert_type", string(msg.Type),
		"org_id", msg.OrganizationID,
		"retry_count", msg.RetryCount,
		"trace_id", msg.TraceID,
	)

	return nil
}
