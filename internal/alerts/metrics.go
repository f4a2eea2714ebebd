package alerts

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tableline/internal/types"
)

// Delivery channel names used as metric dimensions.
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
)

// Delivery outcome values for the Result dimension.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// DeliveryMetrics records alert delivery outcomes. The worker calls it on
// every channel attempt; implementations must never fail the delivery path.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, channel, result string)
	RecordLatency(ctx context.Context, channel string, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ DeliveryMetrics = (*CloudWatchDeliveryMetrics)(nil)

// CloudWatchDeliveryMetrics emits delivery metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - AlertDeliveryAttempt: Dims {Channel, Result} -- on every delivery outcome
//   - AlertDeliveryLatency: Dims {Channel} -- time taken for one channel attempt
//   - AlertQueueLag: no dims -- time between enqueue and processing start
type CloudWatchDeliveryMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchDeliveryMetrics creates a recorder publishing to the given
// CloudWatch namespace.
func NewCloudWatchDeliveryMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDeliveryMetrics {
	return &CloudWatchDeliveryMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits an AlertDeliveryAttempt datum with Channel and Result
// dimensions. Publish failures are logged, never surfaced.
func (m *CloudWatchDeliveryMetrics) RecordDelivery(ctx context.Context, channel, result string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("AlertDeliveryAttempt"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Channel"),
						Value: aws.String(channel),
					},
					{
						Name:  aws.String("Result"),
						Value: aws.String(result),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"channel", channel,
			"result", result,
		)
	}
}

// RecordLatency emits the time one channel attempt took, in milliseconds.
func (m *CloudWatchDeliveryMetrics) RecordLatency(ctx context.Context, channel string, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("AlertDeliveryLatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Channel"),
						Value: aws.String(channel),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"channel", channel,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueLag emits the time between message enqueue and worker processing
// start. This captures SQS backlog plus any delivery delay.
func (m *CloudWatchDeliveryMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("AlertQueueLag"),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// NoopDeliveryMetrics discards all metrics. Used in tests and local runs
// without AWS credentials.
type NoopDeliveryMetrics struct{}

func (NoopDeliveryMetrics) RecordDelivery(ctx context.Context, channel, result string) {}

func (NoopDeliveryMetrics) RecordLatency(ctx context.Context, channel string, d time.Duration) {}

func (NoopDeliveryMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {}
