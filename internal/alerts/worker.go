package alerts

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"tableline/internal/external"
	"tableline/internal/types"
)

// Worker renders and delivers a dequeued alert over the configured channels.
// Channels run concurrently; one failing does not stop the other. The worker
// only errors (triggering an SQS redelivery) when every configured channel
// failed, so a flaky Slack webhook cannot cause duplicate emails.
type Worker struct {
	email        external.EmailSender
	chatOps      external.ChatOpsSender
	metrics      DeliveryMetrics
	logger       types.Logger
	clock        types.Clock
	dashboardURL string
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerClock overrides the worker's time source. Test hook.
func WithWorkerClock(clock types.Clock) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

// NewWorker creates a delivery worker. email may be nil when no email
// provider is configured; chat-ops delivery is decided per message by the
// presence of a webhook URL.
func NewWorker(email external.EmailSender, chatOps external.ChatOpsSender, metrics DeliveryMetrics, logger types.Logger, dashboardURL string, opts ...WorkerOption) *Worker {
	if metrics == nil {
		metrics = NoopDeliveryMetrics{}
	}
	w := &Worker{
		email:        email,
		chatOps:      chatOps,
		metrics:      metrics,
		logger:       logger,
		clock:        types.RealClock{},
		dashboardURL: dashboardURL,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessMessage delivers one alert message. Returns an error only when all
// configured channels failed; SQS then redelivers and the publisher-side
// RetryCount shows the attempt number.
func (w *Worker) ProcessMessage(ctx context.Context, msg *types.AlertMessage) error {
	log := w.logger.With(
		"alert_id", msg.AlertID,
		"org_id", msg.OrganizationID,
		"alert_type", string(msg.Type),
		"trace_id", msg.TraceID,
		"retry_count", msg.RetryCount,
	)

	if !msg.EmittedAt.IsZero() {
		w.metrics.RecordQueueLag(ctx, w.clock.Now().Sub(msg.EmittedAt))
	}

	var (
		mu        sync.Mutex
		attempted int
		failed    []error
	)
	record := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		attempted++
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", channel, err))
			w.metrics.RecordDelivery(ctx, channel, ResultFailure)
			log.Error("alert delivery failed", "channel", channel, "error", err)
			return
		}
		w.metrics.RecordDelivery(ctx, channel, ResultSuccess)
	}

	g, gctx := errgroup.WithContext(ctx)

	if w.email != nil && msg.BillingEmail != "" {
		g.Go(func() error {
			start := w.clock.Now()
			err := w.deliverEmail(gctx, msg)
			w.metrics.RecordLatency(gctx, ChannelEmail, w.clock.Now().Sub(start))
			record(ChannelEmail, err)
			return nil
		})
	} else {
		w.metrics.RecordDelivery(ctx, ChannelEmail, ResultSkipped)
	}

	if chatMsg, ok := RenderSlack(msg); ok && w.chatOps != nil {
		g.Go(func() error {
			start := w.clock.Now()
			err := w.chatOps.Post(gctx, chatMsg)
			w.metrics.RecordLatency(gctx, ChannelSlack, w.clock.Now().Sub(start))
			record(ChannelSlack, err)
			return nil
		})
	} else {
		w.metrics.RecordDelivery(ctx, ChannelSlack, ResultSkipped)
	}

	// Delivery errors are collected via record, not returned from the group.
	_ = g.Wait()

	if attempted == 0 {
		log.Warn("alert had no deliverable channels")
		return nil
	}
	if len(failed) == attempted {
		return types.NewAppError(
			types.ErrCodeUpstreamDelivery,
			fmt.Sprintf("all %d delivery channels failed for alert %s", attempted, msg.AlertID),
			failed[0],
		)
	}

	log.Info("alert delivered", "channels_attempted", attempted, "channels_failed", len(failed))
	return nil
}

func (w *Worker) deliverEmail(ctx context.Context, msg *types.AlertMessage) error {
	email, err := RenderEmail(msg, w.dashboardURL)
	if err != nil {
		return err
	}
	providerID, err := w.email.Send(ctx, email)
	if err != nil {
		return err
	}
	w.logger.Info("alert email accepted",
		"alert_id", msg.AlertID,
		"provider_message_id", providerID,
	)
	return nil
}
