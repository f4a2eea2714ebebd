// Package alerts implements alert dispatch and delivery for the usage
// gatekeeper. The API side persists an audit row and enqueues a message; the
// worker side renders and delivers email and chat-ops notifications.
package alerts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"tableline/internal/types"
)

// AlertStore is the persistence surface the dispatcher needs. Implemented by
// db.AlertRepository.
type AlertStore interface {
	Create(ctx context.Context, alert *types.UsageAlert) error
}

// Publisher hands a persisted alert to the delivery worker. Implemented by
// queue.AlertPublisher.
type Publisher interface {
	Publish(ctx context.Context, msg *types.AlertMessage) error
}

// Contact carries the delivery targets for an alert. It rides along from the
// same row snapshot the alert was computed from so the dispatcher never
// re-reads the organization.
type Contact struct {
	OrganizationName string
	BillingEmail     string
	SlackWebhookURL  string
}

// Dispatcher writes the alert audit row and enqueues delivery. Dispatch is
// strictly fire-and-forget from the caller's perspective: a usage increment
// or webhook that produced an alert must succeed even when alerting
// infrastructure is down, so no failure here ever propagates.
type Dispatcher struct {
	store     AlertStore
	publisher Publisher
	logger    *slog.Logger
	clock     types.Clock
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store AlertStore, publisher Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger, clock: types.RealClock{}}
}

// Dispatch persists the alert and enqueues it for delivery.
//
// The audit row is written first: the dashboard surface must show the alert
// even if every notification channel fails. A dedupe-key conflict means this
// crossing or provider event was already dispatched (replayed webhook,
// concurrent increment) and delivery is skipped without complaint.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *types.UsageAlert, contact Contact) {
	if alert.ID == "" {
		alert.ID = "alert_" + uuid.New().String()
	}
	if alert.Severity == "" {
		alert.Severity = alert.Type.Severity()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = d.clock.Now().UTC()
	}

	if err := d.store.Create(ctx, alert); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicateAlert {
			d.logger.InfoContext(ctx, "alert already dispatched, skipping delivery",
				"org_id", alert.OrganizationID,
				"alert_type", string(alert.Type),
				"dedupe_key", alert.DedupeKey,
			)
			return
		}
		d.logger.ErrorContext(ctx, "failed to persist alert",
			"org_id", alert.OrganizationID,
			"alert_type", string(alert.Type),
			"error", err,
		)
		return
	}

	msg := &types.AlertMessage{
		AlertID:          alert.ID,
		OrganizationID:   alert.OrganizationID,
		OrganizationName: contact.OrganizationName,
		Type:             alert.Type,
		Severity:         alert.Severity,
		Title:            alert.Title,
		Message:          alert.Message,
		BillingEmail:     contact.BillingEmail,
		SlackWebhookURL:  contact.SlackWebhookURL,
		AmountCents:      alert.AmountCents,
		Currency:         alert.Currency,
		Metadata:         alert.Metadata,
		EmittedAt:        d.clock.Now().UTC(),
	}

	if err := d.publisher.Publish(ctx, msg); err != nil {
		// The audit row exists; the dashboard still shows the alert. Delivery
		// is lost until an operator re-triggers it.
		d.logger.ErrorContext(ctx, "failed to enqueue alert for delivery",
			"alert_id", alert.ID,
			"org_id", alert.OrganizationID,
			"alert_type", string(alert.Type),
			"error", err,
		)
	}
}

// WithClock overrides the dispatcher's time source. Test hook.
func (d *Dispatcher) WithClock(clock types.Clock) *Dispatcher {
	d.clock = clock
	return d
}
