// Package handlers contains the HTTP handler implementations for the
// Tableline usage-gatekeeper API: the Stripe billing webhook, the
// voice-provider call webhook, and the authenticated usage query surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tableline/internal/alerts"
	"tableline/internal/billing"
	"tableline/internal/core"
	"tableline/internal/db"
	"tableline/internal/external"
	"tableline/internal/types"
)

// maxWebhookBodySize caps webhook payloads (64 KB). Provider payloads are
// small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// BillingStateStore is the subset of db.OrgRepository the billing webhook
// needs: customer resolution plus guarded subscription-state writes.
type BillingStateStore interface {
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Organization, error)
	ApplySubscriptionState(ctx context.Context, customerID string, state db.SubscriptionState) error
	SetSubscriptionStatus(ctx context.Context, customerID string, status types.SubscriptionStatus, eventTime time.Time) error
}

// AlertDispatcher is the fire-and-forget alert surface. Implemented by
// alerts.Dispatcher.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *types.UsageAlert, contact alerts.Contact)
}

// StripeWebhookHandler processes asynchronous billing events from Stripe. The
// endpoint is public (Stripe calls it directly); security comes from
// verifying the Stripe-Signature header before any payload field is trusted.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	registry   billing.PlanRegistry
	orgs       BillingStateStore
	dispatcher AlertDispatcher
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	registry billing.PlanRegistry,
	orgs BillingStateStore,
	dispatcher AlertDispatcher,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		registry:   registry,
		orgs:       orgs,
		dispatcher: dispatcher,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Mounted on the public
// route group, outside API-key auth.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies and routes one webhook delivery.
//
// A failed signature check is rejected with 400 and produces no side effects.
// After verification, internal processing failures are logged but still
// acknowledged with 200: Stripe retries on non-2xx, and retrying an event our
// own database rejected (stale, unknown customer) would loop forever. The
// one deliberate exception is a database outage, where a retry can succeed.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event external.StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *external.StripeEvent) error {
	switch event.Type {
	case external.EventSubscriptionCreated, external.EventSubscriptionUpdated:
		return h.handleSubscriptionUpsert(ctx, event)

	case external.EventSubscriptionDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	case external.EventInvoicePaid:
		return h.handleInvoicePaid(ctx, event)

	case external.EventInvoicePaymentFailed:
		return h.handlePaymentFailed(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleSubscriptionUpsert applies subscription created/updated events: map
// the price to a plan, the provider status to the internal enum, and write
// both under the stale-event guard.
func (h *StripeWebhookHandler) handleSubscriptionUpsert(ctx context.Context, event *external.StripeEvent) error {
	var sub external.StripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("%s: decoding subscription object: %w", event.Type, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%s: event %s has no customer", event.Type, event.ID)
	}

	plan, known := h.registry.PlanByPriceID(sub.PriceID())
	if !known {
		// A price this deployment does not sell. Most likely a config skew
		// between Stripe and the registry; do not guess a tier.
		return fmt.Errorf("%s: event %s references unknown price %q", event.Type, event.ID, sub.PriceID())
	}

	status, statusKnown := external.MapSubscriptionStatus(sub.Status)
	if !statusKnown {
		h.logger.WarnContext(ctx, "unknown subscription status from provider, treating as active",
			"event_id", event.ID,
			"provider_status", sub.Status,
			"customer_id", sub.Customer,
		)
	}

	err := h.orgs.ApplySubscriptionState(ctx, sub.Customer, db.SubscriptionState{
		Plan:        plan,
		Limits:      h.registry.GetLimits(plan),
		Status:      status,
		StripeSubID: sub.ID,
		EventTime:   event.CreatedTime(),
	})
	if isStaleEvent(err) {
		h.logger.InfoContext(ctx, "dropping out-of-order subscription event",
			"event_id", event.ID,
			"customer_id", sub.Customer,
		)
		return nil
	}
	return err
}

// handleSubscriptionDeleted downgrades the organization to the free tier.
// Replayed deliveries are no-ops: the state write is stale-guarded and the
// cancellation alert dedupes on the event ID.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *external.StripeEvent) error {
	var sub external.StripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("%s: decoding subscription object: %w", event.Type, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%s: event %s has no customer", event.Type, event.ID)
	}

	org, err := h.orgs.GetByStripeCustomerID(ctx, sub.Customer)
	if err != nil {
		return err
	}

	err = h.orgs.ApplySubscriptionState(ctx, sub.Customer, db.SubscriptionState{
		Plan:       types.PlanFree,
		Limits:     h.registry.GetLimits(types.PlanFree),
		Status:     types.SubStatusCanceled,
		ClearSubID: true,
		EventTime:  event.CreatedTime(),
	})
	if isStaleEvent(err) {
		return nil
	}
	if err != nil {
		return err
	}

	h.dispatcher.Dispatch(ctx, &types.UsageAlert{
		OrganizationID:  org.ID,
		Type:            types.AlertSubscriptionCanceled,
		Title:           "Subscription canceled",
		Message:         fmt.Sprintf("%s's subscription was canceled; the organization is now on the Free plan.", org.Name),
		ProviderEventID: event.ID,
		DedupeKey:       event.ID,
	}, contactFor(org))

	return nil
}

// handleInvoicePaid handles a successful invoice payment. Only a cycle
// renewal matters here: it clears dunning state and emits a renewal notice.
// The usage counter is never touched; it is zeroed at the cycle boundary by
// an external scheduled job, not by webhook traffic, so a replayed delivery
// cannot wipe minutes accrued since the original one.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event *external.StripeEvent) error {
	var invoice external.StripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("%s: decoding invoice object: %w", event.Type, err)
	}
	if invoice.Customer == "" {
		return fmt.Errorf("%s: event %s has no customer", event.Type, event.ID)
	}

	// First payments and one-off invoices (e.g. a mid-cycle upgrade
	// proration) are not renewals and change no state.
	if invoice.BillingReason != "subscription_cycle" {
		return nil
	}

	org, err := h.orgs.GetByStripeCustomerID(ctx, invoice.Customer)
	if err != nil {
		return err
	}

	if org.SubscriptionStatus == types.SubStatusPastDue {
		if err := h.orgs.SetSubscriptionStatus(ctx, invoice.Customer, types.SubStatusActive, event.CreatedTime()); err != nil && !isStaleEvent(err) {
			return err
		}
	}

	h.dispatcher.Dispatch(ctx, &types.UsageAlert{
		OrganizationID:  org.ID,
		Type:            types.AlertSubscriptionRenewed,
		Title:           "Subscription renewed",
		Message:         fmt.Sprintf("%s's subscription renewed for a new billing cycle.", org.Name),
		ProviderEventID: event.ID,
		DedupeKey:       event.ID,
		AmountCents:     invoice.AmountPaid,
		Currency:        invoice.Currency,
	}, contactFor(org))

	return nil
}

// handlePaymentFailed records dunning state and raises a payment-failure
// alert carrying the amount due and the attempt count.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *external.StripeEvent) error {
	var invoice external.StripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("%s: decoding invoice object: %w", event.Type, err)
	}
	if invoice.Customer == "" {
		return fmt.Errorf("%s: event %s has no customer", event.Type, event.ID)
	}

	org, err := h.orgs.GetByStripeCustomerID(ctx, invoice.Customer)
	if err != nil {
		return err
	}

	if err := h.orgs.SetSubscriptionStatus(ctx, invoice.Customer, types.SubStatusPastDue, event.CreatedTime()); err != nil && !isStaleEvent(err) {
		return err
	}

	metadata := types.Metadata{
		"attempt_count": invoice.AttemptCount,
	}
	if invoice.NextPaymentAttempt > 0 {
		metadata["next_attempt_at"] = time.Unix(invoice.NextPaymentAttempt, 0).UTC().Format(time.RFC3339)
	}
	if invoice.HostedInvoiceURL != "" {
		metadata["invoice_url"] = invoice.HostedInvoiceURL
	}

	h.dispatcher.Dispatch(ctx, &types.UsageAlert{
		OrganizationID:  org.ID,
		Type:            types.AlertPaymentFailed,
		Title:           "Payment failed",
		Message:         fmt.Sprintf("We could not collect payment for %s (attempt %d). The subscription is past due.", org.Name, invoice.AttemptCount),
		ProviderEventID: event.ID,
		DedupeKey:       fmt.Sprintf("%s|attempt_%d", invoice.ID, invoice.AttemptCount),
		AmountCents:     invoice.AmountDue,
		Currency:        invoice.Currency,
		Metadata:        metadata,
	}, contactFor(org))

	return nil
}

// contactFor extracts delivery targets from an organization row.
func contactFor(org *types.Organization) alerts.Contact {
	return alerts.Contact{
		OrganizationName: org.Name,
		BillingEmail:     org.BillingEmail,
		SlackWebhookURL:  org.SlackWebhookURL,
	}
}

// isStaleEvent reports whether err is the out-of-order delivery conflict.
func isStaleEvent(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictStaleEvent
}
