package external

import (
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"tableline/internal/types"
)

// Billing webhook event types the gatekeeper acts on. Everything else is
// acknowledged and ignored.
const (
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// StripeVerifier validates webhook payloads using stripe-go's signature
// verification: HMAC-SHA256 over the payload with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

var _ WebhookVerifier = (*StripeVerifier)(nil)

// StripeEvent is the outer webhook envelope. Data.Object is kept raw and
// decoded per event type.
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatedTime returns the event creation timestamp. Stripe delivers webhooks
// out of order under retry; this timestamp drives the stale-event guard.
func (e *StripeEvent) CreatedTime() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// StripeSubscription is the subset of the subscription object the gatekeeper
// reads from subscription lifecycle events.
type StripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price of the first subscription item, which carries the
// plan mapping. Subscriptions here always have exactly one item.
func (s *StripeSubscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// StripeInvoice is the subset of the invoice object read from invoice events.
type StripeInvoice struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	BillingReason      string `json:"billing_reason"`
	AmountDue          int64  `json:"amount_due"`
	AmountPaid         int64  `json:"amount_paid"`
	Currency           string `json:"currency"`
	HostedInvoiceURL   string `json:"hosted_invoice_url"`
	PeriodEnd          int64  `json:"period_end"`
	AttemptCount       int    `json:"attempt_count"`
	NextPaymentAttempt int64  `json:"next_payment_attempt"`
}

// MapSubscriptionStatus converts a provider status string to the domain enum.
// The second return reports whether the status was recognized: unknown
// statuses map to active so a new provider state never locks a paying
// customer out, but callers must log the fallback.
func MapSubscriptionStatus(status string) (types.SubscriptionStatus, bool) {
	switch status {
	case "active":
		return types.SubStatusActive, true
	case "past_due":
		return types.SubStatusPastDue, true
	case "canceled":
		return types.SubStatusCanceled, true
	case "trialing":
		return types.SubStatusTrialing, true
	case "incomplete", "incomplete_expired":
		return types.SubStatusIncomplete, true
	default:
		return types.SubStatusActive, false
	}
}
