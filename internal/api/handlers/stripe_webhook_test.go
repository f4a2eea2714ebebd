package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tableline/internal/alerts"
	"tableline/internal/billing"
	"tableline/internal/db"
	"tableline/internal/external"
	"tableline/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

type mockVerifier struct {
	shouldFail bool
}

func (m *mockVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return errors.New("signature verification failed")
	}
	return nil
}

type appliedState struct {
	CustomerID string
	State      db.SubscriptionState
}

type statusCall struct {
	CustomerID string
	Status     types.SubscriptionStatus
	EventTime  time.Time
}

type mockBillingStore struct {
	orgsByCustomer map[string]*types.Organization

	applied      []appliedState
	statusCalls  []statusCall
	applyErr     error
	setStatusErr error
}

func (m *mockBillingStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Organization, error) {
	org, ok := m.orgsByCustomer[customerID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "no organization for stripe customer", nil)
	}
	return org, nil
}

func (m *mockBillingStore) ApplySubscriptionState(ctx context.Context, customerID string, state db.SubscriptionState) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, appliedState{CustomerID: customerID, State: state})
	return nil
}

func (m *mockBillingStore) SetSubscriptionStatus(ctx context.Context, customerID string, status types.SubscriptionStatus, eventTime time.Time) error {
	if m.setStatusErr != nil {
		return m.setStatusErr
	}
	m.statusCalls = append(m.statusCalls, statusCall{CustomerID: customerID, Status: status, EventTime: eventTime})
	return nil
}

type dispatchedAlert struct {
	Alert   *types.UsageAlert
	Contact alerts.Contact
}

type mockDispatcher struct {
	dispatched []dispatchedAlert
}

func (m *mockDispatcher) Dispatch(ctx context.Context, alert *types.UsageAlert, contact alerts.Contact) {
	m.dispatched = append(m.dispatched, dispatchedAlert{Alert: alert, Contact: contact})
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrg() *types.Organization {
	return &types.Organization{
		ID:                 "org_123",
		Name:               "Testaurant Group",
		BillingEmail:       "owner@testaurant.example",
		Plan:               types.PlanStarter,
		SubscriptionStatus: types.SubStatusActive,
		StripeCustomerID:   "cus_abc",
		SlackWebhookURL:    "https://hooks.slack.com/services/T0/B0/xyz",
	}
}

func newStripeHandler(store *mockBillingStore, dispatcher *mockDispatcher, verifier *mockVerifier) *StripeWebhookHandler {
	return NewStripeWebhookHandler(
		verifier,
		billing.NewStaticPlanRegistry(),
		store,
		dispatcher,
		"whsec_test",
		testLogger(),
	)
}

func buildStripeEvent(eventType, eventID string, created int64, dataObject any) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]any{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

func subscriptionObject(customerID, priceID, status string) map[string]any {
	return map[string]any{
		"id":       "sub_test_1",
		"customer": customerID,
		"status":   status,
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": priceID}},
			},
		},
	}
}

func postStripeEvent(t *testing.T, h *StripeWebhookHandler, payload []byte, withSignature bool) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	if withSignature {
		r.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	}
	w := httptest.NewRecorder()
	h.Handle(w, r)
	return w
}

const testEventTime int64 = 1756684800 // 2025-09-01T00:00:00Z

// ---------------------------------------------------------------------------
// Signature verification
// ---------------------------------------------------------------------------

func TestStripeWebhook_MissingSignature(t *testing.T) {
	store := &mockBillingStore{}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_1", testEventTime,
		subscriptionObject("cus_abc", "price_growth_monthly", "active"))
	w := postStripeEvent(t, h, payload, false)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(store.applied) != 0 {
		t.Error("rejected webhook must produce no side effects")
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	store := &mockBillingStore{}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{shouldFail: true})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_1", testEventTime,
		subscriptionObject("cus_abc", "price_growth_monthly", "active"))
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(store.applied) != 0 || len(dispatcher.dispatched) != 0 {
		t.Error("rejected webhook must produce no side effects")
	}
}

// ---------------------------------------------------------------------------
// Subscription lifecycle
// ---------------------------------------------------------------------------

func TestStripeWebhook_SubscriptionUpdated(t *testing.T) {
	store := &mockBillingStore{}
	h := newStripeHandler(store, &mockDispatcher{}, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_1", testEventTime,
		subscriptionObject("cus_abc", "price_growth_monthly", "active"))
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one state application, got %d", len(store.applied))
	}

	got := store.applied[0]
	if got.CustomerID != "cus_abc" {
		t.Errorf("expected customer cus_abc, got %q", got.CustomerID)
	}
	if got.State.Plan != types.PlanGrowth {
		t.Errorf("expected growth plan, got %q", got.State.Plan)
	}
	if got.State.Limits.VoiceMinutes != 2000 {
		t.Errorf("expected 2000 minute limit snapshot, got %d", got.State.Limits.VoiceMinutes)
	}
	if got.State.Status != types.SubStatusActive {
		t.Errorf("expected active status, got %q", got.State.Status)
	}
	if got.State.StripeSubID != "sub_test_1" {
		t.Errorf("expected subscription ID recorded, got %q", got.State.StripeSubID)
	}
	if got.State.EventTime != time.Unix(testEventTime, 0).UTC() {
		t.Errorf("expected event time from envelope, got %v", got.State.EventTime)
	}
}

func TestStripeWebhook_UnknownProviderStatusFallsBackToActive(t *testing.T) {
	store := &mockBillingStore{}
	h := newStripeHandler(store, &mockDispatcher{}, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_1", testEventTime,
		subscriptionObject("cus_abc", "price_starter_monthly", "paused"))
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected state applied despite unknown status")
	}
	if store.applied[0].State.Status != types.SubStatusActive {
		t.Errorf("unknown status must map to active, got %q", store.applied[0].State.Status)
	}
}

func TestStripeWebhook_UnknownPriceIsAcknowledgedWithoutStateChange(t *testing.T) {
	store := &mockBillingStore{}
	h := newStripeHandler(store, &mockDispatcher{}, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_1", testEventTime,
		subscriptionObject("cus_abc", "price_unknown", "active"))
	w := postStripeEvent(t, h, payload, true)

	// Processing failed internally, but the delivery is acknowledged so the
	// provider does not retry forever.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.applied) != 0 {
		t.Error("unknown price must not change subscription state")
	}
}

func TestStripeWebhook_StaleEventAcknowledged(t *testing.T) {
	store := &mockBillingStore{
		applyErr: types.NewAppError(types.ErrCodeConflictStaleEvent, "stale", nil),
	}
	h := newStripeHandler(store, &mockDispatcher{}, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionUpdated, "evt_old", testEventTime,
		subscriptionObject("cus_abc", "price_growth_monthly", "active"))
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("stale events must still be acknowledged, got %d", w.Code)
	}
}

func TestStripeWebhook_SubscriptionDeleted(t *testing.T) {
	store := &mockBillingStore{orgsByCustomer: map[string]*types.Organization{"cus_abc": testOrg()}}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventSubscriptionDeleted, "evt_del_1", testEventTime,
		subscriptionObject("cus_abc", "price_starter_monthly", "canceled"))
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected downgrade applied")
	}

	got := store.applied[0].State
	if got.Plan != types.PlanFree {
		t.Errorf("cancellation must downgrade to free, got %q", got.Plan)
	}
	if got.Status != types.SubStatusCanceled {
		t.Errorf("expected canceled status, got %q", got.Status)
	}
	if !got.ClearSubID {
		t.Error("cancellation must clear the stored subscription ID")
	}

	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected cancellation alert, got %d", len(dispatcher.dispatched))
	}
	alert := dispatcher.dispatched[0].Alert
	if alert.Type != types.AlertSubscriptionCanceled {
		t.Errorf("expected subscription_canceled alert, got %q", alert.Type)
	}
	if alert.DedupeKey != "evt_del_1" {
		t.Errorf("cancellation alert must dedupe on the event ID, got %q", alert.DedupeKey)
	}
	if dispatcher.dispatched[0].Contact.BillingEmail != "owner@testaurant.example" {
		t.Errorf("contact details must come from the organization row")
	}
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

func TestStripeWebhook_InvoicePaidCycleRenewal(t *testing.T) {
	org := testOrg()
	org.SubscriptionStatus = types.SubStatusPastDue
	store := &mockBillingStore{orgsByCustomer: map[string]*types.Organization{"cus_abc": org}}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventInvoicePaid, "evt_inv_1", testEventTime, map[string]any{
		"id":             "in_1",
		"customer":       "cus_abc",
		"billing_reason": "subscription_cycle",
		"amount_paid":    4900,
		"currency":       "usd",
	})
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if len(store.statusCalls) != 1 || store.statusCalls[0].Status != types.SubStatusActive {
		t.Error("a cycle renewal must clear past_due")
	}

	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected renewal alert")
	}
	alert := dispatcher.dispatched[0].Alert
	if alert.Type != types.AlertSubscriptionRenewed {
		t.Errorf("expected subscription_renewed, got %q", alert.Type)
	}
	if alert.AmountCents != 4900 || alert.Currency != "usd" {
		t.Errorf("renewal alert must carry the paid amount, got %d %s", alert.AmountCents, alert.Currency)
	}
	if alert.DedupeKey != "evt_inv_1" {
		t.Errorf("renewal alert must dedupe on the event ID, got %q", alert.DedupeKey)
	}
}

func TestStripeWebhook_InvoicePaidNonCycleChangesNothing(t *testing.T) {
	org := testOrg()
	org.SubscriptionStatus = types.SubStatusPastDue
	store := &mockBillingStore{orgsByCustomer: map[string]*types.Organization{"cus_abc": org}}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventInvoicePaid, "evt_inv_2", testEventTime, map[string]any{
		"id":             "in_2",
		"customer":       "cus_abc",
		"billing_reason": "subscription_update",
		"amount_paid":    500,
		"currency":       "usd",
	})
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.statusCalls) != 0 {
		t.Error("only a cycle renewal clears past_due; a proration invoice must not")
	}
	if len(dispatcher.dispatched) != 0 {
		t.Error("no renewal alert for non-cycle invoices")
	}
}

func TestStripeWebhook_InvoicePaidReplayedRenewal(t *testing.T) {
	store := &mockBillingStore{orgsByCustomer: map[string]*types.Organization{"cus_abc": testOrg()}}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventInvoicePaid, "evt_inv_1", testEventTime, map[string]any{
		"id":             "in_1",
		"customer":       "cus_abc",
		"billing_reason": "subscription_cycle",
		"amount_paid":    4900,
		"currency":       "usd",
	})

	// SQS-style at-least-once: the identical delivery arrives twice.
	for i := 0; i < 2; i++ {
		if w := postStripeEvent(t, h, payload, true); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, w.Code)
		}
	}

	// A renewal never mutates the usage counter (the cycle reset belongs to
	// the scheduled boundary job), so a replay has nothing to wipe. The only
	// write surface here is subscription state, and an active org needs none.
	if len(store.applied) != 0 || len(store.statusCalls) != 0 {
		t.Errorf("replayed renewal must not write state, got %d applies and %d status calls",
			len(store.applied), len(store.statusCalls))
	}
	if len(dispatcher.dispatched) != 2 {
		t.Fatalf("expected both deliveries to reach the dispatcher, got %d", len(dispatcher.dispatched))
	}
	if dispatcher.dispatched[0].Alert.DedupeKey != dispatcher.dispatched[1].Alert.DedupeKey {
		t.Error("replayed renewal must carry the same dedupe key so the audit insert collapses it")
	}
}

func TestStripeWebhook_PaymentFailed(t *testing.T) {
	store := &mockBillingStore{orgsByCustomer: map[string]*types.Organization{"cus_abc": testOrg()}}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent(external.EventInvoicePaymentFailed, "evt_fail_1", testEventTime, map[string]any{
		"id":            "in_3",
		"customer":      "cus_abc",
		"amount_due":    9900,
		"currency":      "usd",
		"attempt_count": 2,
	})
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if len(store.statusCalls) != 1 || store.statusCalls[0].Status != types.SubStatusPastDue {
		t.Error("payment failure must mark the subscription past_due")
	}

	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected payment_failed alert")
	}
	alert := dispatcher.dispatched[0].Alert
	if alert.Type != types.AlertPaymentFailed {
		t.Errorf("expected payment_failed, got %q", alert.Type)
	}
	if alert.AmountCents != 9900 {
		t.Errorf("alert must carry the amount due, got %d", alert.AmountCents)
	}
	if alert.Metadata["attempt_count"] != 2 {
		t.Errorf("alert must carry the attempt count, got %v", alert.Metadata["attempt_count"])
	}
	if alert.DedupeKey != "in_3|attempt_2" {
		t.Errorf("dunning alerts dedupe per attempt, got %q", alert.DedupeKey)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestStripeWebhook_UnrecognizedEventTypeIgnored(t *testing.T) {
	store := &mockBillingStore{}
	dispatcher := &mockDispatcher{}
	h := newStripeHandler(store, dispatcher, &mockVerifier{})

	payload := buildStripeEvent("charge.refunded", "evt_x", testEventTime, map[string]any{"id": "ch_1"})
	w := postStripeEvent(t, h, payload, true)

	if w.Code != http.StatusOK {
		t.Fatalf("unrecognized events must be acknowledged, got %d", w.Code)
	}
	if len(store.applied)+len(store.statusCalls)+len(dispatcher.dispatched) != 0 {
		t.Error("unrecognized events must produce no side effects")
	}
}

func TestStripeWebhook_MalformedJSON(t *testing.T) {
	h := newStripeHandler(&mockBillingStore{}, &mockDispatcher{}, &mockVerifier{})

	w := postStripeEvent(t, h, []byte(`{"id": "evt_1",`), true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", w.Code)
	}
}
