package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableline/internal/external"
	"tableline/internal/types"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeEmailSender struct {
	mu      sync.Mutex
	sent    []external.EmailMessage
	sendErr error
}

func (f *fakeEmailSender) Send(ctx context.Context, msg external.EmailMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, msg)
	return "msg_provider_1", nil
}

type fakeChatOpsSender struct {
	mu      sync.Mutex
	posted  []external.ChatOpsMessage
	postErr error
}

func (f *fakeChatOpsSender) Post(ctx context.Context, msg external.ChatOpsMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, msg)
	return nil
}

type recordedDelivery struct {
	channel string
	result  string
}

type fakeMetrics struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
	queueLags  []time.Duration
}

func (f *fakeMetrics) RecordDelivery(ctx context.Context, channel, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, recordedDelivery{channel: channel, result: result})
}

func (f *fakeMetrics) RecordLatency(ctx context.Context, channel string, d time.Duration) {}

func (f *fakeMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueLags = append(f.queueLags, lag)
}

func (f *fakeMetrics) resultFor(channel string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.channel == channel {
			return d.result
		}
	}
	return ""
}

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) With(args ...any) types.Logger { return nopLogger{} }

const testDashboardURL = "https://app.tableline.example"

func overageMessage() *types.AlertMessage {
	return &types.AlertMessage{
		AlertID:          "alert_1",
		OrganizationID:   "org_123",
		OrganizationName: "Testaurant Group",
		Type:             types.AlertUsageOverage,
		Severity:         types.SeverityError,
		Title:            "Voice minute limit exceeded",
		Message:          "Your organization has used 106 of 100 included voice minutes.",
		BillingEmail:     "owner@testaurant.example",
		SlackWebhookURL:  "https://hooks.slack.com/services/T0/B0/xyz",
		Metadata:         types.Metadata{"new_total": float64(106), "minute_limit": float64(100), "plan": "starter"},
		EmittedAt:        testNow.Add(-2 * time.Second),
	}
}

func newTestWorker(email *fakeEmailSender, chat *fakeChatOpsSender, metrics *fakeMetrics) *Worker {
	var e external.EmailSender
	if email != nil {
		e = email
	}
	var c external.ChatOpsSender
	if chat != nil {
		c = chat
	}
	return NewWorker(e, c, metrics, nopLogger{}, testDashboardURL, WithWorkerClock(fixedClock{now: testNow}))
}

// ============================================================================
// ProcessMessage
// ============================================================================

func TestWorker_DeliversBothChannels(t *testing.T) {
	email := &fakeEmailSender{}
	chat := &fakeChatOpsSender{}
	metrics := &fakeMetrics{}
	w := newTestWorker(email, chat, metrics)

	require.NoError(t, w.ProcessMessage(context.Background(), overageMessage()))

	require.Len(t, email.sent, 1)
	assert.Equal(t, "owner@testaurant.example", email.sent[0].To)
	assert.Equal(t, "alert_1", email.sent[0].ReferenceID)

	require.Len(t, chat.posted, 1)
	assert.Equal(t, "https://hooks.slack.com/services/T0/B0/xyz", chat.posted[0].WebhookURL)

	assert.Equal(t, ResultSuccess, metrics.resultFor(ChannelEmail))
	assert.Equal(t, ResultSuccess, metrics.resultFor(ChannelSlack))
	require.Len(t, metrics.queueLags, 1)
	assert.Equal(t, 2*time.Second, metrics.queueLags[0])
}

func TestWorker_PartialFailureSucceeds(t *testing.T) {
	email := &fakeEmailSender{sendErr: errors.New("resend 500")}
	chat := &fakeChatOpsSender{}
	metrics := &fakeMetrics{}
	w := newTestWorker(email, chat, metrics)

	// One surviving channel is enough; redelivering would duplicate the
	// Slack notification.
	require.NoError(t, w.ProcessMessage(context.Background(), overageMessage()))

	require.Len(t, chat.posted, 1)
	assert.Equal(t, ResultFailure, metrics.resultFor(ChannelEmail))
	assert.Equal(t, ResultSuccess, metrics.resultFor(ChannelSlack))
}

func TestWorker_AllChannelsFailedReturnsError(t *testing.T) {
	email := &fakeEmailSender{sendErr: errors.New("resend 500")}
	chat := &fakeChatOpsSender{postErr: errors.New("slack 500")}
	w := newTestWorker(email, chat, &fakeMetrics{})

	err := w.ProcessMessage(context.Background(), overageMessage())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamDelivery, appErr.Code)
}

func TestWorker_SkipsSlackWithoutWebhook(t *testing.T) {
	email := &fakeEmailSender{}
	chat := &fakeChatOpsSender{}
	metrics := &fakeMetrics{}
	w := newTestWorker(email, chat, metrics)

	msg := overageMessage()
	msg.SlackWebhookURL = ""
	require.NoError(t, w.ProcessMessage(context.Background(), msg))

	assert.Empty(t, chat.posted)
	assert.Equal(t, ResultSkipped, metrics.resultFor(ChannelSlack))
	assert.Equal(t, ResultSuccess, metrics.resultFor(ChannelEmail))
}

func TestWorker_SkipsEmailWithoutAddress(t *testing.T) {
	email := &fakeEmailSender{}
	chat := &fakeChatOpsSender{}
	metrics := &fakeMetrics{}
	w := newTestWorker(email, chat, metrics)

	msg := overageMessage()
	msg.BillingEmail = ""
	require.NoError(t, w.ProcessMessage(context.Background(), msg))

	assert.Empty(t, email.sent)
	assert.Equal(t, ResultSkipped, metrics.resultFor(ChannelEmail))
}

func TestWorker_NoDeliverableChannels(t *testing.T) {
	w := newTestWorker(nil, nil, &fakeMetrics{})

	msg := overageMessage()
	msg.SlackWebhookURL = ""
	// Nothing to do is not an error; redelivery would never succeed either.
	require.NoError(t, w.ProcessMessage(context.Background(), msg))
}

// ============================================================================
// Rendering
// ============================================================================

func TestRenderEmail_UsageOverage(t *testing.T) {
	msg := overageMessage()
	email, err := RenderEmail(msg, testDashboardURL)
	require.NoError(t, err)

	assert.Equal(t, "owner@testaurant.example", email.To)
	assert.Equal(t, "[Tableline] Voice minute limit exceeded", email.Subject)
	assert.Equal(t, "alert_1", email.ReferenceID)
	assert.Contains(t, email.HTML, "Testaurant Group")
	assert.Contains(t, email.HTML, "106")
	assert.Contains(t, email.HTML, "100")
	assert.Contains(t, email.HTML, testDashboardURL+"/billing/plans")
	assert.Equal(t, msg.Message, email.Text)
}

func TestRenderEmail_PaymentFailedShowsAmount(t *testing.T) {
	msg := &types.AlertMessage{
		AlertID:          "alert_2",
		OrganizationName: "Testaurant Group",
		Type:             types.AlertPaymentFailed,
		Title:            "Payment failed",
		Message:          "We could not charge your card for the Growth plan.",
		BillingEmail:     "owner@testaurant.example",
		AmountCents:      9900,
		Currency:         "usd",
	}

	email, err := RenderEmail(msg, testDashboardURL)
	require.NoError(t, err)
	assert.Contains(t, email.HTML, "$99.00 USD")
	assert.Contains(t, email.HTML, testDashboardURL+"/billing")
}

func TestRenderEmail_EscapesUntrustedFields(t *testing.T) {
	msg := overageMessage()
	msg.OrganizationName = `<script>alert("x")</script>`

	email, err := RenderEmail(msg, testDashboardURL)
	require.NoError(t, err)
	assert.NotContains(t, email.HTML, "<script>")
}

func TestRenderSlack_Blocks(t *testing.T) {
	msg := overageMessage()
	chat, ok := RenderSlack(msg)
	require.True(t, ok)

	assert.Equal(t, msg.SlackWebhookURL, chat.WebhookURL)
	assert.Contains(t, chat.Fallback, "Voice minute limit exceeded")
	require.NotEmpty(t, chat.Blocks)
	assert.Equal(t, "header", chat.Blocks[0]["type"])
}

func TestRenderSlack_NoWebhook(t *testing.T) {
	msg := overageMessage()
	msg.SlackWebhookURL = ""

	_, ok := RenderSlack(msg)
	assert.False(t, ok)
}
