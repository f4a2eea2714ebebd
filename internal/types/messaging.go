package types

import "time"

// AlertMessage is the SQS envelope that carries a persisted alert from the
// API to the alert worker. The worker re-reads nothing from the database for
// delivery; everything needed to render email and chat-ops payloads rides in
// the message.
type AlertMessage struct {
	AlertID          string        `json:"alert_id"`
	OrganizationID   string        `json:"organization_id"`
	OrganizationName string        `json:"organization_name"`
	Type             AlertType     `json:"type"`
	Severity         AlertSeverity `json:"severity"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	BillingEmail     string        `json:"billing_email,omitempty"`
	SlackWebhookURL  string        `json:"slack_webhook_url,omitempty"`
	AmountCents      int64         `json:"amount_cents,omitempty"`
	Currency         string        `json:"currency,omitempty"`
	Metadata         Metadata      `json:"metadata,omitempty"`
	// RetryCount is incremented by the publisher before each send so the
	// consumer always sees an accurate attempt number.
	RetryCount int       `json:"retry_count"`
	TraceID    string    `json:"trace_id"`
	EmittedAt  time.Time `json:"emitted_at"`
}
