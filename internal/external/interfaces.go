package external

import "context"

// WebhookVerifier checks a webhook payload against its signature header and
// the signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EmailMessage is a single transactional email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
	// ReferenceID correlates the provider delivery with the alert audit row.
	ReferenceID string
}

// EmailSender delivers transactional email. Implemented by ResendClient.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (providerMessageID string, err error)
}

// ChatOpsMessage is a formatted chat notification posted to an
// organization-owned incoming webhook.
type ChatOpsMessage struct {
	WebhookURL string
	Blocks     []map[string]any
	Fallback   string
}

// ChatOpsSender posts notifications to a chat workspace. Implemented by
// SlackClient.
type ChatOpsSender interface {
	Post(ctx context.Context, msg ChatOpsMessage) error
}
