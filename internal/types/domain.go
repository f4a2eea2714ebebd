// Package types defines the domain model, enums, and error taxonomy shared
// across the Tableline usage-gatekeeper service. It has no dependencies on
// other internal packages so that every layer can import it freely.
package types

import "time"

// UnlimitedLimit is the explicit sentinel for "no cap" quotas. It is a
// distinct negative value so unlimited can never be confused with a real
// zero quota (which always blocks) or a large finite limit.
const UnlimitedLimit = -1

// PlanLimits holds the per-tier quota configuration. Stored as JSONB on the
// organizations row as a snapshot; the PlanRegistry remains authoritative.
type PlanLimits struct {
	VoiceMinutes int `json:"voice_minutes"`
	Locations    int `json:"locations"`
}

// Plan is the immutable-per-row plan configuration exposed to operators.
type Plan struct {
	Tier          PlanTier   `json:"tier"`
	DisplayName   string     `json:"display_name"`
	Limits        PlanLimits `json:"limits"`
	StripePriceID string     `json:"stripe_price_id,omitempty"`
}

// Organization is the billing tenant. It owns restaurants and carries the
// metered voice-minute counter for the current billing cycle.
type Organization struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	BillingEmail       string             `json:"billing_email"`
	Plan               PlanTier           `json:"plan"`
	PlanLimits         PlanLimits         `json:"plan_limits"`
	VoiceMinutesUsed   int                `json:"voice_minutes_used"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	StripeCustomerID   string             `json:"-"`
	StripeSubID        string             `json:"-"`
	SlackWebhookURL    string             `json:"-"`
	// BillingCycleAnchor is the start of the current cycle; voice_minutes_used
	// is reset at this boundary by an external scheduled job.
	BillingCycleAnchor time.Time `json:"billing_cycle_anchor"`
	// LastSubscriptionEventAt orders billing webhook deliveries: a state
	// update carrying an older event timestamp than this value is stale and
	// must be rejected.
	LastSubscriptionEventAt *time.Time `json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	DeletedAt               *time.Time `json:"deleted_at,omitempty"`
}

// Restaurant is a single location owned by an organization. The voice agent
// is attached per restaurant via the provider assistant ID.
type Restaurant struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	PhoneNumber    string    `json:"phone_number"`
	AssistantID    string    `json:"assistant_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageAlert is the immutable audit record written each time a threshold is
// crossed or a billing event occurs. Rows are never mutated except to record
// acknowledgment.
type UsageAlert struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	// ProviderEventID links billing alerts back to the originating Stripe
	// event or invoice for audit and deduplication.
	ProviderEventID string   `json:"provider_event_id,omitempty"`
	AmountCents     int64    `json:"amount_cents,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty"`
	// DedupeKey enforces once-per-crossing semantics for threshold alerts:
	// (org, alert_type, cycle anchor) collides on replayed deliveries.
	DedupeKey      string     `json:"-"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TranscriptEntry is a single role-tagged utterance in a call transcript.
type TranscriptEntry struct {
	Role string    `json:"role"` // "assistant" | "customer" | "system"
	Text string    `json:"text"`
	At   time.Time `json:"at,omitempty"`
}

// CallRecord is one row per phone call handled by the voice agent. Created
// (or upserted) at the first webhook event referencing the provider call ID,
// updated on lifecycle events, finalized at end-of-call.
type CallRecord struct {
	ID               string            `json:"id"`
	ProviderCallID   string            `json:"provider_call_id"`
	RestaurantID     string            `json:"restaurant_id"`
	Direction        CallDirection     `json:"direction"`
	Status           CallStatus        `json:"status"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds  int               `json:"duration_seconds"`
	Transcript       []TranscriptEntry `json:"transcript,omitempty"`
	DetectedLanguage string            `json:"detected_language,omitempty"`
	Sentiment        string            `json:"sentiment,omitempty"`
	EndedReason      string            `json:"ended_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// LimitCheck is the result of classifying consumption against a quota.
type LimitCheck struct {
	Status      LimitStatus `json:"status"`
	Remaining   int         `json:"remaining"`
	PercentUsed float64     `json:"percent_used"`
	Unlimited   bool        `json:"unlimited"`
}

// UsageSnapshot is the read-only usage surface returned to the dashboard and
// to pre-flight checks.
type UsageSnapshot struct {
	OrganizationID string                         `json:"organization_id"`
	Plan           PlanTier                       `json:"plan"`
	Resources      map[ResourceType]ResourceUsage `json:"resources"`
}

// ResourceUsage pairs a consumption figure with its classified limit state.
type ResourceUsage struct {
	Used  int        `json:"used"`
	Limit int        `json:"limit"`
	Check LimitCheck `json:"check"`
}

// APIKey authenticates dashboard/back-office access to the usage query
// surface. Only the bcrypt hash of the secret is stored.
type APIKey struct {
	ID             string     `json:"id"` // public prefix, e.g. "tlk_abc123"
	OrganizationID string     `json:"organization_id"`
	SecretHash     string     `json:"-"`
	Label          string     `json:"label"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}
