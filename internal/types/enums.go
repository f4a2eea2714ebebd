package types

// PlanTier identifies a subscription plan level.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanGrowth     PlanTier = "growth"
	PlanEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus mirrors the billing provider's subscription lifecycle,
// reduced to the states the platform acts on.
type SubscriptionStatus string

const (
	SubStatusActive     SubscriptionStatus = "active"
	SubStatusPastDue    SubscriptionStatus = "past_due"
	SubStatusCanceled   SubscriptionStatus = "canceled"
	SubStatusTrialing   SubscriptionStatus = "trialing"
	SubStatusIncomplete SubscriptionStatus = "incomplete"
)

// LimitStatus classifies an organization's consumption against a quota.
type LimitStatus string

const (
	LimitOK      LimitStatus = "ok"
	LimitWarning LimitStatus = "warning"
	LimitBlocked LimitStatus = "blocked"
)

// AlertType enumerates the audit/alert record kinds the gatekeeper emits.
type AlertType string

const (
	AlertUsageWarning         AlertType = "usage_warning"
	AlertUsageOverage         AlertType = "usage_overage"
	AlertPaymentFailed        AlertType = "payment_failed"
	AlertSubscriptionRenewed  AlertType = "subscription_renewed"
	AlertSubscriptionCanceled AlertType = "subscription_canceled"
	AlertUsageTrackingFailed  AlertType = "usage_tracking_failed"
)

// AlertSeverity is the operator-facing severity of an alert.
type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// Severity returns the canonical severity for an alert type.
// Unknown types report as info so a bad row never escalates paging.
func (t AlertType) Severity() AlertSeverity {
	switch t {
	case AlertUsageWarning:
		return SeverityWarning
	case AlertUsageOverage, AlertPaymentFailed, AlertUsageTrackingFailed:
		return SeverityError
	case AlertSubscriptionRenewed, AlertSubscriptionCanceled:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// CallStatus is the lifecycle state of a voice-agent call record.
type CallStatus string

const (
	CallActive     CallStatus = "active"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no_answer"
)

// CallDirection distinguishes inbound customer calls from outbound agent calls.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// ResourceType identifies a metered plan resource.
type ResourceType string

const (
	ResourceVoiceMinutes ResourceType = "voice_minutes"
	ResourceLocations    ResourceType = "locations"
)
