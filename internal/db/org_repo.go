package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"tableline/internal/billing"
	"tableline/internal/types"
)

// OrgRepository provides data access for the organizations table, including
// the metered voice-minute counter and the subscription state written by
// billing webhooks.
type OrgRepository struct {
	db DBTX
}

// NewOrgRepository creates a new OrgRepository backed by the given database
// connection (pool or transaction).
func NewOrgRepository(db DBTX) *OrgRepository {
	return &OrgRepository{db: db}
}

// OrgRepository satisfies the gatekeeper's storage interface.
var _ billing.UsageStore = (*OrgRepository)(nil)

// orgColumns defines the standard set of columns selected for organization
// queries. Used consistently across all query methods to avoid column drift.
const orgColumns = `o.id, o.name, o.billing_email, o.plan, o.plan_limits,
	o.voice_minutes_used, o.subscription_status, o.stripe_customer_id,
	o.stripe_subscription_id, o.slack_webhook_url, o.billing_cycle_anchor,
	o.last_subscription_event_at, o.created_at, o.updated_at, o.deleted_at`

// scanOrg scans a single organization row into a types.Organization struct.
// The columns must match the order defined in orgColumns.
func scanOrg(row pgx.Row) (*types.Organization, error) {
	var org types.Organization
	var stripeCustomerID, stripeSubID, slackWebhookURL *string

	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&org.Plan,
		&org.PlanLimits,
		&org.VoiceMinutesUsed,
		&org.SubscriptionStatus,
		&stripeCustomerID,
		&stripeSubID,
		&slackWebhookURL,
		&org.BillingCycleAnchor,
		&org.LastSubscriptionEventAt,
		&org.CreatedAt,
		&org.UpdatedAt,
		&org.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeCustomerID != nil {
		org.StripeCustomerID = *stripeCustomerID
	}
	if stripeSubID != nil {
		org.StripeSubID = *stripeSubID
	}
	if slackWebhookURL != nil {
		org.SlackWebhookURL = *slackWebhookURL
	}
	return &org, nil
}

// Create inserts a new organization record. The caller must set the ID
// (prefixed UUID, e.g. "org_...") and required fields before calling.
func (r *OrgRepository) Create(ctx context.Context, org *types.Organization) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO organizations (id, name, billing_email, plan, plan_limits,
		 voice_minutes_used, subscription_status, stripe_customer_id,
		 slack_webhook_url, billing_cycle_anchor, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()),
		 COALESCE($11, NOW()), COALESCE($12, NOW()))`,
		org.ID,
		org.Name,
		org.BillingEmail,
		org.Plan,
		org.PlanLimits,
		org.VoiceMinutesUsed,
		org.SubscriptionStatus,
		nilIfEmpty(org.StripeCustomerID),
		nilIfEmpty(org.SlackWebhookURL),
		nilIfZeroTime(org.BillingCycleAnchor),
		nilIfZeroTime(org.CreatedAt),
		nilIfZeroTime(org.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create organization", err)
	}
	return nil
}

// GetOrganization retrieves an organization by its ID. Excludes soft-deleted
// organizations.
func (r *OrgRepository) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orgColumns+`
		 FROM organizations o
		 WHERE o.id = $1 AND o.deleted_at IS NULL`,
		id,
	)

	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return org, nil
}

// GetByStripeCustomerID resolves the organization owning a Stripe customer.
// Billing webhooks identify organizations this way.
func (r *OrgRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orgColumns+`
		 FROM organizations o
		 WHERE o.stripe_customer_id = $1 AND o.deleted_at IS NULL`,
		customerID,
	)

	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "no organization for stripe customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return org, nil
}

// AddVoiceMinutes atomically adds delta minutes to the organization's counter
// and returns the post-increment state. The single UPDATE ... RETURNING means
// the new total and the plan come from one row snapshot, so two concurrent
// increments can never lose an update and the limit applied is never stale
// relative to a concurrent plan change.
func (r *OrgRepository) AddVoiceMinutes(ctx context.Context, orgID string, delta int) (*billing.UsageDelta, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE organizations
		 SET voice_minutes_used = voice_minutes_used + $2,
		     updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING id, voice_minutes_used, plan, plan_limits,
		           billing_cycle_anchor, name, billing_email,
		           COALESCE(slack_webhook_url, '')`,
		orgID,
		delta,
	)

	var d billing.UsageDelta
	err := row.Scan(
		&d.OrgID,
		&d.NewTotal,
		&d.Plan,
		&d.Limits,
		&d.CycleAnchor,
		&d.OrgName,
		&d.BillingEmail,
		&d.SlackWebhookURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to increment voice minutes", err)
	}
	return &d, nil
}

// CountActiveLocations counts the organization's restaurants. This is the
// authoritative count for the location quota; it is computed on demand rather
// than cached on the organization row.
func (r *OrgRepository) CountActiveLocations(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM restaurants
		 WHERE organization_id = $1 AND deleted_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count restaurants", err)
	}
	return count, nil
}

// SubscriptionState is the target state a billing webhook wants to apply.
// EventTime is the provider's event creation timestamp and drives the
// stale-delivery guard.
type SubscriptionState struct {
	Plan        types.PlanTier
	Limits      types.PlanLimits
	Status      types.SubscriptionStatus
	StripeSubID string
	// ClearSubID removes the stored subscription reference; set on
	// cancellation, where the subscription object no longer exists upstream.
	ClearSubID bool
	EventTime  time.Time
}

// ApplySubscriptionState writes a plan/status transition keyed by Stripe
// customer ID. Out-of-order webhook deliveries are rejected: the UPDATE only
// matches when the incoming event is newer than the last applied one, and a
// losing write surfaces as ErrCodeConflictStaleEvent.
func (r *OrgRepository) ApplySubscriptionState(ctx context.Context, customerID string, state SubscriptionState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     plan_limits = $2,
		     subscription_status = $3,
		     stripe_subscription_id = CASE WHEN $4 THEN NULL
		                                   ELSE COALESCE($5, stripe_subscription_id) END,
		     last_subscription_event_at = $6,
		     updated_at = NOW()
		 WHERE stripe_customer_id = $7
		   AND deleted_at IS NULL
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $6)`,
		state.Plan,
		state.Limits,
		state.Status,
		state.ClearSubID,
		nilIfEmpty(state.StripeSubID),
		state.EventTime.UTC(),
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyNoMatch(ctx, customerID)
	}
	return nil
}

// SetSubscriptionStatus changes only the subscription status (e.g. past_due
// on a failed payment) with the same stale-event guard as
// ApplySubscriptionState.
func (r *OrgRepository) SetSubscriptionStatus(ctx context.Context, customerID string, status types.SubscriptionStatus, eventTime time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET subscription_status = $1,
		     last_subscription_event_at = $2,
		     updated_at = NOW()
		 WHERE stripe_customer_id = $3
		   AND deleted_at IS NULL
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $2)`,
		status,
		eventTime.UTC(),
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyNoMatch(ctx, customerID)
	}
	return nil
}

// classifyNoMatch distinguishes "no such customer" from "customer exists but
// the event is stale" after a guarded UPDATE matched zero rows.
func (r *OrgRepository) classifyNoMatch(ctx context.Context, customerID string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM organizations
		   WHERE stripe_customer_id = $1 AND deleted_at IS NULL
		 )`,
		customerID,
	).Scan(&exists)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check organization existence", err)
	}
	if !exists {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "no organization for stripe customer", nil)
	}
	return types.NewAppError(types.ErrCodeConflictStaleEvent, "subscription event is older than last applied event", nil)
}
