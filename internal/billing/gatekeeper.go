package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tableline/internal/types"
)

// UsageDelta is the storage-level result of an atomic minute increment. All
// fields come back from the same UPDATE ... RETURNING statement, so the new
// total and the plan reflect one snapshot (no stale-limit race against a
// concurrent plan change).
type UsageDelta struct {
	OrgID           string
	NewTotal        int
	Plan            types.PlanTier
	Limits          types.PlanLimits
	CycleAnchor     time.Time
	OrgName         string
	BillingEmail    string
	SlackWebhookURL string
}

// UsageStore is the storage interface the gatekeeper needs. Implemented by
// db.OrgRepository.
type UsageStore interface {
	// AddVoiceMinutes atomically adds delta minutes to the organization's
	// counter and returns the post-increment state. The increment must be a
	// single atomic storage operation; two concurrent calls may never lose
	// an update.
	AddVoiceMinutes(ctx context.Context, orgID string, delta int) (*UsageDelta, error)

	// GetOrganization returns the organization row for usage snapshots.
	GetOrganization(ctx context.Context, orgID string) (*types.Organization, error)

	// CountActiveLocations counts the organization's restaurants.
	CountActiveLocations(ctx context.Context, orgID string) (int, error)
}

// IncrementResult is returned by IncrementUsage.
type IncrementResult struct {
	NewTotal int
	Check    types.LimitCheck
	// Alert is non-nil when this increment crossed the warning or overage
	// threshold. At most one alert per increment; an increment that jumps
	// from below 80% straight past 100% yields only the overage alert.
	Alert *types.UsageAlert
}

// Gatekeeper is the usage mutator: it records consumed voice minutes,
// detects threshold crossings, and answers usage queries. It never rejects
// an increment on quota grounds; blocking only gates new calls elsewhere,
// and billing-relevant usage data is recorded even over budget.
type Gatekeeper struct {
	store    UsageStore
	registry PlanRegistry
	logger   *slog.Logger
}

// NewGatekeeper creates a Gatekeeper.
func NewGatekeeper(store UsageStore, registry PlanRegistry, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{store: store, registry: registry, logger: logger}
}

// IncrementUsage adds deltaMinutes to the organization's running total and
// reports the post-increment limit state. deltaMinutes must be >= 0; callers
// convert raw seconds with MinutesFromSeconds (ceiling).
//
// A persistence failure returns an error and no alert: the caller treats it
// as retryable infrastructure trouble, not a business-rule rejection.
func (g *Gatekeeper) IncrementUsage(ctx context.Context, orgID string, deltaMinutes int) (*IncrementResult, error) {
	if deltaMinutes < 0 {
		return nil, types.NewAppError(types.ErrCodeValidationNegativeDelta,
			fmt.Sprintf("delta minutes must be non-negative, got %d", deltaMinutes), nil)
	}

	delta, err := g.store.AddVoiceMinutes(ctx, orgID, deltaMinutes)
	if err != nil {
		return nil, err
	}

	limit := g.minuteLimit(delta.Plan, delta.Limits)
	check := Classify(delta.NewTotal, limit)

	result := &IncrementResult{NewTotal: delta.NewTotal, Check: check}
	if alert := g.detectCrossing(delta, deltaMinutes, limit); alert != nil {
		result.Alert = alert
	}

	g.logger.InfoContext(ctx, "voice usage incremented",
		"org_id", orgID,
		"delta_minutes", deltaMinutes,
		"new_total", delta.NewTotal,
		"status", string(check.Status),
		"alert", result.Alert != nil,
	)

	return result, nil
}

// detectCrossing compares the before/after consumption percentages against
// the 80%/100% boundaries. Warning and overage are mutually exclusive per
// increment: the overage branch wins when both boundaries are crossed at
// once, avoiding duplicate-but-different-severity notifications for a single
// event.
func (g *Gatekeeper) detectCrossing(delta *UsageDelta, deltaMinutes, limit int) *types.UsageAlert {
	if limit == types.UnlimitedLimit {
		return nil
	}

	previous := delta.NewTotal - deltaMinutes
	prevPct := percentOf(previous, limit)
	newPct := percentOf(delta.NewTotal, limit)

	switch {
	case prevPct < BlockedThresholdPct && newPct >= BlockedThresholdPct:
		return g.buildThresholdAlert(delta, types.AlertUsageOverage, previous, limit, newPct)
	case prevPct < WarningThresholdPct && newPct >= WarningThresholdPct && newPct < BlockedThresholdPct:
		return g.buildThresholdAlert(delta, types.AlertUsageWarning, previous, limit, newPct)
	default:
		return nil
	}
}

func (g *Gatekeeper) buildThresholdAlert(delta *UsageDelta, alertType types.AlertType, previous, limit int, newPct float64) *types.UsageAlert {
	var title, message string
	switch alertType {
	case types.AlertUsageOverage:
		title = "Voice minute limit exceeded"
		message = fmt.Sprintf("%s has used %d of %d included voice minutes this cycle. New calls may be blocked until the plan is upgraded or the cycle resets.",
			delta.OrgName, delta.NewTotal, limit)
	default:
		title = fmt.Sprintf("Voice minutes at %.0f%% of plan limit", newPct)
		message = fmt.Sprintf("%s has used %d of %d included voice minutes this cycle.",
			delta.OrgName, delta.NewTotal, limit)
	}

	return &types.UsageAlert{
		OrganizationID: delta.OrgID,
		Type:           alertType,
		Severity:       alertType.Severity(),
		Title:          title,
		Message:        message,
		// One alert per crossing per billing cycle: replayed webhook
		// deliveries collide on this key and are dropped at insert.
		DedupeKey: ThresholdDedupeKey(delta, alertType),
		Metadata:  types.Metadata{
			"previous_total": previous,
			"new_total":      delta.NewTotal,
			"minute_limit":   limit,
			"percent_used":   newPct,
			"plan":           string(delta.Plan),
		},
	}
}

// ThresholdDedupeKey builds the uniqueness key for a threshold alert:
// (organization, alert type, billing cycle anchor).
func ThresholdDedupeKey(delta *UsageDelta, alertType types.AlertType) string {
	return fmt.Sprintf("%s|%s|%s", delta.OrgID, alertType, delta.CycleAnchor.UTC().Format("2006-01-02"))
}

// GetUsage returns the read-only usage snapshot for the dashboard.
func (g *Gatekeeper) GetUsage(ctx context.Context, orgID string) (*types.UsageSnapshot, error) {
	org, err := g.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	locations, err := g.store.CountActiveLocations(ctx, orgID)
	if err != nil {
		return nil, err
	}

	limits := g.limitsFor(org.Plan, org.PlanLimits)

	return &types.UsageSnapshot{
		OrganizationID: org.ID,
		Plan:           org.Plan,
		Resources: map[types.ResourceType]types.ResourceUsage{
			types.ResourceVoiceMinutes: {
				Used:  org.VoiceMinutesUsed,
				Limit: limits.VoiceMinutes,
				Check: Classify(org.VoiceMinutesUsed, limits.VoiceMinutes),
			},
			types.ResourceLocations: {
				Used:  locations,
				Limit: limits.Locations,
				Check: Classify(locations, limits.Locations),
			},
		},
	}, nil
}

// CanConsume is the pre-flight check: would the organization still be within
// its minute quota after consuming n more minutes?
func (g *Gatekeeper) CanConsume(ctx context.Context, orgID string, minutes int) (types.LimitCheck, error) {
	if minutes < 0 {
		return types.LimitCheck{}, types.NewAppError(types.ErrCodeValidationNegativeDelta,
			"minutes must be non-negative", nil)
	}

	org, err := g.store.GetOrganization(ctx, orgID)
	if err != nil {
		return types.LimitCheck{}, err
	}

	limits := g.limitsFor(org.Plan, org.PlanLimits)
	return Classify(org.VoiceMinutesUsed+minutes, limits.VoiceMinutes), nil
}

// limitsFor prefers the per-organization limits snapshot, falling back to the
// registry when the row carries no snapshot (zero value).
func (g *Gatekeeper) limitsFor(plan types.PlanTier, snapshot types.PlanLimits) types.PlanLimits {
	if snapshot == (types.PlanLimits{}) {
		return g.registry.GetLimits(plan)
	}
	return snapshot
}

// minuteLimit resolves just the voice-minute quota.
func (g *Gatekeeper) minuteLimit(plan types.PlanTier, snapshot types.PlanLimits) int {
	return g.limitsFor(plan, snapshot).VoiceMinutes
}

// percentOf computes consumption percentage with the zero-quota guard: a
// non-positive limit reports 100% so zero-limit plans classify as blocked
// without ever emitting a crossing alert.
func percentOf(value, limit int) float64 {
	if limit <= 0 {
		return BlockedThresholdPct
	}
	if value < 0 {
		value = 0
	}
	return float64(value) / float64(limit) * 100
}
