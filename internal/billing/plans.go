// Package billing provides plan management, the limit evaluator, and the
// usage gatekeeper.
package billing

import "tableline/internal/types"

// PlanRegistry defines the authoritative quotas for each tier.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// Unknown tiers return the most restrictive (Free) limits to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits

	// PlanByPriceID maps a Stripe price ID to its plan tier. Returns false
	// for prices this deployment does not sell.
	PlanByPriceID(priceID string) (types.PlanTier, bool)

	// Plans returns the full catalogue for the operator-facing API.
	Plans() []types.Plan
}

// staticPlanRegistry is a compile-time registry backed by an in-memory slice.
// Plans are operator-edited configuration, read-only to the runtime.
type staticPlanRegistry struct {
	byTier  map[types.PlanTier]types.Plan
	byPrice map[string]types.PlanTier
	ordered []types.Plan
}

// planDefaults is the hardcoded plan catalogue.
//
//	| Plan       | Voice minutes/cycle | Locations |
//	|------------|---------------------|-----------|
//	| Free       | 60                  | 1         |
//	| Starter    | 500                 | 1         |
//	| Growth     | 2000                | 3         |
//	| Enterprise | unlimited           | unlimited |
//
// Unlimited uses the explicit types.UnlimitedLimit sentinel; a literal 0 is a
// real quota that always blocks.
var planDefaults = []types.Plan{
	{
		Tier:        types.PlanFree,
		DisplayName: "Free",
		Limits:      types.PlanLimits{VoiceMinutes: 60, Locations: 1},
	},
	{
		Tier:          types.PlanStarter,
		DisplayName:   "Starter",
		Limits:        types.PlanLimits{VoiceMinutes: 500, Locations: 1},
		StripePriceID: "price_starter_monthly",
	},
	{
		Tier:          types.PlanGrowth,
		DisplayName:   "Growth",
		Limits:        types.PlanLimits{VoiceMinutes: 2000, Locations: 3},
		StripePriceID: "price_growth_monthly",
	},
	{
		Tier:          types.PlanEnterprise,
		DisplayName:   "Enterprise",
		Limits:        types.PlanLimits{VoiceMinutes: types.UnlimitedLimit, Locations: types.UnlimitedLimit},
		StripePriceID: "price_enterprise_monthly",
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded
// catalogue. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	r := &staticPlanRegistry{
		byTier:  make(map[types.PlanTier]types.Plan, len(planDefaults)),
		byPrice: make(map[string]types.PlanTier, len(planDefaults)),
		ordered: make([]types.Plan, len(planDefaults)),
	}
	copy(r.ordered, planDefaults)
	for _, p := range planDefaults {
		r.byTier[p.Tier] = p
		if p.StripePriceID != "" {
			r.byPrice[p.StripePriceID] = p.Tier
		}
	}
	return r
}

// GetLimits returns the limits for the given tier, falling back to Free for
// unknown tiers.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if p, ok := r.byTier[tier]; ok {
		return p.Limits
	}
	return r.byTier[types.PlanFree].Limits
}

// PlanByPriceID maps a Stripe price ID to its tier.
func (r *staticPlanRegistry) PlanByPriceID(priceID string) (types.PlanTier, bool) {
	tier, ok := r.byPrice[priceID]
	return tier, ok
}

// Plans returns the catalogue in display order. The slice is a copy; callers
// cannot mutate the registry.
func (r *staticPlanRegistry) Plans() []types.Plan {
	out := make([]types.Plan, len(r.ordered))
	copy(out, r.ordered)
	return out
}
