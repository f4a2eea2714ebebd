package billing

import (
	"testing"

	"tableline/internal/types"
)

func TestGetLimitsKnownTiers(t *testing.T) {
	reg := NewStaticPlanRegistry()

	cases := []struct {
		tier types.PlanTier
		want types.PlanLimits
	}{
		{types.PlanFree, types.PlanLimits{VoiceMinutes: 60, Locations: 1}},
		{types.PlanStarter, types.PlanLimits{VoiceMinutes: 500, Locations: 1}},
		{types.PlanGrowth, types.PlanLimits{VoiceMinutes: 2000, Locations: 3}},
		{types.PlanEnterprise, types.PlanLimits{VoiceMinutes: types.UnlimitedLimit, Locations: types.UnlimitedLimit}},
	}

	for _, tc := range cases {
		if got := reg.GetLimits(tc.tier); got != tc.want {
			t.Errorf("GetLimits(%s) = %+v, want %+v", tc.tier, got, tc.want)
		}
	}
}

func TestGetLimitsUnknownTierFallsBackToFree(t *testing.T) {
	reg := NewStaticPlanRegistry()
	free := reg.GetLimits(types.PlanFree)

	if got := reg.GetLimits(types.PlanTier("platinum")); got != free {
		t.Errorf("unknown tier = %+v, want Free limits %+v", got, free)
	}
	if got := reg.GetLimits(types.PlanTier("")); got != free {
		t.Errorf("empty tier = %+v, want Free limits %+v", got, free)
	}
}

func TestPlanByPriceID(t *testing.T) {
	reg := NewStaticPlanRegistry()

	tier, ok := reg.PlanByPriceID("price_growth_monthly")
	if !ok || tier != types.PlanGrowth {
		t.Errorf("PlanByPriceID(growth) = %s, %v", tier, ok)
	}

	if _, ok := reg.PlanByPriceID("price_unknown"); ok {
		t.Error("unknown price ID should not resolve")
	}
	// The free tier has no price; an empty price ID must never resolve to it.
	if _, ok := reg.PlanByPriceID(""); ok {
		t.Error("empty price ID should not resolve")
	}
}

func TestPlansReturnsCopy(t *testing.T) {
	reg := NewStaticPlanRegistry()

	plans := reg.Plans()
	if len(plans) != 4 {
		t.Fatalf("Plans() returned %d plans, want 4", len(plans))
	}

	plans[0].Limits.VoiceMinutes = 999999
	if reg.GetLimits(types.PlanFree).VoiceMinutes == 999999 {
		t.Error("mutating the returned slice must not affect the registry")
	}
}
