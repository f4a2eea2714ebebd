package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tableline/internal/billing"
	"tableline/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

type fakeUsageReader struct {
	snapshot *types.UsageSnapshot
	check    types.LimitCheck
	err      error

	canConsumeOrg     string
	canConsumeMinutes int
}

func (f *fakeUsageReader) GetUsage(ctx context.Context, orgID string) (*types.UsageSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeUsageReader) CanConsume(ctx context.Context, orgID string, minutes int) (types.LimitCheck, error) {
	f.canConsumeOrg = orgID
	f.canConsumeMinutes = minutes
	if f.err != nil {
		return types.LimitCheck{}, f.err
	}
	return f.check, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func authedRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	ctx := types.WithActor(r.Context(), types.Actor{
		ID:             "tlk_test",
		Type:           types.ActorTypeAPIKey,
		OrganizationID: "org_123",
	})
	return r.WithContext(ctx)
}

func newUsageHandler(reader *fakeUsageReader) *UsageHandler {
	return NewUsageHandler(reader, billing.NewStaticPlanRegistry(), testLogger())
}

// ---------------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------------

func TestUsage_ListPlans(t *testing.T) {
	h := newUsageHandler(&fakeUsageReader{})

	w := httptest.NewRecorder()
	h.HandleListPlans(w, authedRequest(http.MethodGet, "/v1/plans"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []types.Plan `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 4 {
		t.Fatalf("expected 4 plans, got %d", len(resp.Data))
	}
	if resp.Data[0].Tier != types.PlanFree {
		t.Errorf("expected free first, got %q", resp.Data[0].Tier)
	}
	if resp.Data[2].Limits.VoiceMinutes != 2000 {
		t.Errorf("expected growth at 2000 minutes, got %d", resp.Data[2].Limits.VoiceMinutes)
	}
}

// ---------------------------------------------------------------------------
// Usage snapshot
// ---------------------------------------------------------------------------

func TestUsage_GetUsage(t *testing.T) {
	reader := &fakeUsageReader{snapshot: &types.UsageSnapshot{
		OrganizationID: "org_123",
		Plan:           types.PlanStarter,
		Resources: map[types.ResourceType]types.ResourceUsage{
			types.ResourceVoiceMinutes: {
				Used:  410,
				Limit: 500,
				Check: types.LimitCheck{Status: types.LimitWarning, Remaining: 90, PercentUsed: 82},
			},
		},
	}}
	h := newUsageHandler(reader)

	w := httptest.NewRecorder()
	h.HandleGetUsage(w, authedRequest(http.MethodGet, "/v1/usage"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data types.UsageSnapshot `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	voice := resp.Data.Resources[types.ResourceVoiceMinutes]
	if voice.Used != 410 || voice.Check.Status != types.LimitWarning {
		t.Errorf("snapshot not passed through: %+v", voice)
	}
}

func TestUsage_GetUsageUnauthenticated(t *testing.T) {
	h := newUsageHandler(&fakeUsageReader{})

	w := httptest.NewRecorder()
	h.HandleGetUsage(w, httptest.NewRequest(http.MethodGet, "/v1/usage", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an actor, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Pre-flight
// ---------------------------------------------------------------------------

func TestUsage_PreflightDefaultsToOneMinute(t *testing.T) {
	reader := &fakeUsageReader{check: types.LimitCheck{Status: types.LimitOK, Remaining: 90}}
	h := newUsageHandler(reader)

	w := httptest.NewRecorder()
	h.HandlePreflight(w, authedRequest(http.MethodGet, "/v1/usage/preflight"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reader.canConsumeMinutes != 1 {
		t.Errorf("expected default of 1 minute, got %d", reader.canConsumeMinutes)
	}
	if reader.canConsumeOrg != "org_123" {
		t.Errorf("organization must come from the actor, got %q", reader.canConsumeOrg)
	}

	var resp struct {
		Data preflightResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Data.Allowed {
		t.Error("an ok check must be allowed")
	}
}

func TestUsage_PreflightBlockedNotAllowed(t *testing.T) {
	reader := &fakeUsageReader{check: types.LimitCheck{Status: types.LimitBlocked, Remaining: 0, PercentUsed: 100}}
	h := newUsageHandler(reader)

	w := httptest.NewRecorder()
	h.HandlePreflight(w, authedRequest(http.MethodGet, "/v1/usage/preflight?minutes=5"))

	if w.Code != http.StatusOK {
		t.Fatalf("preflight is a query, not a gate: expected 200, got %d", w.Code)
	}
	if reader.canConsumeMinutes != 5 {
		t.Errorf("expected 5 minutes from query, got %d", reader.canConsumeMinutes)
	}

	var resp struct {
		Data preflightResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Data.Allowed {
		t.Error("a blocked check must not be allowed")
	}
	if resp.Data.Minutes != 5 {
		t.Errorf("response must echo the requested delta, got %d", resp.Data.Minutes)
	}
}

func TestUsage_PreflightRejectsNonIntegerMinutes(t *testing.T) {
	h := newUsageHandler(&fakeUsageReader{})

	w := httptest.NewRecorder()
	h.HandlePreflight(w, authedRequest(http.MethodGet, "/v1/usage/preflight?minutes=lots"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad minutes value, got %d", w.Code)
	}
}
