package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tableline/internal/billing"
	"tableline/internal/core"
	"tableline/internal/types"
)

// UsageReader is the read side of the gatekeeper. Implemented by
// billing.Gatekeeper.
type UsageReader interface {
	GetUsage(ctx context.Context, orgID string) (*types.UsageSnapshot, error)
	CanConsume(ctx context.Context, orgID string, minutes int) (types.LimitCheck, error)
}

// UsageHandler serves the read-only usage surface: the plan catalogue, the
// current usage snapshot, and the pre-flight consumption check. All routes
// require API-key auth; the organization comes from the authenticated actor,
// never from the request.
type UsageHandler struct {
	usage    UsageReader
	registry billing.PlanRegistry
	logger   *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(usage UsageReader, registry billing.PlanRegistry, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{usage: usage, registry: registry, logger: logger}
}

// RegisterRoutes mounts the usage surface on the authenticated route group.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.HandleListPlans)
	r.Get("/usage", h.HandleGetUsage)
	r.Get("/usage/preflight", h.HandlePreflight)
}

// HandleListPlans returns the plan catalogue.
func (h *UsageHandler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.registry.Plans()})
}

// HandleGetUsage returns the authenticated organization's usage snapshot.
func (h *UsageHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "request is not authenticated", nil))
		return
	}

	snapshot, err := h.usage.GetUsage(r.Context(), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}

// preflightResponse pairs the requested delta with its verdict.
type preflightResponse struct {
	Minutes int              `json:"minutes"`
	Allowed bool             `json:"allowed"`
	Check   types.LimitCheck `json:"check"`
}

// HandlePreflight answers "could this organization consume N more minutes?".
// N comes from the ?minutes query parameter and defaults to 1.
func (h *UsageHandler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "request is not authenticated", nil))
		return
	}

	minutes := 1
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"minutes must be an integer",
				err,
			))
			return
		}
		minutes = parsed
	}

	check, err := h.usage.CanConsume(r.Context(), actor.OrganizationID, minutes)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: preflightResponse{
		Minutes: minutes,
		Allowed: check.Status != types.LimitBlocked,
		Check:   check,
	}})
}
