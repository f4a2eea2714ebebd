package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tableline/internal/core"
	"tableline/internal/db"
	"tableline/internal/types"
)

// AlertReader is the audit-surface side of the alert store. Implemented by
// db.AlertRepository.
type AlertReader interface {
	List(ctx context.Context, orgID string, params db.ListAlertsParams) ([]*types.UsageAlert, error)
	GetByID(ctx context.Context, id, orgID string) (*types.UsageAlert, error)
	Acknowledge(ctx context.Context, id, orgID, actor string) error
}

// AlertsHandler serves the alert audit surface: operators list, inspect, and
// acknowledge the alerts the gatekeeper has raised for their organization.
type AlertsHandler struct {
	store  AlertReader
	logger *slog.Logger
}

// NewAlertsHandler creates an AlertsHandler.
func NewAlertsHandler(store AlertReader, logger *slog.Logger) *AlertsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertsHandler{store: store, logger: logger}
}

// RegisterRoutes mounts the alert surface on the authenticated route group.
func (h *AlertsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/alerts", h.HandleList)
	r.Get("/alerts/{alertID}", h.HandleGet)
	r.Post("/alerts/{alertID}/acknowledge", h.HandleAcknowledge)
}

// HandleList returns the organization's alerts, newest first. Supports
// ?type=, ?unacknowledged=true, ?limit= and ?cursor= query parameters.
func (h *AlertsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "request is not authenticated", nil))
		return
	}

	params := db.ListAlertsParams{
		Type:   types.AlertType(r.URL.Query().Get("type")),
		Cursor: r.URL.Query().Get("cursor"),
	}
	if r.URL.Query().Get("unacknowledged") == "true" {
		params.UnacknowledgedOnly = true
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a positive integer",
				err,
			))
			return
		}
		params.Limit = limit
	}

	alerts, err := h.store.List(r.Context(), actor.OrganizationID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: alerts})
}

// HandleGet returns one alert scoped to the authenticated organization.
func (h *AlertsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "request is not authenticated", nil))
		return
	}

	alert, err := h.store.GetByID(r.Context(), chi.URLParam(r, "alertID"), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: alert})
}

// HandleAcknowledge marks an alert as seen. Idempotent: acknowledging twice
// keeps the first acknowledgment.
func (h *AlertsHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "request is not authenticated", nil))
		return
	}

	if err := h.store.Acknowledge(r.Context(), chi.URLParam(r, "alertID"), actor.OrganizationID, actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"acknowledged": true}})
}
