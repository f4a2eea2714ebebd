package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tableline/internal/alerts"
	"tableline/internal/billing"
	"tableline/internal/core"
	"tableline/internal/types"
)

// voiceSecretHeader carries the shared secret the voice provider is
// configured to send with every webhook.
const voiceSecretHeader = "X-Webhook-Secret"

// maxVoiceBodySize caps voice webhook payloads (2 MB); end-of-call reports
// include full transcripts.
const maxVoiceBodySize = 2 << 20

// Voice-provider message.type discriminator values.
const (
	voiceMsgCallStart        = "call-start"
	voiceMsgStatusUpdate     = "status-update"
	voiceMsgEndOfCallReport  = "end-of-call-report"
	voiceMsgToolCalls        = "tool-calls"
	voiceMsgAssistantRequest = "assistant-request"
)

// RestaurantResolver resolves which restaurant a call belongs to. Implemented
// by db.RestaurantRepository.
type RestaurantResolver interface {
	GetByID(ctx context.Context, id string) (*types.Restaurant, error)
	GetByAssistantID(ctx context.Context, assistantID string) (*types.Restaurant, error)
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*types.Restaurant, error)
}

// CallStore persists call lifecycle state. Implemented by db.CallRepository.
type CallStore interface {
	Upsert(ctx context.Context, call *types.CallRecord) error
	Finalize(ctx context.Context, call *types.CallRecord) error
}

// UsageTracker is the gatekeeper increment surface. Implemented by
// billing.Gatekeeper.
type UsageTracker interface {
	IncrementUsage(ctx context.Context, orgID string, deltaMinutes int) (*billing.IncrementResult, error)
}

// OrgContactLookup fetches the organization row for alert contact details.
type OrgContactLookup interface {
	GetOrganization(ctx context.Context, orgID string) (*types.Organization, error)
}

// VoiceWebhookHandler ingests call lifecycle events from the voice provider.
// Authentication is a constant-time shared-secret header comparison; once
// authenticated, the response is always 200 {"received":true} so the provider
// never retries into our own failures.
type VoiceWebhookHandler struct {
	restaurants RestaurantResolver
	calls       CallStore
	gatekeeper  UsageTracker
	orgs        OrgContactLookup
	dispatcher  AlertDispatcher
	secret      string
	logger      *slog.Logger
}

// NewVoiceWebhookHandler creates a VoiceWebhookHandler.
func NewVoiceWebhookHandler(
	restaurants RestaurantResolver,
	calls CallStore,
	gatekeeper UsageTracker,
	orgs OrgContactLookup,
	dispatcher AlertDispatcher,
	secret string,
	logger *slog.Logger,
) *VoiceWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceWebhookHandler{
		restaurants: restaurants,
		calls:       calls,
		gatekeeper:  gatekeeper,
		orgs:        orgs,
		dispatcher:  dispatcher,
		secret:      secret,
		logger:      logger,
	}
}

// RegisterRoutes mounts the voice webhook endpoint on the public route group.
func (h *VoiceWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/voice", h.Handle)
}

// voiceWebhookRequest is the provider's webhook envelope.
type voiceWebhookRequest struct {
	Message voiceMessage `json:"message"`
}

// voiceMessage is the discriminated payload. Only the fields the gatekeeper
// reads are modelled; the provider sends much more.
type voiceMessage struct {
	Type      string         `json:"type"`
	Call      voiceCall      `json:"call"`
	Assistant voiceAssistant `json:"assistant"`
	// Status accompanies status-update messages.
	Status string `json:"status"`
	// End-of-call-report fields.
	StartedAt       *time.Time        `json:"startedAt"`
	EndedAt         *time.Time        `json:"endedAt"`
	DurationSeconds float64           `json:"durationSeconds"`
	EndedReason     string            `json:"endedReason"`
	Transcript      []voiceUtterance  `json:"messages"`
	Analysis        voiceCallAnalysis `json:"analysis"`
}

type voiceCall struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // "inboundPhoneCall" | "outboundPhoneCall"
	PhoneNumber struct {
		Number string `json:"number"`
	} `json:"phoneNumber"`
}

type voiceAssistant struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type voiceUtterance struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	SecondsFromStart float64 `json:"secondsFromStart"`
}

type voiceCallAnalysis struct {
	Sentiment        string `json:"sentiment"`
	DetectedLanguage string `json:"detectedLanguage"`
}

// voiceAck is the fixed success response body.
var voiceAck = map[string]bool{"received": true}

// Handle authenticates and routes one voice webhook delivery.
func (h *VoiceWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	presented := r.Header.Get(voiceSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) != 1 {
		h.logger.WarnContext(r.Context(), "voice webhook secret mismatch")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSecretInvalid,
			"invalid webhook secret",
			nil,
		))
		return
	}

	// Lenient decode: the provider envelope carries many fields beyond the
	// modelled subset, so unknown fields are expected.
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceBodySize)
	var req voiceWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook payload",
			err,
		))
		return
	}

	switch req.Message.Type {
	case voiceMsgEndOfCallReport:
		h.handleEndOfCall(r.Context(), &req.Message)

	case voiceMsgCallStart, voiceMsgStatusUpdate:
		h.recordLifecycle(r.Context(), &req.Message)

	case voiceMsgToolCalls, voiceMsgAssistantRequest:
		// Handled by the conversation service, not the gatekeeper.

	default:
		h.logger.InfoContext(r.Context(), "ignoring unknown voice message type",
			"message_type", req.Message.Type,
		)
	}

	core.JSON(w, r, http.StatusOK, voiceAck)
}

// recordLifecycle upserts a call row for call-start and status-update
// messages so the dashboard sees in-flight calls. Failures are logged only;
// the report at end-of-call recreates the row anyway.
func (h *VoiceWebhookHandler) recordLifecycle(ctx context.Context, msg *voiceMessage) {
	restaurant, err := h.resolveRestaurant(ctx, msg)
	if err != nil {
		h.logger.WarnContext(ctx, "cannot resolve restaurant for call lifecycle event",
			"provider_call_id", msg.Call.ID,
			"error", err,
		)
		return
	}

	call := &types.CallRecord{
		ID:             "call_" + uuid.New().String(),
		ProviderCallID: msg.Call.ID,
		RestaurantID:   restaurant.ID,
		Direction:      callDirection(msg.Call.Type),
		Status:         lifecycleStatus(msg),
		StartedAt:      msg.StartedAt,
	}

	if err := h.calls.Upsert(ctx, call); err != nil {
		h.logger.ErrorContext(ctx, "failed to upsert call record",
			"provider_call_id", msg.Call.ID,
			"error", err,
		)
	}
}

// handleEndOfCall finalizes the call record and then tracks usage. Ordering
// is deliberate: the call row (the billing evidence) is saved before usage
// accounting, so a tracking failure can be reconciled later from stored
// calls. A tracking failure becomes a best-effort audit alert and is never
// surfaced to the provider.
func (h *VoiceWebhookHandler) handleEndOfCall(ctx context.Context, msg *voiceMessage) {
	restaurant, err := h.resolveRestaurant(ctx, msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "cannot resolve restaurant for end-of-call report",
			"provider_call_id", msg.Call.ID,
			"assistant_id", msg.Assistant.ID,
			"error", err,
		)
		return
	}

	durationSeconds := int(msg.DurationSeconds)
	if durationSeconds <= 0 && msg.StartedAt != nil && msg.EndedAt != nil {
		durationSeconds = int(msg.EndedAt.Sub(*msg.StartedAt).Seconds())
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	call := &types.CallRecord{
		ID:               "call_" + uuid.New().String(),
		ProviderCallID:   msg.Call.ID,
		RestaurantID:     restaurant.ID,
		Direction:        callDirection(msg.Call.Type),
		Status:           types.CallCompleted,
		StartedAt:        msg.StartedAt,
		EndedAt:          msg.EndedAt,
		DurationSeconds:  durationSeconds,
		Transcript:       transcriptEntries(msg),
		DetectedLanguage: msg.Analysis.DetectedLanguage,
		Sentiment:        msg.Analysis.Sentiment,
		EndedReason:      msg.EndedReason,
	}

	if err := h.calls.Finalize(ctx, call); err != nil {
		h.logger.ErrorContext(ctx, "failed to finalize call record",
			"provider_call_id", msg.Call.ID,
			"error", err,
		)
		// Without a saved call there is no billing evidence; skip usage
		// tracking rather than bill an unrecorded call.
		return
	}

	minutes := billing.MinutesFromSeconds(durationSeconds)
	result, err := h.gatekeeper.IncrementUsage(ctx, restaurant.OrganizationID, minutes)
	if err != nil {
		h.reportTrackingFailure(ctx, restaurant.OrganizationID, msg.Call.ID, minutes, err)
		return
	}

	if result.Alert != nil {
		contact := alerts.Contact{}
		if org, orgErr := h.orgs.GetOrganization(ctx, restaurant.OrganizationID); orgErr == nil {
			contact = contactFor(org)
		}
		h.dispatcher.Dispatch(ctx, result.Alert, contact)
	}
}

// reportTrackingFailure raises the usage_tracking_failed audit alert. The
// call record is already saved, so operators can reconcile the counter from
// stored call durations.
func (h *VoiceWebhookHandler) reportTrackingFailure(ctx context.Context, orgID, providerCallID string, minutes int, cause error) {
	h.logger.ErrorContext(ctx, "usage tracking failed after call was recorded",
		"org_id", orgID,
		"provider_call_id", providerCallID,
		"minutes", minutes,
		"error", cause,
	)

	contact := alerts.Contact{}
	if org, err := h.orgs.GetOrganization(ctx, orgID); err == nil {
		contact = contactFor(org)
	}

	h.dispatcher.Dispatch(ctx, &types.UsageAlert{
		OrganizationID: orgID,
		Type:           types.AlertUsageTrackingFailed,
		Title:          "Usage tracking failed",
		Message:        fmt.Sprintf("A completed call (%d minute(s)) was recorded but could not be added to the usage counter.", minutes),
		DedupeKey:      fmt.Sprintf("tracking_failed|%s", providerCallID),
		Metadata: types.Metadata{
			"provider_call_id": providerCallID,
			"minutes":          minutes,
		},
	}, contact)
}

// resolveRestaurant maps a webhook message to a restaurant: assistant
// metadata first, then the assistant ID, then the called phone number.
func (h *VoiceWebhookHandler) resolveRestaurant(ctx context.Context, msg *voiceMessage) (*types.Restaurant, error) {
	if id := msg.Assistant.Metadata["restaurant_id"]; id != "" {
		if restaurant, err := h.restaurants.GetByID(ctx, id); err == nil {
			return restaurant, nil
		}
	}

	if msg.Assistant.ID != "" {
		if restaurant, err := h.restaurants.GetByAssistantID(ctx, msg.Assistant.ID); err == nil {
			return restaurant, nil
		}
	}

	if number := msg.Call.PhoneNumber.Number; number != "" {
		return h.restaurants.GetByPhoneNumber(ctx, number)
	}

	return nil, types.NewAppError(types.ErrCodeNotFoundRestaurant,
		"no restaurant matches the call's assistant or phone number", nil)
}

func callDirection(callType string) types.CallDirection {
	if callType == "outboundPhoneCall" {
		return types.DirectionOutbound
	}
	return types.DirectionInbound
}

func lifecycleStatus(msg *voiceMessage) types.CallStatus {
	if msg.Type == voiceMsgCallStart {
		return types.CallActive
	}
	switch msg.Status {
	case "ringing":
		return types.CallRinging
	case "in-progress", "in_progress":
		return types.CallInProgress
	default:
		return types.CallActive
	}
}

// transcriptEntries converts provider utterances, anchoring timestamps on the
// call start when available.
func transcriptEntries(msg *voiceMessage) []types.TranscriptEntry {
	if len(msg.Transcript) == 0 {
		return nil
	}
	entries := make([]types.TranscriptEntry, 0, len(msg.Transcript))
	for _, u := range msg.Transcript {
		entry := types.TranscriptEntry{Role: u.Role, Text: u.Message}
		if msg.StartedAt != nil {
			entry.At = msg.StartedAt.Add(time.Duration(u.SecondsFromStart * float64(time.Second)))
		}
		entries = append(entries, entry)
	}
	return entries
}
