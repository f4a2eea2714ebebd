package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tableline/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey      string
	BaseURL     string // Override for testing; defaults to resendAPIBase
	FromAddress string
	FromName    string
	Logger      *slog.Logger
}

// ResendClient implements EmailSender against the Resend transactional email
// API through BaseClient, so deliveries share the platform's circuit breaker
// and retry behavior.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	from    string
	logger  *slog.Logger
}

// NewResendClient creates a new ResendClient. The httpClient timeout should
// be short (10s); alert email is fire-and-forget and a slow provider must
// not back up the worker.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	base := NewBaseClient(
		httpClient,
		"resend",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Tableline-Alerts/1.0",
	)
	return NewResendClientWithBase(base, cfg)
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient. Useful for tests that disable retries.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		from:    from,
		logger:  logger,
	}
}

// resendSendPayload is the POST /emails request body.
type resendSendPayload struct {
	From    string      `json:"from"`
	To      []string    `json:"to"`
	Subject string      `json:"subject"`
	HTML    string      `json:"html,omitempty"`
	Text    string      `json:"text,omitempty"`
	Tags    []resendTag `json:"tags,omitempty"`
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendSendResponse struct {
	ID string `json:"id"`
}

// Send transmits one email and returns the provider message ID.
func (r *ResendClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	payload := resendSendPayload{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}
	if msg.ReferenceID != "" {
		payload.Tags = []resendTag{{Name: "alert_id", Value: msg.ReferenceID}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal email payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create email request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmail, "email request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("email provider returned %d: %s", resp.StatusCode, string(raw)),
			nil,
		)
	}

	var decoded resendSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmail, "failed to decode email provider response", err)
	}
	return decoded.ID, nil
}

var _ EmailSender = (*ResendClient)(nil)
