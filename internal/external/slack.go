package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tableline/internal/types"
)

// SlackClientConfig holds the configuration for creating a SlackClient.
type SlackClientConfig struct {
	UserAgent string
	Logger    *slog.Logger
}

// SlackClient posts Block Kit messages to per-organization incoming webhook
// URLs. Unlike the email client there is no fixed base URL; the destination
// comes with each message because every organization configures its own
// webhook.
type SlackClient struct {
	base   *BaseClient
	logger *slog.Logger
}

// NewSlackClient creates a new SlackClient.
func NewSlackClient(httpClient *http.Client, cfg SlackClientConfig) *SlackClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Tableline-Alerts/1.0"
	}

	base := NewBaseClient(
		httpClient,
		"slack-webhook",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		userAgent,
	)
	return NewSlackClientWithBase(base, cfg)
}

// NewSlackClientWithBase creates a SlackClient with a pre-configured
// BaseClient.
func NewSlackClientWithBase(base *BaseClient, cfg SlackClientConfig) *SlackClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackClient{base: base, logger: logger}
}

// slackPayload is the incoming-webhook request body.
type slackPayload struct {
	Text   string           `json:"text"`
	Blocks []map[string]any `json:"blocks,omitempty"`
}

// Post delivers one message to the organization's webhook URL. Slack answers
// incoming webhooks with a plain "ok" body on success.
func (s *SlackClient) Post(ctx context.Context, msg ChatOpsMessage) error {
	if msg.WebhookURL == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "chat-ops webhook URL is empty", nil)
	}

	body, err := json.Marshal(slackPayload{Text: msg.Fallback, Blocks: msg.Blocks})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal chat-ops payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create chat-ops request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamChatOps, "chat-ops request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return types.NewAppError(
			types.ErrCodeUpstreamChatOps,
			fmt.Sprintf("chat-ops webhook returned %d: %s", resp.StatusCode, string(raw)),
			nil,
		)
	}
	return nil
}

var _ ChatOpsSender = (*SlackClient)(nil)
