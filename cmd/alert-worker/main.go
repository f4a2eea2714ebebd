// Package main is the entrypoint for the Alert Worker Lambda function.
//
// The worker consumes AlertMessages from the alert SQS queue and delivers
// them over the configured channels (email via Resend, Slack via the
// organization's incoming webhook). Each invocation receives a batch of SQS
// messages; messages whose delivery failed on every channel are reported as
// partial batch failures so SQS redelivers only those.
//
// Cold start wiring: structured logger, AWS SDK config, CloudWatch metrics,
// provider HTTP clients, then lambda.Start. With APP_ENV=local the worker
// instead reads one SQS event as JSON from stdin, which allows exercising the
// full pipeline without the Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"tableline/internal/alerts"
	"tableline/internal/external"
	"tableline/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info/Warn/Error directly but its With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// Handler holds the dependencies for the alert worker Lambda handler.
type Handler struct {
	worker *alerts.Worker
	logger types.Logger
}

// Handle processes an SQS event containing one or more alert messages. Each
// message is processed independently; failures are returned as partial batch
// failures so SQS retries only the affected messages.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord delivers one alert message. Unparseable bodies are ACKed
// rather than retried; redelivery cannot fix a malformed payload.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.AlertMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal alert message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	return h.worker.ProcessMessage(ctx, &msg)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	typedLogger := &slogAdapter{logger: logger}

	logger.Info("alert worker initializing")

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	metricsNamespace := os.Getenv("CW_METRICS_NAMESPACE")
	if metricsNamespace == "" {
		metricsNamespace = "Tableline/Gatekeeper"
	}
	dashboardURL := os.Getenv("DASHBOARD_URL")
	if dashboardURL == "" {
		dashboardURL = "https://app.tableline.io"
	}
	fromAddress := os.Getenv("EMAIL_FROM_ADDRESS")
	if fromAddress == "" {
		fromAddress = "billing@tableline.io"
	}
	fromName := os.Getenv("EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "Tableline Billing"
	}

	cwClient := cloudwatch.NewFromConfig(awsCfg)
	metrics := alerts.NewCloudWatchDeliveryMetrics(cwClient, metricsNamespace, typedLogger)

	// Email is optional: without an API key the worker delivers to Slack only.
	var emailSender external.EmailSender
	if apiKey := os.Getenv("EMAIL_API_KEY"); apiKey != "" {
		emailSender = external.NewResendClient(
			&http.Client{Timeout: 10 * time.Second},
			external.ResendClientConfig{
				APIKey:      apiKey,
				BaseURL:     os.Getenv("EMAIL_API_ENDPOINT"),
				FromAddress: fromAddress,
				FromName:    fromName,
				Logger:      logger,
			},
		)
	} else {
		logger.Warn("EMAIL_API_KEY not set, email delivery disabled")
	}

	slackSender := external.NewSlackClient(
		&http.Client{Timeout: 10 * time.Second},
		external.SlackClientConfig{
			UserAgent: os.Getenv("CHATOPS_USER_AGENT"),
			Logger:    logger,
		},
	)

	worker := alerts.NewWorker(emailSender, slackSender, metrics, typedLogger, dashboardURL)
	handler := &Handler{worker: worker, logger: typedLogger}

	logger.Info("alert worker initialized",
		"metrics_namespace", metricsNamespace,
		"email_enabled", emailSender != nil,
	)

	// Local mode: read one SQS event as JSON from stdin instead of starting
	// the Lambda runtime.
	if os.Getenv("APP_ENV") == "local" {
		if err := runLocal(handler, logger); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads an SQS event from stdin and runs the handler once.
func runLocal(handler *Handler, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return errors.New("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return err
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		return err
	}

	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		os.Stderr.Write(append(respJSON, '\n'))
	}
	return nil
}
