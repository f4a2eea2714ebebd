// Package config defines the global configuration for the Tableline
// usage-gatekeeper service. Configuration is loaded once at process start and
// is immutable thereafter, following 12-Factor principles: values come from
// the OS environment, with a .env overlay for local development.
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"

	"tableline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacting secret type
// used for credentials so they never appear in logs or config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tableline-gatekeeper"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Billing  BillingConfig
	Voice    VoiceConfig
	Email    EmailConfig
	ChatOps  ChatOpsConfig
}

// ServerConfig holds HTTP server and public URL settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is embedded in alert emails (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional settings.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AlertQueue receives AlertMessages for the alert worker.
	AlertQueue string `envconfig:"SQS_ALERT_QUEUE" validate:"required,url"`

	// MetricsNamespace is the CloudWatch namespace for gatekeeper telemetry.
	MetricsNamespace string `envconfig:"CW_METRICS_NAMESPACE" default:"Tableline/Gatekeeper"`

	// EndpointURL overrides AWS endpoints for LocalStack (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe webhook verification credentials.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// VoiceConfig holds the voice-provider webhook shared secret.
type VoiceConfig struct {
	WebhookSecret SecretString `envconfig:"VOICE_WEBHOOK_SECRET" validate:"required"`
}

// EmailConfig holds the transactional email provider settings. Delivery goes
// through the provider's HTTP API (Resend-compatible).
type EmailConfig struct {
	APIKey      SecretString `envconfig:"EMAIL_API_KEY" validate:"required"`
	Endpoint    string       `envconfig:"EMAIL_API_ENDPOINT" default:"https://api.resend.com"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@tableline.io"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Tableline Billing"`
	Enabled     bool         `envconfig:"EMAIL_ENABLED" default:"true"`
}

// ChatOpsConfig holds settings for outbound chat-ops webhook delivery.
type ChatOpsConfig struct {
	UserAgent      string        `envconfig:"CHATOPS_USER_AGENT" default:"Tableline-Alerts/1.0"`
	DefaultTimeout time.Duration `envconfig:"CHATOPS_TIMEOUT" default:"10s"`
}
