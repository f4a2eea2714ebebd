package alerts

import (
	"fmt"
	"strings"

	"tableline/internal/external"
	"tableline/internal/types"
)

// severityEmoji maps alert severity to the leading emoji in Slack messages.
var severityEmoji = map[types.AlertSeverity]string{
	types.SeverityInfo:    ":information_source:",
	types.SeverityWarning: ":warning:",
	types.SeverityError:   ":rotating_light:",
}

// RenderSlack builds the Block Kit payload for an alert. Returns false when
// the organization has no webhook configured, meaning the channel is skipped.
func RenderSlack(msg *types.AlertMessage) (external.ChatOpsMessage, bool) {
	if msg.SlackWebhookURL == "" {
		return external.ChatOpsMessage{}, false
	}

	emoji := severityEmoji[msg.Severity]
	if emoji == "" {
		emoji = ":bell:"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": msg.Title,
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s %s", emoji, msg.Message),
			},
		},
	}

	if fields := slackFields(msg); len(fields) > 0 {
		blocks = append(blocks, map[string]any{
			"type":   "section",
			"fields": fields,
		})
	}

	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s | alert `%s`", msg.OrganizationName, msg.AlertID),
			},
		},
	})

	return external.ChatOpsMessage{
		WebhookURL: msg.SlackWebhookURL,
		Blocks:     blocks,
		Fallback:   fmt.Sprintf("%s: %s", msg.Title, msg.Message),
	}, true
}

// slackFields builds the two-column detail fields for the alert type.
func slackFields(msg *types.AlertMessage) []map[string]any {
	var fields []map[string]any
	add := func(label, value string) {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n%s", label, value),
		})
	}

	switch msg.Type {
	case types.AlertUsageWarning, types.AlertUsageOverage:
		if v, ok := metadataInt(msg.Metadata, "new_total"); ok {
			add("Minutes used", fmt.Sprintf("%d", v))
		}
		if v, ok := metadataInt(msg.Metadata, "minute_limit"); ok {
			add("Plan limit", fmt.Sprintf("%d", v))
		}
		if plan, ok := msg.Metadata["plan"].(string); ok && plan != "" {
			add("Plan", titleCase(plan))
		}
	case types.AlertPaymentFailed, types.AlertSubscriptionRenewed:
		if msg.AmountCents > 0 {
			add("Amount", formatAmount(msg.AmountCents, msg.Currency))
		}
	case types.AlertUsageTrackingFailed:
		if callID, ok := msg.Metadata["provider_call_id"].(string); ok && callID != "" {
			add("Call", callID)
		}
	}

	return fields
}

// titleCase capitalizes the first letter of a plan tier for display.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
