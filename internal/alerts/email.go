package alerts

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"tableline/internal/external"
	"tableline/internal/types"
)

// emailTemplate is the single transactional template for all alert types.
// Billing alerts differ from usage alerts only in the detail rows, so one
// layout with conditional sections keeps rendering simple.
var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1a1a1a; max-width: 600px; margin: 0 auto;">
  <h2 style="margin-bottom: 4px;">{{.Title}}</h2>
  <p style="color: #555; margin-top: 0;">{{.OrganizationName}}</p>
  <p>{{.Message}}</p>
  {{if .Rows}}
  <table style="border-collapse: collapse; width: 100%;">
    {{range .Rows}}
    <tr>
      <td style="padding: 6px 12px 6px 0; color: #555;">{{.Label}}</td>
      <td style="padding: 6px 0; font-weight: 600;">{{.Value}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
  {{if .ActionURL}}
  <p style="margin-top: 24px;">
    <a href="{{.ActionURL}}" style="background: #1d4ed8; color: #fff; padding: 10px 18px; border-radius: 6px; text-decoration: none;">{{.ActionLabel}}</a>
  </p>
  {{end}}
  <p style="color: #999; font-size: 12px; margin-top: 32px;">
    You are receiving this because you are the billing contact for {{.OrganizationName}} on Tableline.
  </p>
</body>
</html>`))

type emailRow struct {
	Label string
	Value string
}

type emailData struct {
	Title            string
	Message          string
	OrganizationName string
	Rows             []emailRow
	ActionURL        string
	ActionLabel      string
}

// RenderEmail turns an alert message into a deliverable email. dashboardURL
// is the base URL of the customer dashboard, used for the call-to-action
// link.
func RenderEmail(msg *types.AlertMessage, dashboardURL string) (external.EmailMessage, error) {
	data := emailData{
		Title:            msg.Title,
		Message:          msg.Message,
		OrganizationName: msg.OrganizationName,
		Rows:             detailRows(msg),
	}

	if dashboardURL != "" {
		base := strings.TrimSuffix(dashboardURL, "/")
		switch msg.Type {
		case types.AlertPaymentFailed:
			data.ActionURL = base + "/billing"
			data.ActionLabel = "Update payment method"
		case types.AlertUsageWarning, types.AlertUsageOverage:
			data.ActionURL = base + "/billing/plans"
			data.ActionLabel = "Review plan options"
		default:
			data.ActionURL = base + "/usage"
			data.ActionLabel = "View usage"
		}
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return external.EmailMessage{}, err
	}

	return external.EmailMessage{
		To:          msg.BillingEmail,
		Subject:     fmt.Sprintf("[Tableline] %s", msg.Title),
		HTML:        buf.String(),
		Text:        msg.Message,
		ReferenceID: msg.AlertID,
	}, nil
}

// detailRows extracts the per-type key figures shown in the email table.
func detailRows(msg *types.AlertMessage) []emailRow {
	var rows []emailRow

	switch msg.Type {
	case types.AlertUsageWarning, types.AlertUsageOverage:
		if v, ok := metadataInt(msg.Metadata, "new_total"); ok {
			rows = append(rows, emailRow{Label: "Minutes used", Value: fmt.Sprintf("%d", v)})
		}
		if v, ok := metadataInt(msg.Metadata, "minute_limit"); ok {
			rows = append(rows, emailRow{Label: "Plan limit", Value: fmt.Sprintf("%d", v)})
		}
		if plan, ok := msg.Metadata["plan"].(string); ok && plan != "" {
			rows = append(rows, emailRow{Label: "Current plan", Value: plan})
		}
	case types.AlertPaymentFailed, types.AlertSubscriptionRenewed:
		if msg.AmountCents > 0 {
			rows = append(rows, emailRow{Label: "Amount", Value: formatAmount(msg.AmountCents, msg.Currency)})
		}
	}

	return rows
}

// metadataInt reads a numeric metadata value. JSON round-trips numbers as
// float64, so both int and float64 are accepted.
func metadataInt(m types.Metadata, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// formatAmount renders cents as a currency string, e.g. "$49.00 USD".
func formatAmount(cents int64, currency string) string {
	cur := strings.ToUpper(currency)
	if cur == "" {
		cur = "USD"
	}
	return fmt.Sprintf("$%d.%02d %s", cents/100, cents%100, cur)
}
