package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tableline/internal/types"
)

// AlertRepository provides data access for the usage_alerts table. Alert rows
// are the immutable audit trail of every threshold crossing and billing
// event; the only permitted mutation is acknowledgment.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates a new AlertRepository backed by the given
// database connection (pool or transaction).
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// alertColumns defines the standard set of columns selected for alert
// queries. dedupe_key is internal and never exposed in API responses.
const alertColumns = `id, organization_id, alert_type, severity, title,
	message, provider_event_id, amount_cents, currency, metadata, dedupe_key,
	acknowledged_at, acknowledged_by, created_at`

// Create inserts an alert audit row. The dedupe_key column carries a unique
// index; a colliding insert means this crossing (or provider event) was
// already recorded, and the caller must not dispatch notifications again.
// That case is reported as ErrCodeConflictDuplicateAlert.
func (r *AlertRepository) Create(ctx context.Context, alert *types.UsageAlert) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO usage_alerts (id, organization_id, alert_type, severity,
		 title, message, provider_event_id, amount_cents, currency, metadata,
		 dedupe_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		alert.ID,
		alert.OrganizationID,
		alert.Type,
		alert.Severity,
		alert.Title,
		alert.Message,
		nilIfEmpty(alert.ProviderEventID),
		alert.AmountCents,
		nilIfEmpty(alert.Currency),
		alert.Metadata,
		alert.DedupeKey,
		nilIfZeroTime(alert.CreatedAt),
	)
	if err != nil {
		// A race on the primary key (caller-generated ID) is still a duplicate.
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateAlert, "alert already recorded", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create alert", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictDuplicateAlert, "alert already recorded", nil)
	}
	return nil
}

// ListAlertsParams defines filtering options for listing alerts.
type ListAlertsParams struct {
	Type               types.AlertType
	UnacknowledgedOnly bool
	Limit              int
	Cursor             string
}

// List retrieves alerts for an organization, newest first, with cursor-based
// pagination on created_at. Returns up to Limit+1 rows; the handler detects
// pagination by the extra row and trims it.
func (r *AlertRepository) List(ctx context.Context, orgID string, params ListAlertsParams) ([]*types.UsageAlert, error) {
	conditions := []string{"organization_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if params.Type != "" {
		conditions = append(conditions, fmt.Sprintf("alert_type = $%d", argIdx))
		args = append(args, params.Type)
		argIdx++
	}
	if params.UnacknowledgedOnly {
		conditions = append(conditions, "acknowledged_at IS NULL")
	}
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM usage_alerts WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		alertColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query alerts", err)
	}
	defer rows.Close()

	var results []*types.UsageAlert
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert row", scanErr)
		}
		results = append(results, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rows", err)
	}

	return results, nil
}

// GetByID retrieves a single alert, verifying organization ownership.
func (r *AlertRepository) GetByID(ctx context.Context, id, orgID string) (*types.UsageAlert, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM usage_alerts WHERE id = $1 AND organization_id = $2`, alertColumns),
		id,
		orgID,
	)

	alert, err := scanAlertRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve alert", err)
	}
	return alert, nil
}

// Acknowledge marks an alert as seen by an operator. Acknowledging an
// already-acknowledged alert is a no-op that still succeeds.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, orgID, actor string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE usage_alerts
		 SET acknowledged_at = COALESCE(acknowledged_at, NOW()),
		     acknowledged_by = COALESCE(acknowledged_by, $3)
		 WHERE id = $1 AND organization_id = $2`,
		id,
		orgID,
		actor,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to acknowledge alert", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}
	return nil
}

// scanAlert scans an alert from pgx.Rows. Column order must match alertColumns.
func scanAlert(rows pgx.Rows) (*types.UsageAlert, error) {
	return scanAlertFields(rows.Scan)
}

// scanAlertRow scans an alert from a single pgx.Row (for QueryRow).
func scanAlertRow(row pgx.Row) (*types.UsageAlert, error) {
	return scanAlertFields(row.Scan)
}

func scanAlertFields(scan func(dest ...any) error) (*types.UsageAlert, error) {
	var alert types.UsageAlert
	var providerEventID, currency, acknowledgedBy *string
	var amountCents *int64

	err := scan(
		&alert.ID,
		&alert.OrganizationID,
		&alert.Type,
		&alert.Severity,
		&alert.Title,
		&alert.Message,
		&providerEventID,
		&amountCents,
		&currency,
		&alert.Metadata,
		&alert.DedupeKey,
		&alert.AcknowledgedAt,
		&acknowledgedBy,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerEventID != nil {
		alert.ProviderEventID = *providerEventID
	}
	if currency != nil {
		alert.Currency = *currency
	}
	if acknowledgedBy != nil {
		alert.AcknowledgedBy = *acknowledgedBy
	}
	if amountCents != nil {
		alert.AmountCents = *amountCents
	}
	return &alert, nil
}
