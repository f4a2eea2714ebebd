package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tableline/internal/types"
)

// Note: mockDBTX and mockRow are defined in org_repo_test.go and reused here.

func warningAlert() *types.UsageAlert {
	return &types.UsageAlert{
		ID:             "alert_1",
		OrganizationID: "org_123",
		Type:           types.AlertUsageWarning,
		Severity:       types.SeverityWarning,
		Title:          "Voice minutes at 81% of plan limit",
		Message:        "Testaurant Group has used 405 of 500 included voice minutes this cycle.",
		DedupeKey:      "org_123|usage_warning|2026-08-01",
		Metadata:       types.Metadata{"new_total": 405},
	}
}

func TestAlertRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(ctx, warningAlert())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAlertRepository_Create_DuplicateDedupeKey(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	// ON CONFLICT DO NOTHING swallows the collision; zero rows inserted
	// signals the crossing was already recorded.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	err := repo.Create(ctx, warningAlert())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicateAlert, appErr.Code)

	db.AssertExpectations(t)
}

func TestAlertRepository_Create_UniqueViolationOnID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	pgErr := &pgconn.PgError{Code: "23505"}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, pgErr)

	err := repo.Create(ctx, warningAlert())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicateAlert, appErr.Code)

	db.AssertExpectations(t)
}

func TestAlertRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("db error"))

	err := repo.Create(ctx, warningAlert())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)

	db.AssertExpectations(t)
}

func TestAlertRepository_List_InvalidCursor(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	_, err := repo.List(ctx, "org_123", ListAlertsParams{Cursor: "not-a-timestamp"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestAlertRepository_Acknowledge_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"alert_1", "org_123", "ops@tableline.io"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Acknowledge(ctx, "alert_1", "org_123", "ops@tableline.io")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAlertRepository_Acknowledge_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Acknowledge(ctx, "alert_missing", "org_123", "ops@tableline.io")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAlert, appErr.Code)

	db.AssertExpectations(t)
}

func TestAlertRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "alert_1"
			*dest[1].(*string) = "org_123"
			*dest[2].(*types.AlertType) = types.AlertUsageOverage
			*dest[3].(*types.AlertSeverity) = types.SeverityError
			*dest[4].(*string) = "Voice minute limit exceeded"
			*dest[5].(*string) = "over budget"
			*dest[6].(**string) = nil // provider_event_id
			*dest[7].(**int64) = nil  // amount_cents
			*dest[8].(**string) = nil // currency
			dest[9].(*types.Metadata).Scan([]byte(`{"new_total":506}`))
			*dest[10].(*string) = "org_123|usage_overage|2026-08-01"
			*dest[11].(**time.Time) = nil
			*dest[12].(**string) = nil
			*dest[13].(*time.Time) = now
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"alert_1", "org_123"}).Return(row)

	alert, err := repo.GetByID(ctx, "alert_1", "org_123")
	require.NoError(t, err)
	assert.Equal(t, types.AlertUsageOverage, alert.Type)
	assert.Equal(t, "org_123|usage_overage|2026-08-01", alert.DedupeKey)
	assert.EqualValues(t, 506, alert.Metadata["new_total"])

	db.AssertExpectations(t)
}

func TestAlertRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"alert_missing", "org_123"}).Return(row)

	_, err := repo.GetByID(ctx, "alert_missing", "org_123")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAlert, appErr.Code)

	db.AssertExpectations(t)
}
