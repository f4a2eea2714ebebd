package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tableline/internal/types"
)

// RestaurantRepository provides data access for the restaurants table.
// The voice webhook resolves calls to a location (and from there to the
// billing organization) by the provider assistant ID or the phone number.
type RestaurantRepository struct {
	db DBTX
}

// NewRestaurantRepository creates a new RestaurantRepository backed by the
// given database connection (pool or transaction).
func NewRestaurantRepository(db DBTX) *RestaurantRepository {
	return &RestaurantRepository{db: db}
}

const restaurantColumns = `id, organization_id, name, phone_number,
	assistant_id, created_at`

func scanRestaurant(row pgx.Row) (*types.Restaurant, error) {
	var rest types.Restaurant
	var assistantID *string

	err := row.Scan(
		&rest.ID,
		&rest.OrganizationID,
		&rest.Name,
		&rest.PhoneNumber,
		&assistantID,
		&rest.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if assistantID != nil {
		rest.AssistantID = *assistantID
	}
	return &rest, nil
}

// GetByID retrieves a restaurant by its ID.
func (r *RestaurantRepository) GetByID(ctx context.Context, id string) (*types.Restaurant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+restaurantColumns+`
		 FROM restaurants
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return restaurantOrNotFound(scanRestaurant(row))
}

// GetByAssistantID resolves the restaurant a voice-provider assistant is
// attached to. This is the primary lookup for inbound call webhooks.
func (r *RestaurantRepository) GetByAssistantID(ctx context.Context, assistantID string) (*types.Restaurant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+restaurantColumns+`
		 FROM restaurants
		 WHERE assistant_id = $1 AND deleted_at IS NULL`,
		assistantID,
	)
	return restaurantOrNotFound(scanRestaurant(row))
}

// GetByPhoneNumber resolves a restaurant by its published phone number.
// Fallback lookup for webhook payloads that omit the assistant ID.
func (r *RestaurantRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*types.Restaurant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+restaurantColumns+`
		 FROM restaurants
		 WHERE phone_number = $1 AND deleted_at IS NULL`,
		phoneNumber,
	)
	return restaurantOrNotFound(scanRestaurant(row))
}

// ListByOrganization retrieves all active restaurants for an organization.
func (r *RestaurantRepository) ListByOrganization(ctx context.Context, orgID string) ([]*types.Restaurant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+restaurantColumns+`
		 FROM restaurants
		 WHERE organization_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at ASC`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query restaurants", err)
	}
	defer rows.Close()

	var results []*types.Restaurant
	for rows.Next() {
		rest, scanErr := scanRestaurant(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan restaurant row", scanErr)
		}
		results = append(results, rest)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating restaurant rows", err)
	}

	return results, nil
}

func restaurantOrNotFound(rest *types.Restaurant, err error) (*types.Restaurant, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRestaurant, "restaurant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve restaurant", err)
	}
	return rest, nil
}
