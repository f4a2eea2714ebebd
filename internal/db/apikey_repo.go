package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tableline/internal/types"
)

// APIKeyRepository provides data access for the api_keys table. API keys use
// bcrypt hashing; plaintext secrets are never stored.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository backed by the given
// database connection (pool or transaction).
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, organization_id, secret_hash, label, created_at, revoked_at`

// Create inserts a new API key record. The secret_hash MUST be the bcrypt
// hash of the plaintext secret; the plaintext MUST NOT be passed to this
// method.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, organization_id, secret_hash, label, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		key.ID,
		key.OrganizationID,
		key.SecretHash,
		key.Label,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// GetByID retrieves an API key by its public ID (the key prefix sent by the
// client). Revoked keys are returned so the caller can distinguish "revoked"
// from "never existed" in its error response.
func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*types.APIKey, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`,
		id,
	)

	var key types.APIKey
	err := row.Scan(
		&key.ID,
		&key.OrganizationID,
		&key.SecretHash,
		&key.Label,
		&key.CreatedAt,
		&key.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API key", err)
	}
	return &key, nil
}

// Revoke performs a soft revocation by setting revoked_at.
func (r *APIKeyRepository) Revoke(ctx context.Context, id, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND revoked_at IS NULL`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key not found or already revoked", nil)
	}
	return nil
}
