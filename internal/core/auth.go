package core

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tableline/internal/types"
)

// APIKeyStore is the lookup surface the auth middleware needs. Implemented by
// db.APIKeyRepository.
type APIKeyStore interface {
	GetByID(ctx context.Context, id string) (*types.APIKey, error)
}

// APIKeyAuth authenticates the usage query surface with organization API
// keys. Credentials are presented as "Authorization: Bearer <keyID>.<secret>"
// where keyID is the public prefix and secret is verified against the stored
// bcrypt hash. On success an Actor carrying the organization ID is stored in
// the request context.
//
// Webhook endpoints do not use this middleware; they authenticate with
// provider signatures instead.
func APIKeyAuth(store APIKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, secret, ok := parseBearerKey(r.Header.Get("Authorization"))
			if !ok {
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyInvalid,
					"missing or malformed API key",
					nil,
				))
				return
			}

			key, err := store.GetByID(r.Context(), keyID)
			if err != nil {
				// Lookup failures and unknown keys produce the same client
				// response; the distinction lives in the logs.
				logger.WarnContext(r.Context(), "api key lookup failed",
					"key_id", keyID,
					"error", err,
				)
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyInvalid,
					"invalid API key",
					nil,
				))
				return
			}

			if key.RevokedAt != nil {
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyRevoked,
					"API key has been revoked",
					nil,
				))
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyInvalid,
					"invalid API key",
					nil,
				))
				return
			}

			ctx := types.WithActor(r.Context(), types.Actor{
				ID:             key.ID,
				Type:           types.ActorTypeAPIKey,
				OrganizationID: key.OrganizationID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseBearerKey splits "Bearer <keyID>.<secret>" into its parts.
func parseBearerKey(header string) (keyID, secret string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	token := strings.TrimPrefix(header, prefix)
	keyID, secret, found := strings.Cut(token, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}
