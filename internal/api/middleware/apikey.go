package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	apiContext "zyphon/internal/api/context"
	"zyphon/internal/engine/keys"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/platform/models"
)

type Verifier interface {
	Verify(ctx context.Context, presented string) (keys.Verification, error)
}

// APIKeyMiddleware authenticates external callers by bearer API key.
type APIKeyMiddleware struct {
	verifier Verifier
	logger   zerolog.Logger
}

func NewAPIKeyMiddleware(verifier Verifier, logger zerolog.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		verifier: verifier,
		logger:   logger.With().Str("component", "apikey-auth").Logger(),
	}
}

// Handle rejects every failure with the same 401 body so callers cannot
// tell a malformed key from a revoked one.
func (m *APIKeyMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _ := bearerToken(r)

		v, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.logger.Error().Err(err).Str("path", r.URL.Path).Msg("api key lookup failed")
			errors.Write(w, err)
			return
		}

		if !v.Valid {
			RecordRejection("auth", v.Reason)
			evt := m.logger.Warn().Str("reason", v.Reason).Str("path", r.URL.Path).Str("ip", clientIPFrom(r))
			if v.Key != nil {
				evt = evt.Str("key_prefix", v.Key.KeyPrefix)
			}
			evt.Msg("api key rejected")
			errors.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.APIKey, v.Key)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope admits keys that were granted scope.
func (m *APIKeyMiddleware) RequireScope(scope string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key, _ := r.Context().Value(apiContext.APIKey).(*models.APIKey)

			if !keys.HasScope(key, scope) {
				RecordRejection("scope", scope)
				evt := m.logger.Warn().Str("scope", scope).Str("path", r.URL.Path)
				if key != nil {
					evt = evt.Str("key_prefix", key.KeyPrefix)
				}
				evt.Msg("api key lacks scope")
				errors.WriteError(w, http.StatusForbidden, "forbidden")
				return
			}

			next(w, r)
		}
	}
}
