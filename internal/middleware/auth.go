package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
	"github.com/stocksync/stocksync-go/internal/token"
)

type contextKey string

const tokenKey contextKey = "apiToken"

// TokenAuth returns middleware that validates a bearer API token from
// the Authorization header: the token must exist, verify against its
// stored hash, be neither revoked nor expired, and carry the required
// ability when one is given. All of this runs in front of the sync
// engine; nothing inside the engine knows about credentials.
func TokenAuth(store *repository.TokenStore, ability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			bearer, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || bearer == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			id, secret, err := token.Parse(bearer)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			t, err := store.GetByID(r.Context(), id)
			if err != nil {
				if !errors.Is(err, repository.ErrTokenNotFound) {
					slog.Error("token lookup failed", "error", err)
				}
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ok, err := token.Verify(secret, t.SecretHash)
			if err != nil || !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if t.Revoked() {
				writeJSONError(w, http.StatusUnauthorized, "token has been revoked")
				return
			}
			if t.Expired(time.Now().UTC()) {
				writeJSONError(w, http.StatusUnauthorized, "token has expired")
				return
			}
			if ability != "" && !t.Can(ability) {
				writeJSONError(w, http.StatusForbidden, "token lacks the required ability")
				return
			}

			if err := store.TouchLastUsed(r.Context(), t.ID, time.Now().UTC()); err != nil {
				slog.Warn("failed to touch token last_used_at", "token_id", t.ID, "error", err)
			}

			ctx := context.WithValue(r.Context(), tokenKey, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromContext extracts the authenticated API token from the
// request context.
func TokenFromContext(ctx context.Context) (*model.APIToken, bool) {
	t, ok := ctx.Value(tokenKey).(*model.APIToken)
	return t, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
