package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// JWTValidator defines the interface for validating pharmacy-partner tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator.
type JWTClaims struct {
	PartnerID string
	Scope     string
}

type contextKeyPartnerID struct{}

// ContextKeyPartnerID is exported for use in handlers.
var ContextKeyPartnerID = contextKeyPartnerID{}

// GetPartnerID retrieves the authenticated pharmacy partner ID from the context.
func GetPartnerID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyPartnerID).(string)
	if !ok {
		return ""
	}
	return id
}

// RequireAuth gates pharmacy-integration routes behind a bearer token. Wallet
// proofs authenticate doctors and patients per request; pharmacies hold no
// wallet, so they authenticate with a partner JWT instead.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				unauthorized(w, r, logger, "missing bearer token")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w, r, logger, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPartnerID, claims.PartnerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, detail string) {
	logger.WarnContext(r.Context(), "unauthorized pharmacy access",
		"request_id", GetRequestID(r.Context()),
		"detail", detail,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
