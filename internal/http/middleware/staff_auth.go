package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/patient-sheets/internal/compliance"
	"github.com/wolfman30/patient-sheets/internal/http/respond"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffJWT enforces an HMAC-signed JWT on clinic staff endpoints. The token
// subject becomes the audit actor.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Message(w, http.StatusUnauthorized, "auth_disabled", "staff auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				respond.Message(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respond.Message(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			if claims.Subject == "" {
				respond.Message(w, http.StatusUnauthorized, "unauthorized", "token has no subject")
				return
			}
			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			ctx = compliance.WithActor(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
