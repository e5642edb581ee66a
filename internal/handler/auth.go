package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/auth"
)

// Authenticate verifies an HS256 bearer token and stores the caller's
// identity in the request context. Tokens carry the numeric user_id and the
// username claims; issuance happens elsewhere.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := zctx.From(r.Context())

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeErrors(w, r, http.StatusUnauthorized, FieldErrors{"detail": "missing bearer token"})
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				lg.Debug("Token rejected", zap.Error(err))
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				writeErrors(w, r, http.StatusUnauthorized, FieldErrors{"detail": msg})
				return
			}

			id, err := identityFromClaims(claims)
			if err != nil {
				lg.Debug("Token claims rejected", zap.Error(err))
				writeErrors(w, r, http.StatusUnauthorized, FieldErrors{"detail": "invalid token claims"})
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = zctx.With(ctx, zap.Int64("user_id", id.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromClaims(claims jwt.MapClaims) (auth.Identity, error) {
	// JSON numbers decode as float64.
	rawID, ok := claims["user_id"].(float64)
	if !ok || rawID < 1 || rawID != float64(int64(rawID)) {
		return auth.Identity{}, errors.New("user_id must be a positive integer")
	}
	username, _ := claims["username"].(string)
	return auth.Identity{UserID: int64(rawID), Username: username}, nil
}
