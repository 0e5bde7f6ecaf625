package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ucstore/ucstore-backend/api/responses"
	pkgAuth "github.com/ucstore/ucstore-backend/pkg/auth"
	"github.com/ucstore/ucstore-backend/pkg/config"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// AdminAuth validates the operator bearer token and seeds the request context
// with the admin id.
func AdminAuth(cfg config.AdminJWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAdminToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxAdminID, claims.AdminID)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"admin_id": claims.AdminID})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
