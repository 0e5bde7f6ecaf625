package middleware

import "context"

type contextKey string

const ctxAdminID contextKey = "adminID"

// AdminIDFromContext returns the authenticated operator id, if any.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxAdminID).(string)
	return id, ok && id != ""
}
