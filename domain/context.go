package domain

import "context"

type contextKey string

const userIDContextKey contextKey = "devicelink.user_id"

// ContextWithUserID returns a context carrying the authenticated caller's
// user id. Set by the authn middleware.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the authenticated user id, if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok && id != ""
}
