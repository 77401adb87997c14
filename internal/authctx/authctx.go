// Package authctx carries the acting user through a context.Context.
//
// Request handlers attach the authenticated user before doing work that
// publishes events; detector-triggered flows never attach one, which is how
// the activity subscriber distinguishes user actions from scheduled jobs.
package authctx

import "context"

type userKey struct{}

// WithUser returns a child context carrying the acting user's ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the acting user's ID and whether one is present.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
