package testutil

import (
	"context"
	"net/http"

	"evidex/internal/platform/middleware"
	id "evidex/pkg/domain"
)

// WithActor places an authenticated actor on the request context, simulating
// what the auth middleware does for a valid token. An invalid user ID leaves
// the request untouched so handlers exercise their missing-actor path.
func WithActor(req *http.Request, userID string, role id.Role) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	ctx := middleware.WithActor(req.Context(), id.Actor{ID: parsed, Role: role})
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
