// Package identity carries the verified user principal through a request's
// context. The server resolves identity once per process (stdio transport
// serves exactly one principal) and every layer below reads it from the
// context instead of trusting request arguments.
package identity

import (
	"context"

	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

type ctxKey struct{}

// WithUser returns a context carrying the verified user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext extracts the verified user id. A missing or empty principal is
// an AuthenticationRequired error, never a fallback identity.
func FromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return "", hierarchy.NewError(hierarchy.KindAuthenticationRequired, "", "", "no verified user identity in request context")
	}
	return id, nil
}
