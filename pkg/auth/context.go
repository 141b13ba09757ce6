package auth

import (
	"context"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// UserContextKey is the key used to store the resolved User in the request
// context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same
// name in different packages.
type UserContextKey struct{}

// WithUser stores the authenticated user in the context.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, UserContextKey{}, user)
}

// UserFromContext retrieves the authenticated user from the context.
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(UserContextKey{}).(*storage.User)
	return user, ok
}
