package auth

import (
	"context"

	"github.com/haasonsaas/quill/pkg/models"
)

type userContextKey struct{}

// WithUser attaches the principal to the context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the principal from the context. A user with an
// empty ID counts as absent.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	if !ok || user == nil || user.ID == "" {
		return nil, false
	}
	return user, true
}
