package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity means the request never passed RequireAccessToken.
var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the authenticated caller behind an API request.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
