package ws

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const principalIDKey ctxKey = "wc.principalID"

// WithPrincipalID stores the authenticated principal ID in context.
func WithPrincipalID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, principalIDKey, id)
}

// PrincipalIDFromCtx fetches the authenticated principal ID from context.
func PrincipalIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(principalIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
