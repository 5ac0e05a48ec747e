package grpcserver

import (
	"context"

	"github.com/and161185/authcore/internal/model"
)

type ctxKey string

const principalKey ctxKey = "auth.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated caller from context.
func PrincipalFromCtx(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}
