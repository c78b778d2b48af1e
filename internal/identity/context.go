package identity

import "context"

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, principalContextKey{}, ident)
}

// PrincipalFromContext extracts the resolved principal, nil when anonymous.
func PrincipalFromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(principalContextKey{}).(*Identity)
	return ident
}
