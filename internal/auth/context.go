package auth

import "context"

type ctxKey int

const (
	principalKey ctxKey = iota
	tokenKey
)

// ContextWithPrincipal returns a context carrying the validated principal.
// Service.ValidateContext attaches it after a successful token check.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the validated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// ContextWithToken returns a context carrying the raw bearer token as
// presented by the caller, before validation.
func ContextWithToken(ctx context.Context, raw string) context.Context {
	if raw == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, raw)
}

// TokenFromContext extracts the raw bearer token, if one was attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(tokenKey).(string)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
