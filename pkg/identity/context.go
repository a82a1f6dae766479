package identity

import "context"

type principalContextKey struct{}

type authenticationContextKey struct{}

// WithPrincipal stores the caller's principal on the context for downstream role checks.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal.Clone())
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// WithAuthentication stores the session record and its principal on the context.
func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	if auth == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, authenticationContextKey{}, auth.Clone())
	return WithPrincipal(ctx, auth.Principal)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	if ctx == nil {
		return nil, false
	}
	auth, ok := ctx.Value(authenticationContextKey{}).(*Authentication)
	if !ok || auth == nil {
		return nil, false
	}
	return auth.Clone(), true
}
