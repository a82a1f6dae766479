package connecttransport

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
	"github.com/go-logr/logr"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrMissingRole  = errors.New("missing role")
)

// TokenAuthenticator resolves a bearer token to a live session.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, raw string, props identity.Properties) (*identity.Authentication, error)
}

// UnaryInterceptor authenticates unary calls by the Authorization bearer
// token. Procedures listed in public pass through untouched.
func UnaryInterceptor(authenticator TokenAuthenticator, logger logr.Logger, public ...string) connect.UnaryInterceptorFunc {
	skip := make(map[string]struct{}, len(public))
	for _, procedure := range public {
		skip[procedure] = struct{}{}
	}

	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if _, ok := skip[req.Spec().Procedure]; ok {
				return next(ctx, req)
			}
			if authenticator == nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken)
			}

			raw, ok := bearerToken(req.Header().Get("Authorization"))
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken)
			}

			auth, err := authenticator.AuthenticateToken(ctx, raw, requestProperties(req))
			if err != nil {
				logger.V(1).Info("rejected bearer token", "procedure", req.Spec().Procedure, "code", saerrors.CodeOf(err))
				return nil, ToConnectError(err)
			}

			return next(identity.WithAuthentication(ctx, auth), req)
		})
	})
}

// RequireRole rejects calls whose principal lacks role. It expects
// UnaryInterceptor to run first.
func RequireRole(role string) connect.UnaryInterceptorFunc {
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			principal, ok := identity.PrincipalFromContext(ctx)
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken)
			}
			if !principal.HasRole(role) {
				return nil, connect.NewError(connect.CodePermissionDenied, ErrMissingRole)
			}
			return next(ctx, req)
		})
	})
}

// ToConnectError maps an authentication failure to a connect error code.
// Credential and token failures share one message.
func ToConnectError(err error) *connect.Error {
	switch saerrors.CodeOf(err) {
	case saerrors.CodeAccessDenied:
		return connect.NewError(connect.CodePermissionDenied, errors.New("access denied"))
	case saerrors.CodeIllegalArgument, saerrors.CodeInvalidLogin:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case saerrors.CodeStorageUnavailable:
		return connect.NewError(connect.CodeUnavailable, errors.New("authentication backend unavailable"))
	case saerrors.CodeNotImplemented:
		return connect.NewError(connect.CodeUnimplemented, err)
	case saerrors.CodeUnknown:
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	default:
		return connect.NewError(connect.CodeUnauthenticated, errors.New("unauthenticated"))
	}
}

func requestProperties(req connect.AnyRequest) identity.Properties {
	props := identity.Properties{}
	if addr := req.Peer().Addr; addr != "" {
		props[identity.PropertyRemoteAddr] = addr
	}
	if ua := req.Header().Get("User-Agent"); ua != "" {
		props[identity.PropertyUserAgent] = ua
	}
	return props
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	raw := strings.TrimSpace(value[len(bearer):])
	if raw == "" {
		return "", false
	}
	return raw, true
}
