package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
)

// TokenAuthenticator resolves a bearer token to a live session.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, raw string, props identity.Properties) (*identity.Authentication, error)
}

type MiddlewareConfig struct {
	TokenHeader string
	// CookieName is consulted when the header carries no bearer token.
	CookieName        string
	FailureStatusCode int
	Logger            logr.Logger
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		TokenHeader:       "Authorization",
		CookieName:        "",
		FailureStatusCode: http.StatusUnauthorized,
		Logger:            logr.Discard(),
	}
}

// Middleware authenticates every request by bearer token and stores the
// resulting authentication and principal in the request context.
func Middleware(authenticator TokenAuthenticator, config MiddlewareConfig) func(http.Handler) http.Handler {
	config = withDefaults(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				http.Error(w, "unauthorized", config.FailureStatusCode)
				return
			}

			raw, ok := requestToken(r, config)
			if !ok {
				http.Error(w, "unauthorized", config.FailureStatusCode)
				return
			}

			auth, err := authenticator.AuthenticateToken(r.Context(), raw, RequestProperties(r))
			if err != nil {
				config.Logger.V(1).Info("rejected bearer token", "code", saerrors.CodeOf(err), "path", r.URL.Path)
				http.Error(w, "unauthorized", config.FailureStatusCode)
				return
			}

			ctx := identity.WithAuthentication(r.Context(), auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose principal lacks role with 403. It
// expects Middleware to run first.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestProperties collects the call-site properties handed to listeners.
func RequestProperties(r *http.Request) identity.Properties {
	props := identity.Properties{}
	if r.RemoteAddr != "" {
		props[identity.PropertyRemoteAddr] = r.RemoteAddr
	}
	if ua := r.UserAgent(); ua != "" {
		props[identity.PropertyUserAgent] = ua
	}
	if locale := r.Header.Get("Accept-Language"); locale != "" {
		props[identity.PropertyLocale] = locale
	}
	return props
}

func requestToken(r *http.Request, config MiddlewareConfig) (string, bool) {
	if raw, ok := bearerToken(r.Header.Get(config.TokenHeader)); ok {
		return raw, true
	}
	if config.CookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(config.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
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

func withDefaults(config MiddlewareConfig) MiddlewareConfig {
	defaults := DefaultConfig()
	if config.TokenHeader == "" {
		config.TokenHeader = defaults.TokenHeader
	}
	if config.FailureStatusCode == 0 {
		config.FailureStatusCode = defaults.FailureStatusCode
	}
	if config.Logger.GetSink() == nil {
		config.Logger = defaults.Logger
	}
	return config
}
