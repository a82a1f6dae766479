package sessionauth

import (
	"context"
	"time"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/listener"
)

type (
	Principal      = identity.Principal
	Authentication = identity.Authentication
	Properties     = identity.Properties
	Target         = identity.Target
	Listener       = listener.Listener
)

// Authenticator is the surface transports depend on.
type Authenticator interface {
	Authenticate(ctx context.Context, login string, digest string, props Properties) (*Authentication, error)
	AuthenticateToken(ctx context.Context, raw string, props Properties) (*Authentication, error)
	Invalidate(target Target, props Properties) (bool, error)
	InvalidateAll(props Properties) int
	Authenticated() []Authentication
	IsAuthenticated(principal *Principal) (bool, error)
	GetPrincipal(auth *Authentication) (Principal, error)
	HasRole(principal *Principal, role string) (bool, error)
	CheckRole(ctx context.Context, role string) error
	IssueToken(auth *Authentication, expiresAt *time.Time) (string, error)
}
