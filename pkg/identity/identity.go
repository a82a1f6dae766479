package identity

import (
	"time"

	"github.com/porthorian/sessionauth/pkg/authz"
)

// Well-known property keys supplied by transports at the call site.
const (
	PropertyRemoteAddr = "remote_addr"
	PropertyUserAgent  = "user_agent"
	PropertyAuthMethod = "auth_method"
	PropertyLocale     = "locale"
	// PropertySessionID is filled in by the session cache when it notifies
	// listeners and the caller did not set it.
	PropertySessionID = "session_id"
)

type Method string

const (
	MethodPassword Method = "password"
	MethodToken    Method = "token"
)

// Properties carries call-site context through to listeners unchanged.
type Properties map[string]string

func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	cloned := make(Properties, len(p))
	for key, value := range p {
		cloned[key] = value
	}
	return cloned
}

// Principal is an immutable snapshot of an authenticated user. A new
// Principal replaces the old one on re-authentication.
type Principal struct {
	ID          int64
	Login       string
	DisplayName string
	Roles       []string
	Authorities []authz.Authority
}

func NewPrincipal(id int64, login string, displayName string, roles []string) Principal {
	normalized := authz.NormalizeRoles(roles)
	return Principal{
		ID:          id,
		Login:       login,
		DisplayName: displayName,
		Roles:       normalized,
		Authorities: authz.FromRoles(normalized),
	}
}

func (p Principal) HasRole(role string) bool {
	return authz.HasRole(p.Roles, role)
}

// Clone returns a copy that shares no slices with p.
func (p Principal) Clone() Principal {
	p.Roles = append([]string(nil), p.Roles...)
	p.Authorities = append([]authz.Authority(nil), p.Authorities...)
	return p
}

// TargetPrincipal lets a *Principal identify an invalidation target.
func (p *Principal) TargetPrincipal() *Principal {
	return p
}

// Authentication is a live session record. It owns its Principal snapshot.
type Authentication struct {
	SessionID       string
	Principal       Principal
	Credentials     string
	Authenticated   bool
	Method          Method
	AuthenticatedAt time.Time
	ExpiresAt       *time.Time
}

func (a *Authentication) TargetPrincipal() *Principal {
	if a == nil {
		return nil
	}
	return &a.Principal
}

// Expired reports whether the record carries an expiration at or before now.
func (a *Authentication) Expired(now time.Time) bool {
	if a == nil || a.ExpiresAt == nil {
		return false
	}
	return !now.Before(*a.ExpiresAt)
}

func (a *Authentication) Clone() *Authentication {
	if a == nil {
		return nil
	}
	cloned := *a
	cloned.Principal = a.Principal.Clone()
	if a.ExpiresAt != nil {
		exp := *a.ExpiresAt
		cloned.ExpiresAt = &exp
	}
	return &cloned
}

// Target is satisfied by *Principal and *Authentication.
type Target interface {
	TargetPrincipal() *Principal
}
