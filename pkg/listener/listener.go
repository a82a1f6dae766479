// Package listener holds the login/logout observer contract, the registry
// that fans events out to observers, and a few stock observers.
package listener

import (
	"context"

	"github.com/porthorian/sessionauth/pkg/identity"
)

type Event string

const (
	EventLogin  Event = "login"
	EventLogout Event = "logout"
)

// Listener observes session transitions. Implementations must be comparable
// so they can be removed again; pointer receivers satisfy this.
type Listener interface {
	OnLogin(ctx context.Context, principal identity.Principal, props identity.Properties) error
	OnLogout(ctx context.Context, principal identity.Principal, props identity.Properties) error
}

// Funcs adapts plain functions to Listener. Use a pointer (&Funcs{...}) when
// registering, since func fields make the value itself incomparable.
type Funcs struct {
	Login  func(ctx context.Context, principal identity.Principal, props identity.Properties) error
	Logout func(ctx context.Context, principal identity.Principal, props identity.Properties) error
}

func (f *Funcs) OnLogin(ctx context.Context, principal identity.Principal, props identity.Properties) error {
	if f == nil || f.Login == nil {
		return nil
	}
	return f.Login(ctx, principal, props)
}

func (f *Funcs) OnLogout(ctx context.Context, principal identity.Principal, props identity.Properties) error {
	if f == nil || f.Logout == nil {
		return nil
	}
	return f.Logout(ctx, principal, props)
}

func dispatch(ctx context.Context, l Listener, event Event, principal identity.Principal, props identity.Properties) error {
	switch event {
	case EventLogin:
		return l.OnLogin(ctx, principal, props)
	case EventLogout:
		return l.OnLogout(ctx, principal, props)
	default:
		return nil
	}
}
