package listener

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-logr/logr"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
)

// Registry is a concurrency-safe listener set. Notifications iterate over a
// copy of the set taken when the notification starts.
type Registry struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    logr.Logger
}

func NewRegistry(logger logr.Logger) *Registry {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Registry{logger: logger}
}

// Add registers l. Adding a listener that is already registered is a no-op.
func (r *Registry) Add(l Listener) error {
	if l == nil {
		return saerrors.New(saerrors.CodeIllegalArgument, "listener is nil")
	}
	if !reflect.TypeOf(l).Comparable() {
		return saerrors.New(saerrors.CodeIllegalArgument, fmt.Sprintf("listener type %T is not comparable", l))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.listeners {
		if existing == l {
			return nil
		}
	}
	r.listeners = append(r.listeners, l)
	return nil
}

// Remove unregisters l. Once it returns, l is not invoked by any
// notification that starts afterwards.
func (r *Registry) Remove(l Listener) bool {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.listeners {
		if existing != l {
			continue
		}
		next := make([]Listener, 0, len(r.listeners)-1)
		next = append(next, r.listeners[:i]...)
		r.listeners = append(next, r.listeners[i+1:]...)
		return true
	}
	return false
}

func (r *Registry) All() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

func (r *Registry) NotifyLogin(ctx context.Context, principal identity.Principal, props identity.Properties) {
	r.Notify(ctx, EventLogin, principal, props)
}

func (r *Registry) NotifyLogout(ctx context.Context, principal identity.Principal, props identity.Properties) {
	r.Notify(ctx, EventLogout, principal, props)
}

// Notify invokes every registered listener. Errors and panics are logged and
// never stop the remaining listeners.
func (r *Registry) Notify(ctx context.Context, event Event, principal identity.Principal, props identity.Properties) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, l := range r.All() {
		r.invoke(ctx, l, event, principal, props)
	}
}

func (r *Registry) invoke(ctx context.Context, l Listener, event Event, principal identity.Principal, props identity.Properties) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error(fmt.Errorf("panic: %v", recovered), "listener panicked",
				"listener", fmt.Sprintf("%T", l), "event", event, "principalID", principal.ID)
		}
	}()

	if err := dispatch(ctx, l, event, principal.Clone(), props.Clone()); err != nil {
		r.logger.Error(err, "listener failed",
			"listener", fmt.Sprintf("%T", l), "event", event, "principalID", principal.ID)
	}
}
