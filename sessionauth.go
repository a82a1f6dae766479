// Package sessionauth authenticates users against a principal directory,
// keeps the set of live sessions, and notifies listeners of logins and
// logouts.
package sessionauth

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/listener"
	"github.com/porthorian/sessionauth/pkg/session"
	"github.com/porthorian/sessionauth/pkg/storage"
	"github.com/porthorian/sessionauth/pkg/token"
)

type Config struct {
	PrincipalStore storage.PrincipalStore
	// AuditLog, when set, receives one record per login and logout.
	AuditLog  storage.AuthLogStore
	Listeners []Listener
	Logger    logr.Logger
	Token     TokenConfig
	Session   SessionConfig
	Runtime   RuntimeConfig
	Now       func() time.Time
}

type TokenConfig struct {
	// Secret enables bearer tokens. Without it the token operations report
	// not_implemented.
	Secret string
	// Lifetime is applied by IssueToken when no explicit expiry is given.
	// Zero issues tokens that never expire.
	Lifetime time.Duration
	Leeway   time.Duration
	Issuer   string
}

type SessionConfig struct {
	Shards  int
	Workers int
}

// Service is the authentication façade. It owns the session cache and the
// listener registry; construct one per process.
type Service struct {
	store         storage.PrincipalStore
	codec         *token.Codec
	cache         *session.Cache
	registry      *listener.Registry
	logger        logr.Logger
	tokenLifetime time.Duration
	tokenLeeway   time.Duration
	now           func() time.Time
	closed        atomic.Bool
	closeResource func() error
}

var _ Authenticator = (*Service)(nil)

func New(config Config) (*Service, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	if resolvedConfig.PrincipalStore == nil {
		_ = closeResource()
		return nil, saerrors.ErrMissingPrincipalStore
	}

	var codec *token.Codec
	if resolvedConfig.Token.Secret != "" {
		codec, err = token.NewCodec(token.Config{
			Secret: resolvedConfig.Token.Secret,
			Leeway: resolvedConfig.Token.Leeway,
			Issuer: resolvedConfig.Token.Issuer,
			Now:    resolvedConfig.Now,
		})
		if err != nil {
			_ = closeResource()
			return nil, err
		}
	}

	logger := resolvedConfig.Logger
	registry := listener.NewRegistry(logger.WithName("listener"))
	for _, l := range resolvedConfig.Listeners {
		if err := registry.Add(l); err != nil {
			_ = closeResource()
			return nil, err
		}
	}

	cache := session.New(session.Config{
		Shards:   resolvedConfig.Session.Shards,
		Workers:  resolvedConfig.Session.Workers,
		Logger:   logger,
		Registry: registry,
		Now:      resolvedConfig.Now,
	})

	return &Service{
		store:         resolvedConfig.PrincipalStore,
		codec:         codec,
		cache:         cache,
		registry:      registry,
		logger:        logger.WithName("service"),
		tokenLifetime: resolvedConfig.Token.Lifetime,
		tokenLeeway:   resolvedConfig.Token.Leeway,
		now:           resolvedConfig.Now,
		closeResource: closeResource,
	}, nil
}

// Close delivers pending notifications and releases runtime resources.
// Calling Close more than once is a no-op.
func (s *Service) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cache.Close()

	if s.closeResource == nil {
		return nil
	}
	if err := s.closeResource(); err != nil {
		return saerrors.Wrap(saerrors.CodeUnknown, "failed to close service resources", err)
	}
	return nil
}
