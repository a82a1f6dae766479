package sessionauth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/porthorian/sessionauth/pkg/credential"
	"github.com/porthorian/sessionauth/pkg/crypto"
	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/storage"
	"github.com/porthorian/sessionauth/pkg/token"
)

// Authenticate checks login and a pre-computed password digest against the
// principal store and opens a session. Unknown logins and wrong digests both
// fail with bad_credentials.
func (s *Service) Authenticate(ctx context.Context, login string, digest string, props Properties) (*Authentication, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	if err := credential.Validate(login); err != nil {
		return nil, saerrors.Wrap(saerrors.CodeInvalidLogin, "invalid login", err)
	}

	record, ok, err := s.store.FindByLogin(ctx, login)
	if err != nil {
		return nil, saerrors.Wrap(saerrors.CodeStorageUnavailable, "failed to look up login", err)
	}
	if !ok {
		s.logger.V(1).Info("authentication rejected", "reason", "unknown login")
		return nil, saerrors.Wrap(saerrors.CodeBadCredentials, "bad credentials", saerrors.ErrUnknownLogin)
	}
	if !crypto.Equal(record.PasswordDigest, digest) {
		s.logger.V(1).Info("authentication rejected", "reason", "digest mismatch", "principalID", record.ID)
		return nil, saerrors.Wrap(saerrors.CodeBadCredentials, "bad credentials", saerrors.ErrDigestMismatch)
	}

	principal, err := s.principalFrom(ctx, record)
	if err != nil {
		return nil, err
	}

	auth := &Authentication{
		SessionID:       uuid.NewString(),
		Principal:       principal,
		Credentials:     digest,
		Authenticated:   true,
		Method:          identity.MethodPassword,
		AuthenticatedAt: s.now().UTC(),
	}
	s.cache.Put(principal.ID, auth, props)

	s.logger.V(1).Info("authenticated", "principalID", principal.ID, "method", auth.Method)
	return auth.Clone(), nil
}

// AuthenticateToken verifies a bearer token and resolves its principal. The
// directory is consulted on every call. A token already backing the cached
// session reuses that session with refreshed roles and no new login
// notification. Sessions opened by a token expire at exp plus the leeway.
func (s *Service) AuthenticateToken(ctx context.Context, raw string, props Properties) (*Authentication, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	if err := s.requireCodec(); err != nil {
		return nil, err
	}

	sameToken := func(auth identity.Authentication) bool {
		return auth.Credentials == raw
	}

	result := s.codec.Verify(raw)
	if !result.Valid() {
		if result.Status == token.StatusExpired {
			s.cache.RemoveIf(result.PrincipalID, sameToken, props)
		}
		return nil, result.Error()
	}

	record, ok, err := s.store.FindByID(ctx, result.PrincipalID)
	if err != nil {
		return nil, saerrors.Wrap(saerrors.CodeStorageUnavailable, "failed to look up principal", err)
	}
	if !ok {
		s.cache.RemoveIf(result.PrincipalID, sameToken, props)
		return nil, saerrors.New(saerrors.CodeUnknownPrincipal, "token principal no longer exists")
	}

	principal, err := s.principalFrom(ctx, record)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cache.Refresh(principal.ID, sameToken, principal); ok {
		return cached, nil
	}

	var expiresAt *time.Time
	if result.ExpiresAt != nil {
		exp := result.ExpiresAt.Add(s.tokenLeeway)
		expiresAt = &exp
	}

	auth := &Authentication{
		SessionID:       uuid.NewString(),
		Principal:       principal,
		Credentials:     raw,
		Authenticated:   true,
		Method:          identity.MethodToken,
		AuthenticatedAt: s.now().UTC(),
		ExpiresAt:       expiresAt,
	}
	s.cache.Put(principal.ID, auth, props)

	s.logger.V(1).Info("authenticated", "principalID", principal.ID, "method", auth.Method)
	return auth.Clone(), nil
}

// Invalidate ends the session of target, a *Principal or *Authentication.
// It reports whether a session existed.
func (s *Service) Invalidate(target Target, props Properties) (bool, error) {
	principal, err := requireTarget(target)
	if err != nil {
		return false, err
	}
	return s.cache.Remove(principal.ID, props), nil
}

// InvalidateAll ends every session and returns how many were ended.
func (s *Service) InvalidateAll(props Properties) int {
	removed := s.cache.RemoveAll(props)
	s.logger.V(1).Info("invalidated all sessions", "count", removed)
	return removed
}

// Authenticated returns a point-in-time copy of the live sessions.
func (s *Service) Authenticated() []Authentication {
	return s.cache.Snapshot()
}

func (s *Service) IsAuthenticated(principal *Principal) (bool, error) {
	if principal == nil {
		return false, saerrors.Wrap(saerrors.CodeIllegalArgument, "principal is required", saerrors.ErrNilPrincipal)
	}
	return s.cache.Contains(principal.ID), nil
}

func (s *Service) GetPrincipal(auth *Authentication) (Principal, error) {
	if auth == nil {
		return Principal{}, saerrors.Wrap(saerrors.CodeIllegalArgument, "authentication is required", saerrors.ErrNilAuthentication)
	}
	return auth.Principal.Clone(), nil
}

// HasRole is an exact, case-sensitive membership test.
func (s *Service) HasRole(principal *Principal, role string) (bool, error) {
	if principal == nil {
		return false, saerrors.Wrap(saerrors.CodeIllegalArgument, "principal is required", saerrors.ErrNilPrincipal)
	}
	return principal.HasRole(role), nil
}

// CheckRole fails with access_denied unless the principal carried by ctx
// holds role.
func (s *Service) CheckRole(ctx context.Context, role string) error {
	principal, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		return saerrors.Wrap(saerrors.CodeAccessDenied, "access denied", saerrors.ErrNoPrincipal)
	}
	if !principal.HasRole(role) {
		return saerrors.New(saerrors.CodeAccessDenied, "access denied: missing role "+role)
	}
	return nil
}

// IssueToken signs a bearer token for the principal of auth. A nil
// expiresAt falls back to the configured lifetime.
func (s *Service) IssueToken(auth *Authentication, expiresAt *time.Time) (string, error) {
	if auth == nil {
		return "", saerrors.Wrap(saerrors.CodeIllegalArgument, "authentication is required", saerrors.ErrNilAuthentication)
	}
	if err := s.requireCodec(); err != nil {
		return "", err
	}

	if expiresAt == nil && s.tokenLifetime > 0 {
		exp := s.now().Add(s.tokenLifetime)
		expiresAt = &exp
	}
	return s.codec.Issue(auth.Principal, expiresAt)
}

func (s *Service) AddListener(l Listener) error {
	return s.registry.Add(l)
}

func (s *Service) RemoveListener(l Listener) bool {
	return s.registry.Remove(l)
}

// Pending reports notifications not yet delivered to listeners.
func (s *Service) Pending() int64 {
	return s.cache.Pending()
}

func (s *Service) principalFrom(ctx context.Context, record storage.UserRecord) (Principal, error) {
	roles, err := s.store.RolesOf(ctx, record)
	if err != nil {
		return Principal{}, saerrors.Wrap(saerrors.CodeStorageUnavailable, "failed to resolve roles", err)
	}
	return identity.NewPrincipal(record.ID, record.Login, record.DisplayName, roles), nil
}

func (s *Service) requireOpen() error {
	if s.closed.Load() {
		return saerrors.Wrap(saerrors.CodeUnknown, "service is closed", saerrors.ErrServiceClosed)
	}
	return nil
}

func (s *Service) requireCodec() error {
	if s.codec == nil {
		return saerrors.Wrap(saerrors.CodeNotImplemented, "bearer tokens are not configured", saerrors.ErrMissingSecret)
	}
	return nil
}

func requireTarget(target Target) (*Principal, error) {
	if target == nil {
		return nil, saerrors.Wrap(saerrors.CodeIllegalArgument, "invalidation target is required", saerrors.ErrNilPrincipal)
	}
	principal := target.TargetPrincipal()
	if principal == nil {
		return nil, saerrors.Wrap(saerrors.CodeIllegalArgument, "invalidation target is required", saerrors.ErrNilPrincipal)
	}
	return principal, nil
}
