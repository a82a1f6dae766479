// Package token issues and verifies signed, stateless bearer tokens whose
// subject is a principal id.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
)

type Config struct {
	// Secret is base64-encoded before it becomes the HMAC key, so any byte
	// content is accepted.
	Secret string
	Leeway time.Duration
	Issuer string
	Now    func() time.Time
}

type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusMalformedSignature
	StatusMalformed
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusMalformedSignature:
		return "malformed_signature"
	case StatusMalformed:
		return "malformed"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Result is the outcome of Verify. PrincipalID is set for valid tokens and
// for expired tokens whose signature checked out.
type Result struct {
	Status      Status
	PrincipalID int64
	ExpiresAt   *time.Time
	Err         error
}

func (r Result) Valid() bool {
	return r.Status == StatusValid
}

// Error maps the result onto the service error taxonomy. It is nil for valid
// tokens.
func (r Result) Error() error {
	switch r.Status {
	case StatusValid:
		return nil
	case StatusExpired:
		return saerrors.Wrap(saerrors.CodeTokenExpired, "token has expired", r.Err)
	case StatusMalformedSignature:
		return saerrors.Wrap(saerrors.CodeTokenSignature, "token signature is invalid", r.Err)
	case StatusUnsupported:
		return saerrors.Wrap(saerrors.CodeTokenUnsupported, "token format is unsupported", r.Err)
	default:
		return saerrors.Wrap(saerrors.CodeTokenMalformed, "token is malformed", r.Err)
	}
}

var method = jwt.SigningMethodHS512

var (
	ErrNegativeSubject = errors.New("token: subject must be a non-negative principal id")
	ErrMissingSubject  = errors.New("token: subject is missing")
)

// Codec signs with a key derived once at construction; it is safe for
// concurrent use.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, saerrors.Wrap(saerrors.CodeIllegalArgument, "token secret is required", saerrors.ErrMissingSecret)
	}
	if cfg.Leeway < 0 {
		return nil, saerrors.New(saerrors.CodeIllegalArgument, "token leeway must be non-negative")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Codec{
		key:    DeriveKey(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
		parser: jwt.NewParser(options...),
	}, nil
}

// DeriveKey returns the HMAC key for secret.
func DeriveKey(secret string) []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(secret)))
}

// Issue signs a token for principal. A nil expiresAt yields a token that
// never expires.
func (c *Codec) Issue(principal identity.Principal, expiresAt *time.Time) (string, error) {
	if principal.ID < 0 {
		return "", saerrors.Wrap(saerrors.CodeIllegalArgument, "principal id must be non-negative", ErrNegativeSubject)
	}

	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(principal.ID, 10),
		IssuedAt: jwt.NewNumericDate(c.now()),
		Issuer:   c.issuer,
	}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(c.key)
	if err != nil {
		return "", saerrors.Wrap(saerrors.CodeUnknown, "sign token", err)
	}
	return signed, nil
}

func (c *Codec) Verify(raw string) Result {
	claims := &jwt.RegisteredClaims{}
	_, err := c.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.key, nil
	})

	status := classify(err)
	switch status {
	case StatusValid, StatusExpired:
		// The signature has been checked in both cases, so the subject can
		// be trusted.
	default:
		return Result{Status: status, Err: err}
	}

	id, subjectErr := parseSubject(claims.Subject)
	if subjectErr != nil {
		return Result{Status: StatusMalformed, Err: subjectErr}
	}

	result := Result{Status: status, PrincipalID: id, Err: err}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time.UTC()
		result.ExpiresAt = &exp
	}
	return result
}

func classify(err error) Status {
	switch {
	case err == nil:
		return StatusValid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return StatusMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return StatusMalformedSignature
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return StatusUnsupported
	case errors.Is(err, jwt.ErrTokenExpired):
		return StatusExpired
	default:
		return StatusMalformed
	}
}

func parseSubject(subject string) (int64, error) {
	if subject == "" {
		return 0, ErrMissingSubject
	}
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token: subject %q is not a principal id: %w", subject, err)
	}
	if id < 0 {
		return 0, ErrNegativeSubject
	}
	return id, nil
}
