package errors

import (
	"errors"
)

type Code string

const (
	CodeInvalidLogin     Code = "invalid_login"
	CodeBadCredentials   Code = "bad_credentials"
	CodeTokenExpired     Code = "token_expired"
	CodeTokenSignature   Code = "token_signature"
	CodeTokenMalformed   Code = "token_malformed"
	CodeTokenUnsupported Code = "token_unsupported"
	CodeUnknownPrincipal Code = "unknown_principal"
	CodeAccessDenied     Code = "access_denied"
	CodeIllegalArgument  Code = "illegal_argument"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

var (
	ErrMissingPrincipalStore = errors.New("sessionauth: principal store is required")
	ErrMissingSecret         = errors.New("sessionauth: token secret is required")
	ErrServiceClosed         = errors.New("sessionauth: service is closed")

	// ErrUnknownLogin is reported to callers as bad credentials.
	ErrUnknownLogin      = errors.New("sessionauth: unknown login")
	ErrDigestMismatch    = errors.New("sessionauth: credential digest mismatch")
	ErrNilPrincipal      = errors.New("sessionauth: principal is nil")
	ErrNilAuthentication = errors.New("sessionauth: authentication is nil")
	ErrNoPrincipal       = errors.New("sessionauth: no principal in context")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return CodeUnknown
	}
	return typed.Code
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// IsTokenMalformed groups every token failure other than expiry.
func IsTokenMalformed(err error) bool {
	return IsCode(err, CodeTokenMalformed) || IsCode(err, CodeTokenSignature) || IsCode(err, CodeTokenUnsupported)
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}
