// Package credential performs syntactic checks on login names before any
// directory lookup happens.
package credential

import (
	"errors"
	"strings"
)

var (
	ErrEmptyLogin       = errors.New("credential: login is empty")
	ErrUnsafeLogin      = errors.New("credential: login contains a forbidden character")
	ErrLoginTooLong     = errors.New("credential: login is too long")
	ErrControlCharacter = errors.New("credential: login contains a control character")
)

const MaxLoginLength = 254

// forbidden lists characters that some directory backends splice into
// non-parameterized queries.
const forbidden = "'"

// Validate rejects empty logins and logins carrying unsafe characters. It
// has no side effects.
func Validate(login string) error {
	if login == "" {
		return ErrEmptyLogin
	}
	if strings.ContainsAny(login, forbidden) {
		return ErrUnsafeLogin
	}
	if len(login) > MaxLoginLength {
		return ErrLoginTooLong
	}
	for _, r := range login {
		if r < 0x20 || r == 0x7f {
			return ErrControlCharacter
		}
	}
	return nil
}
