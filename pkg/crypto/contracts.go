package crypto

import "errors"

var (
	ErrEmptyPassword = errors.New("digest: password is empty")
)

// Digester produces the pre-hashed form of a password as stored by the
// principal directory. The authentication core only compares digests.
type Digester interface {
	Digest(password string) (string, error)
}
