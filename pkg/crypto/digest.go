package crypto

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

type MD5HexDigester struct{}

var _ Digester = MD5HexDigester{}

func (MD5HexDigester) Digest(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return MD5Hex(password), nil
}

// MD5Hex returns the lowercase hex MD5 of password, the legacy storage form.
func MD5Hex(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Equal compares two digests without leaking the position of the first
// differing byte.
func Equal(stored string, provided string) bool {
	if stored == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
}
