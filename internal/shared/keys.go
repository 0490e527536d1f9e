package shared

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes for DeriveKey.
const (
	KeyPurposeSessionCookie = "odyssey-admin/session-cookie"
	KeyPurposeCSRF          = "odyssey-admin/csrf"
)

// DeriveKey expands secret into a 32 byte key bound to purpose, so one
// configured secret never signs two kinds of token.
func DeriveKey(secret, purpose string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		panic("shared: hkdf expand: " + err.Error())
	}
	return key
}
