package security

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidKey is returned when a secret is missing or too short.
var ErrInvalidKey = errors.New("invalid key")

// Key purposes used with DeriveKey.
const (
	PurposeAccess  = "jwt-access"
	PurposeRefresh = "jwt-refresh"
	PurposeCSRF    = "csrf-hmac"
)

const derivedKeyLen = 32

// DeriveKey expands master into a 32-byte key bound to purpose (HKDF-SHA256).
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrInvalidKey
	}
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ResolveKey returns explicit when set, else a key derived from master for purpose.
func ResolveKey(explicit, master, purpose string) ([]byte, error) {
	if explicit != "" {
		return []byte(explicit), nil
	}
	return DeriveKey([]byte(master), purpose)
}
