// Package auth checks bearer API keys against a configured set.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// KeySet holds the hashes of accepted API keys. Plain keys are not retained.
type KeySet struct {
	hashes []string
}

// NewKeySet hashes the given keys. Blank entries are ignored.
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		ks.hashes = append(ks.hashes, HashKey(k))
	}
	return ks
}

// Enabled reports whether any key is configured.
func (ks *KeySet) Enabled() bool {
	return ks != nil && len(ks.hashes) > 0
}

// Valid reports whether key matches one of the configured keys.
func (ks *KeySet) Valid(key string) bool {
	if ks == nil || strings.TrimSpace(key) == "" {
		return false
	}
	h := []byte(HashKey(key))
	ok := 0
	for _, want := range ks.hashes {
		ok |= subtle.ConstantTimeCompare(h, []byte(want))
	}
	return ok == 1
}
