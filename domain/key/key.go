// Package key provides API key generation and verification.
// Keys are handed out raw once; only bcrypt hashes are kept in configuration.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPrefix is prepended to generated keys.
const DefaultPrefix = "ds_"

// Generate creates a new API key with the given prefix.
// Returns the raw key (to give to the client) and its bcrypt hash (to store).
// The raw key is: prefix + 64 hex chars.
func Generate(prefix string) (rawKey string, hash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}

	rawKey = prefix + hex.EncodeToString(randomBytes)

	hash, err = Hash(rawKey)
	if err != nil {
		return "", "", err
	}
	return rawKey, hash, nil
}

// Hash returns the bcrypt hash of a raw key.
func Hash(rawKey string) (string, error) {
	if strings.TrimSpace(rawKey) == "" {
		return "", fmt.Errorf("hash key: empty key")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}

// Verify reports whether rawKey matches any of the stored hashes.
func Verify(hashes []string, rawKey string) bool {
	if rawKey == "" {
		return false
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(rawKey)) == nil {
			return true
		}
	}
	return false
}
