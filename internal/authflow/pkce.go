package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	verifierEntropyBytes = 32
	stateEntropyBytes    = 16
)

// Challenge holds a PKCE verifier and its derived S256 challenge for one
// authorization round-trip. Verifiers are never persisted or reused.
type Challenge struct {
	Verifier string
	Value    string
	Method   string
}

// GenerateChallenge returns a fresh verifier and challenge pair using the
// S256 transformation from RFC 7636.
func GenerateChallenge() (Challenge, error) {
	raw := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return Challenge{}, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return Challenge{
		Verifier: verifier,
		Value:    base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:   pkceMethodS256,
	}, nil
}

// GenerateState returns an unpredictable value binding one authorization
// request to its callback.
func GenerateState() (string, error) {
	raw := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
