package authflow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TokenClaims is the subset of JWT payload claims the harness inspects.
type TokenClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

// Expiry returns the absolute expiry time, or the zero time when the token
// carries no exp claim.
func (c *TokenClaims) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

// Expired reports whether the exp claim is in the past. Tokens without an
// exp claim never expire.
func (c *TokenClaims) Expired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return time.Now().After(c.Expiry())
}

// DecodeTokenClaims decodes the payload segment of a JWT without verifying
// its signature. The harness uses it for expiry checks and for asserting
// which identity a token was issued to, never for trust decisions.
func DecodeTokenClaims(raw string) (*TokenClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, &MalformedTokenError{Reason: fmt.Sprintf("%d segments, want 3", len(parts))}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &MalformedTokenError{Reason: "payload is not valid base64url"}
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &MalformedTokenError{Reason: "payload is not valid JSON"}
	}
	return &claims, nil
}

// TokenExpired reports whether raw is a JWT whose exp claim has passed.
// Undecodable tokens count as expired so callers re-authenticate rather
// than present garbage to the server.
func TokenExpired(raw string) bool {
	claims, err := DecodeTokenClaims(raw)
	if err != nil {
		return true
	}
	return claims.Expired()
}
