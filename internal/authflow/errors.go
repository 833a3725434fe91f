package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RegistrationError reports a dynamic client registration rejection. Body
// carries the server's response verbatim because registration failures are
// usually configuration problems that need the exact server message to
// diagnose.
type RegistrationError struct {
	Status int
	Body   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("client registration failed (status %d): %s", e.Status, e.Body)
}

// AuthorizationTimeoutError reports that no authorization code was observed
// within the capture window.
type AuthorizationTimeoutError struct {
	Identity string
	Timeout  time.Duration
}

func (e *AuthorizationTimeoutError) Error() string {
	return fmt.Sprintf("no authorization code captured for %s within %s", e.Identity, e.Timeout)
}

// StateMismatchError reports a callback whose state parameter does not match
// the value sent on the authorization request.
type StateMismatchError struct {
	Expected string
	Got      string
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("state mismatch on authorization callback: expected %q, got %q", e.Expected, e.Got)
}

// CredentialError reports that the login API rejected an identity's
// credentials.
type CredentialError struct {
	Identity string
	Status   int
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("login rejected for %s (status %d)", e.Identity, e.Status)
}

// TokenExchangeError reports a token endpoint rejection of an authorization
// code grant.
type TokenExchangeError struct {
	Code        string
	Description string
	Status      int
}

func (e *TokenExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token exchange failed (status %d): %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("token exchange failed (status %d): %s", e.Status, e.Code)
}

// TokenRefreshError reports a token endpoint rejection of a refresh grant.
// Callers treat it as a signal to run the full authentication flow again.
type TokenRefreshError struct {
	Code        string
	Description string
	Status      int
}

func (e *TokenRefreshError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token refresh failed (status %d): %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("token refresh failed (status %d): %s", e.Status, e.Code)
}

// MalformedTokenError reports a token that is not a decodable JWT.
type MalformedTokenError struct {
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return "malformed token: " + e.Reason
}

// transientPatterns matches automation-layer failures worth retrying:
// browser and navigation flakes plus connection-level network errors.
var transientPatterns = []string{
	"net::",
	"target closed",
	"browser closed",
	"page load",
	"navigation",
	"websocket",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"no such host",
	"i/o timeout",
}

// shouldRetryAuth reports whether a failed authentication attempt may be
// retried. Semantic rejections (credentials, state, registration, token
// endpoint) are permanent; capture timeouts and automation-layer errors are
// not.
func shouldRetryAuth(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var regErr *RegistrationError
	var stateErr *StateMismatchError
	var credErr *CredentialError
	var exchangeErr *TokenExchangeError
	var malformedErr *MalformedTokenError
	if errors.As(err, &regErr) || errors.As(err, &stateErr) || errors.As(err, &credErr) ||
		errors.As(err, &exchangeErr) || errors.As(err, &malformedErr) {
		return false
	}

	var timeoutErr *AuthorizationTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
