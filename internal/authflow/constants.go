package authflow

import "time"

// URL scheme constants.
const (
	schemeHTTPS = "https"
	schemeHTTP  = "http"
)

// Localhost host constants for validation.
const (
	hostLocal    = "localhost"
	hostLoopback = "127.0.0.1"
	hostLoop6    = "::1"
)

// Well-known discovery paths.
const (
	wellKnownASMetadata        = "/.well-known/oauth-authorization-server"
	wellKnownOIDC              = "/.well-known/openid-configuration"
	wellKnownProtectedResource = "/.well-known/oauth-protected-resource"
)

// Default endpoint paths assumed when the server publishes no metadata.
const (
	defaultAuthorizePath = "/authorize"
	defaultTokenPath     = "/token"
	defaultRegisterPath  = "/register"
)

// callbackPath is appended to the target base URL to form the redirect URI.
const callbackPath = "/callback"

// OAuth protocol constants.
const (
	pkceMethodS256         = "S256"
	responseTypeCode       = "code"
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// httpUserAgent identifies this client on metadata, registration, and token
// requests.
const httpUserAgent = "grantcheck/1.0"

// Network limits shared by the wire-facing components.
const (
	metadataTimeout = 10 * time.Second
	maxResponseSize = 1024 * 1024
)
