// Package authflow authenticates named test identities against an OAuth 2.1
// authorization server and caches the resulting tokens on disk.
//
// The package drives the real hosted login page in a scripted browser, so a
// test run exercises the same code path a human user does: dynamic client
// registration, the PKCE authorization request, credential submission, the
// redirect back with an authorization code, and the code exchange. Tokens are
// cached per identity and reused across runs until they near expiry; a stored
// refresh token is tried before falling back to a full browser login.
//
// Implemented standards:
//   - OAuth 2.0 Authorization Server Metadata (RFC 8414)
//   - OAuth 2.0 Protected Resource Metadata (RFC 9728)
//   - OAuth 2.0 Dynamic Client Registration (RFC 7591)
//   - Proof Key for Code Exchange (RFC 7636), S256 only
//   - OAuth 2.0 token endpoint grants (RFC 6749)
//
// # Key Components
//
//   - Flow: the public entry point. GetToken(ctx, identity) returns a valid
//     access token, running as much or as little of the pipeline as needed.
//   - TokenCache: the persistent multi-identity store backing Flow.
//   - Capturer: obtains an authorization code by racing two observation
//     channels, the login API response body and the browser navigation to
//     the redirect URI. Whichever reports first wins.
//   - Registrar: registers the OAuth client once per process.
//   - Exchanger: redeems codes and refresh tokens at the token endpoint.
//
// Access tokens never appear in log output. Decoded claims (subject, expiry)
// may be logged in verbose mode.
package authflow
