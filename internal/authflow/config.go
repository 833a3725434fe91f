package authflow

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	defaultScope          = "openid profile email"
	defaultClientName     = "grantcheck"
	defaultCachePath      = ".grantcheck/tokens.json"
	defaultCaptureTimeout = 30 * time.Second
	defaultAuthAttempts   = 3
	defaultPasswordPrefix = "GRANTCHECK_PASSWORD_"
)

// Default CSS selectors for the hosted login form.
const (
	defaultIdentitySelector = `input[name="username"]`
	defaultPasswordSelector = `input[name="password"]`
	defaultSubmitSelector   = `button[type="submit"]`
)

// Credentials are the login form inputs for one test identity.
type Credentials struct {
	Identity string
	Password string
}

// LoginSelectors locate the fields of the hosted login form.
type LoginSelectors struct {
	Identity string
	Password string
	Submit   string
}

// Config carries everything the authentication flow needs. Zero values are
// filled in by WithDefaults.
type Config struct {
	// IssuerURL is the authorization server base URL. When empty the issuer
	// is discovered from ServerEndpoint's protected resource metadata.
	IssuerURL string

	// ServerEndpoint is the protected endpoint under test. Its origin also
	// forms the redirect URI base.
	ServerEndpoint string

	// PreferredIssuer narrows discovery when the resource advertises more
	// than one authorization server.
	PreferredIssuer string

	// Scope requested on the authorization request.
	Scope string

	// ClientName sent during dynamic client registration.
	ClientName string

	// CachePath is the token cache file location.
	CachePath string

	// CaptureTimeout bounds the wait for an authorization code per attempt.
	CaptureTimeout time.Duration

	// AuthAttempts bounds full authentication tries per identity.
	AuthAttempts int

	// Headless hides the login browser. Disable to watch a flow live.
	Headless bool

	// Selectors locate the login form fields.
	Selectors LoginSelectors

	// PasswordEnvPrefix names the per-identity credential variables.
	PasswordEnvPrefix string
}

// LoadEnv loads a .env file from the working directory into the process
// environment when one exists. Variables already set win over file values.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// WithDefaults returns a copy of the config with defaults applied.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.Scope == "" {
		out.Scope = defaultScope
	}
	if out.ClientName == "" {
		out.ClientName = defaultClientName
	}
	if out.CachePath == "" {
		out.CachePath = defaultCachePath
	}
	if out.CaptureTimeout <= 0 {
		out.CaptureTimeout = defaultCaptureTimeout
	}
	if out.AuthAttempts <= 0 {
		out.AuthAttempts = defaultAuthAttempts
	}
	if out.Selectors.Identity == "" {
		out.Selectors.Identity = defaultIdentitySelector
	}
	if out.Selectors.Password == "" {
		out.Selectors.Password = defaultPasswordSelector
	}
	if out.Selectors.Submit == "" {
		out.Selectors.Submit = defaultSubmitSelector
	}
	if out.PasswordEnvPrefix == "" {
		out.PasswordEnvPrefix = defaultPasswordPrefix
	}
	return &out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.IssuerURL == "" && c.ServerEndpoint == "" {
		return fmt.Errorf("either an issuer URL or a server endpoint is required")
	}
	for _, raw := range []string{c.IssuerURL, c.ServerEndpoint} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			return err
		}
	}
	return nil
}

// validateHTTPURL enforces https, with http allowed for loopback hosts only.
func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case schemeHTTPS:
	case schemeHTTP:
		if !isLocalhost(parsed.Hostname()) {
			return fmt.Errorf("http URLs are only allowed for localhost, use https: %s", raw)
		}
	default:
		return fmt.Errorf("URL scheme must be http (localhost only) or https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL missing host: %s", raw)
	}
	return nil
}

// isLocalhost reports whether hostname refers to the local machine.
func isLocalhost(hostname string) bool {
	return hostname == hostLocal || hostname == hostLoopback || hostname == hostLoop6
}

// RedirectURI returns the registered callback the browser lands on after
// login: the target origin plus a fixed path.
func (c *Config) RedirectURI() (string, error) {
	base := c.ServerEndpoint
	if base == "" {
		base = c.IssuerURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL %q has no origin", base)
	}
	return parsed.Scheme + "://" + parsed.Host + callbackPath, nil
}

// CredentialsFor resolves the password for an identity from the environment.
// The variable name is derived from the identity's local part:
// "sr@zueggcom.it" reads GRANTCHECK_PASSWORD_SR.
func (c *Config) CredentialsFor(identity string) (Credentials, error) {
	name := c.passwordVar(identity)
	password := os.Getenv(name)
	if password == "" {
		return Credentials{}, fmt.Errorf("no password configured for %s: set %s", identity, name)
	}
	return Credentials{Identity: identity, Password: password}, nil
}

func (c *Config) passwordVar(identity string) string {
	local := identity
	if at := strings.Index(identity, "@"); at >= 0 {
		local = identity[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(local) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return c.PasswordEnvPrefix + b.String()
}
