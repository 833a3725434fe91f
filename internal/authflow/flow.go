package authflow

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Flow wires discovery, registration, the browser capturer, the token
// exchanger, and the cache into one operation: a valid access token for a
// named identity.
type Flow struct {
	cfg         *Config
	logger      *Logger
	metadata    *ServerMetadata
	registrar   *Registrar
	capturer    *Capturer
	exchanger   *Exchanger
	cache       *TokenCache
	redirectURI string
}

// NewFlow resolves the authorization server (directly or through the
// protected resource's metadata) and prepares every component. It performs
// discovery requests but no authentication.
func NewFlow(ctx context.Context, cfg *Config, logger *Logger) (*Flow, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	issuer := cfg.IssuerURL
	if issuer == "" {
		discovered, err := DiscoverIssuer(ctx, cfg.ServerEndpoint, cfg.PreferredIssuer, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to discover authorization server: %w", err)
		}
		issuer = discovered
		logger.Info("Discovered authorization server: %s", issuer)
	}

	metadata, err := DiscoverServerMetadata(ctx, issuer, logger)
	if err != nil {
		return nil, err
	}
	if err := validatePKCESupport(metadata); err != nil {
		return nil, err
	}

	redirectURI, err := cfg.RedirectURI()
	if err != nil {
		return nil, err
	}

	driver := newChromeDriver(cfg.Headless, cfg.Selectors, logger)

	return &Flow{
		cfg:         cfg,
		logger:      logger,
		metadata:    metadata,
		registrar:   NewRegistrar(metadata.RegistrationEndpoint, redirectURI, cfg.ClientName, cfg.Scope, logger),
		capturer:    NewCapturer(driver, redirectURI, cfg.CaptureTimeout, logger),
		exchanger:   NewExchanger(metadata.TokenEndpoint, logger),
		cache:       NewTokenCache(cfg.CachePath, logger),
		redirectURI: redirectURI,
	}, nil
}

// GetToken returns a valid access token for identity, serving from the
// cache whenever possible.
func (f *Flow) GetToken(ctx context.Context, identity string) (string, error) {
	return f.cache.GetToken(ctx, identity, f)
}

// Refresh implements TokenSource.
func (f *Flow) Refresh(ctx context.Context, refreshToken, clientID string) (*TokenResponse, error) {
	return f.exchanger.Refresh(ctx, refreshToken, clientID)
}

// Authenticate implements TokenSource: registration, browser login, and
// code exchange, with bounded retries around transient automation failures.
func (f *Flow) Authenticate(ctx context.Context, identity string) (*TokenResponse, string, error) {
	creds, err := f.cfg.CredentialsFor(identity)
	if err != nil {
		return nil, "", err
	}

	reg, err := f.registrar.Register(ctx)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for attempt := 1; attempt <= f.cfg.AuthAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			f.logger.InfoVerbose("Retrying authentication for %s in %s", identity, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}

		resp, err := f.authenticateOnce(ctx, reg, creds)
		if err == nil {
			f.logger.Success("Authenticated %s", identity)
			return resp, reg.ClientID, nil
		}
		if !shouldRetryAuth(err) {
			return nil, "", err
		}
		lastErr = err
		f.logger.Warning("Authentication attempt %d/%d for %s failed: %v", attempt, f.cfg.AuthAttempts, identity, err)
	}
	return nil, "", fmt.Errorf("authentication for %s failed after %d attempts: %w", identity, f.cfg.AuthAttempts, lastErr)
}

// authenticateOnce runs a single authorization round-trip with fresh PKCE
// material and state.
func (f *Flow) authenticateOnce(ctx context.Context, reg *ClientRegistration, creds Credentials) (*TokenResponse, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	authorizeURL := f.authorizeURL(reg.ClientID, state, challenge)
	code, err := f.capturer.Capture(ctx, authorizeURL, state, creds)
	if err != nil {
		return nil, err
	}

	return f.exchanger.ExchangeCode(ctx, code, challenge.Verifier, reg.ClientID, f.redirectURI)
}

// authorizeURL builds the authorization request URL.
func (f *Flow) authorizeURL(clientID, state string, challenge Challenge) string {
	params := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {f.redirectURI},
		"response_type":         {responseTypeCode},
		"scope":                 {f.cfg.Scope},
		"state":                 {state},
		"code_challenge":        {challenge.Value},
		"code_challenge_method": {challenge.Method},
	}
	return fmt.Sprintf("%s?%s", f.metadata.AuthorizationEndpoint, params.Encode())
}

// backoffDelay grows exponentially: 1s, 2s, 4s, ...
func backoffDelay(retries int) time.Duration {
	return time.Duration(1<<uint(retries-1)) * time.Second
}

// TokenSource returns an oauth2 token source for identity, for use with
// oauth2.Transport and oauth2.NewClient.
func (f *Flow) TokenSource(ctx context.Context, identity string) oauth2.TokenSource {
	return &identitySource{flow: f, ctx: ctx, identity: identity}
}

// identitySource adapts the flow to the oauth2.TokenSource interface. The
// context is captured at construction because Token takes none.
type identitySource struct {
	flow     *Flow
	ctx      context.Context
	identity string
}

func (s *identitySource) Token() (*oauth2.Token, error) {
	access, err := s.flow.GetToken(s.ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if rec, ok := s.flow.cache.Record(s.identity); ok {
		return rec.ToOAuth2Token(), nil
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

// Record exposes the cached record for an identity.
func (f *Flow) Record(identity string) (*TokenRecord, bool) {
	return f.cache.Record(identity)
}

// CachedIdentities lists identities present in the token cache.
func (f *Flow) CachedIdentities() []string {
	return f.cache.Identities()
}

// ClearIdentity drops one identity's cached token.
func (f *Flow) ClearIdentity(identity string) error {
	return f.cache.Delete(identity)
}

// ClearCache drops every cached token and deletes the cache file.
func (f *Flow) ClearCache() error {
	return f.cache.Clear()
}

// ServerEndpoint returns the configured protected endpoint.
func (f *Flow) ServerEndpoint() string {
	return f.cfg.ServerEndpoint
}
