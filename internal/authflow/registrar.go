package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ClientRegistration is the client identity issued by dynamic registration.
// One registration is shared read-only by every identity in the process.
type ClientRegistration struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

// registrationRequest is the RFC 7591 request body for a public PKCE client.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

const registrationTimeout = 15 * time.Second

// Registrar performs dynamic client registration at most once per process.
// Only a successful registration is cached; a failed attempt leaves the
// registrar ready to try again.
type Registrar struct {
	endpoint    string
	redirectURI string
	clientName  string
	scope       string
	httpClient  *http.Client
	logger      *Logger

	mu  sync.Mutex
	reg *ClientRegistration
}

func NewRegistrar(endpoint, redirectURI, clientName, scope string, logger *Logger) *Registrar {
	return &Registrar{
		endpoint:    endpoint,
		redirectURI: redirectURI,
		clientName:  clientName,
		scope:       scope,
		httpClient:  &http.Client{Timeout: registrationTimeout},
		logger:      logger,
	}
}

// Register returns the process-wide client registration, hitting the
// registration endpoint only on the first call.
func (r *Registrar) Register(ctx context.Context) (*ClientRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg != nil {
		return r.reg, nil
	}
	reg, err := r.register(ctx)
	if err != nil {
		return nil, err
	}
	r.reg = reg
	return reg, nil
}

// Reset discards the cached registration so the next Register call talks to
// the server again.
func (r *Registrar) Reset() {
	r.mu.Lock()
	r.reg = nil
	r.mu.Unlock()
}

func (r *Registrar) register(ctx context.Context) (*ClientRegistration, error) {
	if r.endpoint == "" {
		return nil, fmt.Errorf("authorization server does not support dynamic client registration")
	}

	payload, err := json.Marshal(registrationRequest{
		RedirectURIs:            []string{r.redirectURI},
		ClientName:              r.clientName,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{grantAuthorizationCode, grantRefreshToken},
		ResponseTypes:           []string{responseTypeCode},
		Scope:                   r.scope,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpUserAgent)

	r.logger.Request(http.MethodPost, r.endpoint)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}
	r.logger.Response(resp.Status, fmt.Sprintf("%d bytes", len(body)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RegistrationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var reg ClientRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	r.logger.InfoVerbose("Registered OAuth client %s", reg.ClientID)
	return &reg, nil
}
