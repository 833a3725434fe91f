package authflow

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ServerMetadata represents OAuth 2.0 Authorization Server Metadata as
// defined in RFC 8414 and OpenID Connect Discovery 1.0.
type ServerMetadata struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	RegistrationEndpoint   string   `json:"registration_endpoint,omitempty"`
	CodeChallengeMethods   []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
}

// DiscoverServerMetadata probes the RFC 8414 and OIDC discovery documents
// for issuerURL and falls back to conventional fixed endpoints when the
// server publishes neither.
func DiscoverServerMetadata(ctx context.Context, issuerURL string, logger *Logger) (*ServerMetadata, error) {
	endpoints, err := metadataEndpoints(issuerURL)
	if err != nil {
		return nil, err
	}

	for _, endpoint := range endpoints {
		var metadata ServerMetadata
		if err := fetchWellKnown(ctx, endpoint, &metadata); err != nil {
			logger.Debug("No metadata at %s: %v", endpoint, err)
			continue
		}
		if err := validateServerMetadata(&metadata); err != nil {
			logger.WarningVerbose("Ignoring invalid metadata document at %s: %v", endpoint, err)
			continue
		}
		logger.InfoVerbose("Using authorization server metadata from %s", endpoint)
		return &metadata, nil
	}

	logger.InfoVerbose("No metadata document found for %s, assuming default endpoints", issuerURL)
	return defaultServerMetadata(issuerURL), nil
}

// defaultServerMetadata builds the conventional endpoint set for servers
// that publish no discovery document.
func defaultServerMetadata(issuerURL string) *ServerMetadata {
	base := strings.TrimSuffix(issuerURL, "/")
	return &ServerMetadata{
		Issuer:                base,
		AuthorizationEndpoint: base + defaultAuthorizePath,
		TokenEndpoint:         base + defaultTokenPath,
		RegistrationEndpoint:  base + defaultRegisterPath,
	}
}

// metadataEndpoints returns discovery URLs in priority order. For issuers
// with a path component the well-known prefix is inserted before the path
// per RFC 8414 section 3.1, with the legacy path-suffix OIDC form last.
func metadataEndpoints(issuerURL string) ([]string, error) {
	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL %q: %w", issuerURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("issuer URL %q must be absolute", issuerURL)
	}

	origin := parsed.Scheme + "://" + parsed.Host
	path := strings.TrimSuffix(parsed.Path, "/")

	if path == "" {
		return []string{
			origin + wellKnownASMetadata,
			origin + wellKnownOIDC,
		}, nil
	}
	return []string{
		origin + wellKnownASMetadata + path,
		origin + wellKnownOIDC + path,
		origin + path + wellKnownOIDC,
	}, nil
}

// validateServerMetadata checks the fields the flow depends on.
func validateServerMetadata(metadata *ServerMetadata) error {
	if metadata.Issuer == "" {
		return fmt.Errorf("metadata missing issuer")
	}
	if metadata.AuthorizationEndpoint == "" {
		return fmt.Errorf("metadata missing authorization_endpoint")
	}
	if metadata.TokenEndpoint == "" {
		return fmt.Errorf("metadata missing token_endpoint")
	}
	for _, endpoint := range []string{metadata.AuthorizationEndpoint, metadata.TokenEndpoint, metadata.RegistrationEndpoint} {
		if endpoint == "" {
			continue
		}
		if err := validateHTTPURL(endpoint); err != nil {
			return fmt.Errorf("metadata endpoint invalid: %w", err)
		}
	}
	return nil
}

// validatePKCESupport rejects servers that advertise code challenge methods
// without S256. Servers that advertise nothing are accepted; the flow sends
// S256 regardless and lets the authorization request fail if unsupported.
func validatePKCESupport(metadata *ServerMetadata) error {
	if len(metadata.CodeChallengeMethods) == 0 {
		return nil
	}
	for _, method := range metadata.CodeChallengeMethods {
		if method == pkceMethodS256 {
			return nil
		}
	}
	return fmt.Errorf("authorization server does not support the S256 code challenge method (advertised: %v)", metadata.CodeChallengeMethods)
}

// fetchWellKnown retrieves and decodes a well-known JSON document with a
// bounded timeout and response size.
func fetchWellKnown(ctx context.Context, rawURL string, v interface{}) error {
	client := &http.Client{
		Timeout: metadataTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return fmt.Errorf("unexpected content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return fmt.Errorf("response exceeds %d bytes", maxResponseSize)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
