package authflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ResourceMetadata represents OAuth 2.0 Protected Resource Metadata as
// defined in RFC 9728.
type ResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
}

// DiscoverIssuer resolves the authorization server for a protected endpoint
// from its RFC 9728 well-known document. When the document lists several
// servers the preferred one is chosen if present, otherwise the first.
func DiscoverIssuer(ctx context.Context, endpoint, preferred string, logger *Logger) (string, error) {
	candidates, err := resourceMetadataURLs(endpoint)
	if err != nil {
		return "", err
	}

	for _, candidate := range candidates {
		var metadata ResourceMetadata
		if err := fetchWellKnown(ctx, candidate, &metadata); err != nil {
			logger.Debug("No resource metadata at %s: %v", candidate, err)
			continue
		}
		if len(metadata.AuthorizationServers) == 0 {
			logger.WarningVerbose("Resource metadata at %s lists no authorization servers", candidate)
			continue
		}
		return selectAuthorizationServer(&metadata, preferred), nil
	}

	return "", fmt.Errorf("no protected resource metadata found for %s", endpoint)
}

// resourceMetadataURLs returns candidate metadata URLs for endpoint: the
// path-qualified form first, then the origin root form.
func resourceMetadataURLs(endpoint string) ([]string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("endpoint URL %q must be absolute", endpoint)
	}

	origin := parsed.Scheme + "://" + parsed.Host
	path := strings.TrimSuffix(parsed.Path, "/")

	if path == "" {
		return []string{origin + wellKnownProtectedResource}, nil
	}
	return []string{
		origin + wellKnownProtectedResource + path,
		origin + wellKnownProtectedResource,
	}, nil
}

// selectAuthorizationServer picks the issuer to use from the advertised
// list.
func selectAuthorizationServer(metadata *ResourceMetadata, preferred string) string {
	if preferred != "" {
		for _, server := range metadata.AuthorizationServers {
			if server == preferred {
				return server
			}
		}
	}
	return metadata.AuthorizationServers[0]
}
