package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// oauthError is the RFC 6749 error payload returned on rejection.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

const (
	exchangeRetryMax     = 3
	exchangeRetryWaitMin = 500 * time.Millisecond
	exchangeRetryWaitMax = 4 * time.Second
	exchangeTimeout      = 15 * time.Second
)

// Exchanger redeems authorization codes and refresh tokens at the token
// endpoint. Connection failures, 429s, and 5xx responses are retried with
// backoff; protocol rejections come back as typed errors immediately.
type Exchanger struct {
	endpoint string
	client   *retryablehttp.Client
	logger   *Logger
}

func NewExchanger(endpoint string, logger *Logger) *Exchanger {
	client := retryablehttp.NewClient()
	client.RetryMax = exchangeRetryMax
	client.RetryWaitMin = exchangeRetryWaitMin
	client.RetryWaitMax = exchangeRetryWaitMax
	client.HTTPClient.Timeout = exchangeTimeout
	client.Logger = nil
	return &Exchanger{endpoint: endpoint, client: client, logger: logger}
}

// ExchangeCode redeems an authorization code using the PKCE verifier that
// produced its challenge.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, verifier, clientID, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantAuthorizationCode},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
	}
	token, oerr, status, err := e.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	if oerr != nil {
		return nil, &TokenExchangeError{Code: oerr.Code, Description: oerr.Description, Status: status}
	}
	return token, nil
}

// Refresh trades a refresh token for a new access token. Callers fall back
// to the full authentication flow when it fails.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken, clientID string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}
	token, oerr, status, err := e.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	if oerr != nil {
		return nil, &TokenRefreshError{Code: oerr.Code, Description: oerr.Description, Status: status}
	}
	return token, nil
}

// post submits a form-encoded grant and decodes the response. A non-2xx
// status or a 2xx body without an access token comes back as an oauthError.
func (e *Exchanger) post(ctx context.Context, form url.Values) (*TokenResponse, *oauthError, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpUserAgent)

	e.logger.Request(http.MethodPost, e.endpoint+" grant_type="+form.Get("grant_type"))
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, resp.StatusCode, fmt.Errorf("failed to read token response: %w", err)
	}
	e.logger.Response(resp.Status, fmt.Sprintf("%d bytes", len(body)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oerr oauthError
		if err := json.Unmarshal(body, &oerr); err != nil || oerr.Code == "" {
			oerr = oauthError{Code: "invalid_response", Description: strings.TrimSpace(string(body))}
		}
		return nil, &oerr, resp.StatusCode, nil
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, nil, resp.StatusCode, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, &oauthError{Code: "missing_access_token", Description: "success response without access_token"}, resp.StatusCode, nil
	}
	return &token, nil, resp.StatusCode, nil
}
