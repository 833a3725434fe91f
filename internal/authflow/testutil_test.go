package authflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockAuthServer is a scripted OAuth 2.1 authorization server with a JSON
// login API, mirroring the hosted-login servers the harness targets. Token
// responses carry JWT-shaped access tokens whose claims name the identity
// that logged in, and the token endpoint validates PKCE for real.
type MockAuthServer struct {
	*httptest.Server
	t *testing.T

	// Configuration
	passwords        map[string]string
	tokenTTL         time.Duration
	failRefresh      bool
	omitRefreshToken bool
	tamperState      bool

	// State tracking
	mu            sync.Mutex
	pending       *pendingAuth
	codes         map[string]issuedCode
	refreshTokens map[string]string
	registrations []registrationRequest
	authRequests  int
	loginRequests int
	tokenRequests int
}

// pendingAuth is the authorization request awaiting a login.
type pendingAuth struct {
	clientID    string
	redirectURI string
	state       string
	challenge   string
	scope       string
}

// issuedCode tracks an authorization code until it is redeemed.
type issuedCode struct {
	clientID  string
	challenge string
	identity  string
	scope     string
}

func NewMockAuthServer(t *testing.T) *MockAuthServer {
	t.Helper()

	mas := &MockAuthServer{
		t:             t,
		passwords:     map[string]string{"sr@zueggcom.it": "hunter2", "mm@zueggcom.it": "hunter3"},
		tokenTTL:      time.Hour,
		codes:         make(map[string]issuedCode),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", mas.handleMetadata)
	mux.HandleFunc("/.well-known/openid-configuration", mas.handleMetadata)
	mux.HandleFunc("/authorize", mas.handleAuthorize)
	mux.HandleFunc("/login", mas.handleLogin)
	mux.HandleFunc("/token", mas.handleToken)
	mux.HandleFunc("/register", mas.handleRegister)

	mas.Server = httptest.NewServer(mux)
	return mas
}

func (mas *MockAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := &ServerMetadata{
		Issuer:                 mas.URL,
		AuthorizationEndpoint:  mas.URL + "/authorize",
		TokenEndpoint:          mas.URL + "/token",
		RegistrationEndpoint:   mas.URL + "/register",
		CodeChallengeMethods:   []string{"S256"},
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (mas *MockAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("response_type") != "code" || query.Get("client_id") == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	if query.Get("code_challenge") == "" || query.Get("code_challenge_method") != "S256" {
		http.Error(w, "code_challenge_required", http.StatusBadRequest)
		return
	}

	mas.mu.Lock()
	mas.authRequests++
	mas.pending = &pendingAuth{
		clientID:    query.Get("client_id"),
		redirectURI: query.Get("redirect_uri"),
		state:       query.Get("state"),
		challenge:   query.Get("code_challenge"),
		scope:       query.Get("scope"),
	}
	mas.mu.Unlock()

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, `<html><body><form method="post" action="/login">`+
		`<input name="username"><input name="password" type="password">`+
		`<button type="submit">Sign in</button></form></body></html>`)
}

func (mas *MockAuthServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	mas.mu.Lock()
	mas.loginRequests++
	pending := mas.pending
	mas.mu.Unlock()

	if pending == nil {
		http.Error(w, "no pending authorization", http.StatusBadRequest)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	if expected, ok := mas.passwords[creds.Username]; !ok || expected != creds.Password {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_credentials"})
		return
	}

	mas.mu.Lock()
	code := fmt.Sprintf("AUTH_CODE_%d", mas.loginRequests)
	mas.codes[code] = issuedCode{
		clientID:  pending.clientID,
		challenge: pending.challenge,
		identity:  creds.Username,
		scope:     pending.scope,
	}
	mas.mu.Unlock()

	state := pending.state
	if mas.tamperState {
		state = "tampered-" + state
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"redirectUrl": fmt.Sprintf("%s?code=%s&state=%s", pending.redirectURI, code, state),
	})
}

func (mas *MockAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	mas.mu.Lock()
	mas.tokenRequests++
	mas.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		mas.handleCodeGrant(w, r)
	case "refresh_token":
		mas.handleRefreshGrant(w, r)
	default:
		mas.tokenError(w, "unsupported_grant_type", "")
	}
}

func (mas *MockAuthServer) handleCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.Form.Get("code")
	verifier := r.Form.Get("code_verifier")

	mas.mu.Lock()
	issued, ok := mas.codes[code]
	delete(mas.codes, code)
	mas.mu.Unlock()

	if !ok || issued.clientID != r.Form.Get("client_id") {
		mas.tokenError(w, "invalid_grant", "unknown or replayed code")
		return
	}

	sum := sha256.Sum256([]byte(verifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != issued.challenge {
		mas.tokenError(w, "invalid_grant", "code verifier does not match challenge")
		return
	}

	mas.issueTokens(w, issued.identity)
}

func (mas *MockAuthServer) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	if mas.failRefresh {
		mas.tokenError(w, "invalid_grant", "refresh token revoked")
		return
	}

	mas.mu.Lock()
	identity, ok := mas.refreshTokens[r.Form.Get("refresh_token")]
	mas.mu.Unlock()

	if !ok {
		mas.tokenError(w, "invalid_grant", "unknown refresh token")
		return
	}
	mas.issueTokens(w, identity)
}

func (mas *MockAuthServer) issueTokens(w http.ResponseWriter, identity string) {
	now := time.Now().Unix()
	access := makeTestJWT(mas.t, map[string]interface{}{
		"sub":   localPart(identity),
		"email": identity,
		"exp":   now + int64(mas.tokenTTL.Seconds()),
		"iat":   now,
	})

	response := map[string]interface{}{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int64(mas.tokenTTL.Seconds()),
	}
	if !mas.omitRefreshToken {
		mas.mu.Lock()
		refresh := fmt.Sprintf("REFRESH_%d", mas.tokenRequests)
		mas.refreshTokens[refresh] = identity
		mas.mu.Unlock()
		response["refresh_token"] = refresh
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (mas *MockAuthServer) tokenError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}

func (mas *MockAuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	mas.mu.Lock()
	mas.registrations = append(mas.registrations, req)
	clientID := fmt.Sprintf("registered_client_%d", len(mas.registrations))
	mas.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"client_id":     clientID,
		"redirect_uris": req.RedirectURIs,
	})
}

func (mas *MockAuthServer) registrationCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return len(mas.registrations)
}

func (mas *MockAuthServer) loginCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return mas.loginRequests
}

func (mas *MockAuthServer) tokenCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return mas.tokenRequests
}

func (mas *MockAuthServer) authCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return mas.authRequests
}

// localPart returns everything before the @ of an identity.
func localPart(identity string) string {
	if at := strings.Index(identity, "@"); at >= 0 {
		return identity[:at]
	}
	return identity
}

// apiDriver is a loginDriver that scripts the hosted login over plain HTTP
// instead of a browser, following the same observe-and-publish contract as
// the real driver.
type apiDriver struct {
	as     *MockAuthServer
	source captureSource
	stall  bool // never publish anything, to force capture timeouts
}

func (d *apiDriver) Run(ctx context.Context, attempt *loginAttempt) error {
	if d.stall {
		<-ctx.Done()
		return nil
	}

	attempt.progress(stateBrowserLaunched)

	authReq, err := http.NewRequestWithContext(ctx, http.MethodGet, attempt.authorizeURL, nil)
	if err != nil {
		return err
	}
	authResp, err := http.DefaultClient.Do(authReq)
	if err != nil {
		return err
	}
	authResp.Body.Close()
	if authResp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to load login page: status %d", authResp.StatusCode)
	}
	attempt.progress(stateNavigated)

	payload, err := json.Marshal(map[string]string{
		"username": attempt.credentials.Identity,
		"password": attempt.credentials.Password,
	})
	if err != nil {
		return err
	}
	loginReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.as.URL+"/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	loginReq.Header.Set("Content-Type", "application/json")
	loginResp, err := http.DefaultClient.Do(loginReq)
	if err != nil {
		return err
	}
	defer loginResp.Body.Close()
	attempt.progress(stateFormSubmitted)

	if loginResp.StatusCode == http.StatusUnauthorized || loginResp.StatusCode == http.StatusForbidden {
		attempt.fail(&CredentialError{Identity: attempt.credentials.Identity, Status: loginResp.StatusCode})
		<-ctx.Done()
		return nil
	}

	body, err := io.ReadAll(loginResp.Body)
	if err != nil {
		return err
	}

	if d.source == sourceNavigation {
		// Follow the redirect the way a browser would and observe the
		// callback URL instead of the response body.
		var redirect struct {
			RedirectURL string `json:"redirectUrl"`
		}
		if err := json.Unmarshal(body, &redirect); err == nil {
			if code, state, ok := callbackParams(redirect.RedirectURL, attempt.redirectURI); ok {
				attempt.offer(capture{code: code, state: state, source: sourceNavigation})
			}
		}
	} else {
		if code, state, ok := redirectParams(body); ok {
			attempt.offer(capture{code: code, state: state, source: sourceLoginAPI})
		}
	}

	<-ctx.Done()
	return nil
}
