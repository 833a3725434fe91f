package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// tokenExpiryMargin is how close to expiry a cached token may get before it
// is refreshed. Covers clock skew plus the duration of the calls the token
// will be used for.
const tokenExpiryMargin = 60 * time.Second

// TokenRecord is one identity's cached token material.
type TokenRecord struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"` // unix milliseconds
	ClientID     string `json:"clientId"`
}

// ExpiryTime returns the absolute expiry of the access token.
func (r *TokenRecord) ExpiryTime() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// Fresh reports whether the access token is still usable with the given
// safety margin before expiry.
func (r *TokenRecord) Fresh(margin time.Duration) bool {
	return time.Now().Add(margin).Before(r.ExpiryTime())
}

// ToOAuth2Token converts the record for use with golang.org/x/oauth2
// transports.
func (r *TokenRecord) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.ExpiryTime(),
	}
}

// newTokenRecord stamps a token response with its absolute expiry: issue
// time plus the advertised expires_in.
func newTokenRecord(resp *TokenResponse, clientID string) *TokenRecord {
	return &TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli(),
		ClientID:     clientID,
	}
}

// TokenSource produces tokens when the cache cannot serve a request itself.
// Refresh trades a stored refresh token for a new response; Authenticate
// runs the full browser flow and reports the client id it registered under.
type TokenSource interface {
	Refresh(ctx context.Context, refreshToken, clientID string) (*TokenResponse, error)
	Authenticate(ctx context.Context, identity string) (*TokenResponse, string, error)
}

// TokenCache is the persistent multi-identity token store. Records load
// from the backing file once at construction; the whole file is rewritten
// after every mutation. The file has exactly one writer, this process.
type TokenCache struct {
	path   string
	margin time.Duration
	logger *Logger

	mu      sync.Mutex
	records map[string]*TokenRecord
	group   singleflight.Group
}

// NewTokenCache loads the cache file at path, starting empty when the file
// is absent or unreadable.
func NewTokenCache(path string, logger *Logger) *TokenCache {
	cache := &TokenCache{
		path:    path,
		margin:  tokenExpiryMargin,
		logger:  logger,
		records: make(map[string]*TokenRecord),
	}
	cache.load()
	return cache
}

func (tc *TokenCache) load() {
	data, err := os.ReadFile(tc.path)
	if err != nil {
		if !os.IsNotExist(err) {
			tc.logger.Warning("Could not read token cache %s: %v", tc.path, err)
		}
		return
	}
	if err := json.Unmarshal(data, &tc.records); err != nil {
		tc.logger.Warning("Token cache %s is corrupt, starting empty: %v", tc.path, err)
		tc.records = make(map[string]*TokenRecord)
	}
}

// GetToken returns a valid access token for identity: the cached one when
// still fresh, a refreshed one when a refresh token is stored, or the
// result of a full authentication. Concurrent calls for the same identity
// share a single acquisition.
func (tc *TokenCache) GetToken(ctx context.Context, identity string, src TokenSource) (string, error) {
	token, err, _ := tc.group.Do(identity, func() (interface{}, error) {
		return tc.acquire(ctx, identity, src)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (tc *TokenCache) acquire(ctx context.Context, identity string, src TokenSource) (string, error) {
	if rec, ok := tc.Record(identity); ok {
		if rec.Fresh(tc.margin) {
			tc.logger.InfoVerbose("Reusing cached token for %s (expires %s)", identity, rec.ExpiryTime().Format(time.RFC3339))
			return rec.AccessToken, nil
		}
		if rec.RefreshToken != "" {
			resp, err := src.Refresh(ctx, rec.RefreshToken, rec.ClientID)
			if err == nil {
				updated := newTokenRecord(resp, rec.ClientID)
				if updated.RefreshToken == "" {
					updated.RefreshToken = rec.RefreshToken
				}
				if err := tc.put(identity, updated); err != nil {
					return "", err
				}
				tc.logger.InfoVerbose("Refreshed token for %s", identity)
				return updated.AccessToken, nil
			}
			tc.logger.Warning("Token refresh for %s failed, falling back to full authentication: %v", identity, err)
		}
	}

	resp, clientID, err := src.Authenticate(ctx, identity)
	if err != nil {
		return "", err
	}
	rec := newTokenRecord(resp, clientID)
	if err := tc.put(identity, rec); err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// Record returns a copy of the cached record for identity.
func (tc *TokenCache) Record(identity string) (*TokenRecord, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	rec, ok := tc.records[identity]
	if !ok {
		return nil, false
	}
	copied := *rec
	return &copied, true
}

// Identities lists the identities present in the cache, sorted.
func (tc *TokenCache) Identities() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	names := make([]string, 0, len(tc.records))
	for name := range tc.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (tc *TokenCache) put(identity string, rec *TokenRecord) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.records[identity] = rec
	return tc.persistLocked()
}

// Delete removes one identity's record.
func (tc *TokenCache) Delete(identity string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, ok := tc.records[identity]; !ok {
		return nil
	}
	delete(tc.records, identity)
	return tc.persistLocked()
}

// Clear drops every record and deletes the backing file.
func (tc *TokenCache) Clear() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.records = make(map[string]*TokenRecord)
	if err := os.Remove(tc.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token cache: %w", err)
	}
	return nil
}

// persistLocked rewrites the whole cache file. Requires tc.mu held.
func (tc *TokenCache) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(tc.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}
	data, err := json.MarshalIndent(tc.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token cache: %w", err)
	}
	if err := os.WriteFile(tc.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}
