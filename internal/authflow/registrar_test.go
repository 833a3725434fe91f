package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistrarRegistersOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode registration request: %v", err)
		}
		if req.TokenEndpointAuthMethod != "none" {
			t.Errorf("token_endpoint_auth_method = %q, want none", req.TokenEndpointAuthMethod)
		}
		if len(req.RedirectURIs) != 1 || req.RedirectURIs[0] != "https://app.example.com/callback" {
			t.Errorf("redirect_uris = %v, want the configured callback", req.RedirectURIs)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id":     "registered_client_1",
			"redirect_uris": req.RedirectURIs,
		})
	}))
	defer server.Close()

	registrar := NewRegistrar(server.URL, "https://app.example.com/callback", "grantcheck", "openid", nil)

	first, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.ClientID != "registered_client_1" {
		t.Errorf("ClientID = %q, want registered_client_1", first.ClientID)
	}

	second, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("second Register() error = %v", err)
	}
	if second != first {
		t.Error("expected the cached registration to be returned")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("registration endpoint called %d times, want 1", got)
	}
}

func TestRegistrarConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "c1"})
	}))
	defer server.Close()

	registrar := NewRegistrar(server.URL, "https://app.example.com/callback", "grantcheck", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registrar.Register(context.Background()); err != nil {
				t.Errorf("Register() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("registration endpoint called %d times, want 1", got)
	}
}

func TestRegistrarErrorCarriesBody(t *testing.T) {
	body := `{"error":"invalid_redirect_uri","error_description":"redirect_uri not allowed"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	registrar := NewRegistrar(server.URL, "https://app.example.com/callback", "grantcheck", "", nil)

	_, err := registrar.Register(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("error type = %T, want *RegistrationError", err)
	}
	if regErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", regErr.Status)
	}
	if regErr.Body != body {
		t.Errorf("Body = %q, want server response verbatim", regErr.Body)
	}
}

func TestRegistrarReset(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "client_" + strings.Repeat("x", int(n))})
	}))
	defer server.Close()

	registrar := NewRegistrar(server.URL, "https://app.example.com/callback", "grantcheck", "", nil)

	first, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	registrar.Reset()

	second, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() after Reset error = %v", err)
	}
	if first.ClientID == second.ClientID {
		t.Error("expected a fresh registration after Reset")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("registration endpoint called %d times, want 2", got)
	}
}

func TestRegistrarFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "server_error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "c1"})
	}))
	defer server.Close()

	registrar := NewRegistrar(server.URL, "https://app.example.com/callback", "grantcheck", "", nil)

	if _, err := registrar.Register(context.Background()); err == nil {
		t.Fatal("expected first Register to fail")
	}
	reg, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("second Register() error = %v", err)
	}
	if reg.ClientID != "c1" {
		t.Errorf("ClientID = %q, want c1", reg.ClientID)
	}
}

func TestRegistrarNoEndpoint(t *testing.T) {
	registrar := NewRegistrar("", "https://app.example.com/callback", "grantcheck", "", nil)
	if _, err := registrar.Register(context.Background()); err == nil {
		t.Fatal("expected error when no registration endpoint is configured")
	}
}
