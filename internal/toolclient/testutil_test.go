package toolclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/oauth2"
)

// mockToolServer wraps an MCP streamable HTTP server with a bearer
// token check so tests can observe exactly which credentials each
// request carried. It exposes three tools: orders_list succeeds,
// orders_delete rejects with a permission error, and orders_export
// fails for a reason unrelated to authorization.
type mockToolServer struct {
	httpServer  *httptest.Server
	validTokens map[string]bool

	mu          sync.Mutex
	authHeaders []string
	requests    int
}

func newMockToolServer(t *testing.T, validTokens ...string) *mockToolServer {
	t.Helper()

	s := &mockToolServer{
		validTokens: make(map[string]bool, len(validTokens)),
	}
	for _, token := range validTokens {
		s.validTokens[token] = true
	}

	mcpServer := server.NewMCPServer(
		"mock-tool-server",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	mcpServer.AddTool(
		mcp.NewTool("orders_list", mcp.WithDescription("List orders")),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(`{"orders":["A-1001","A-1002"]}`), nil
		},
	)
	mcpServer.AddTool(
		mcp.NewTool("orders_delete", mcp.WithDescription("Delete an order")),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("permission denied: orders_delete requires the admin role"), nil
		},
	)
	mcpServer.AddTool(
		mcp.NewTool("orders_export", mcp.WithDescription("Export orders")),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("export failed: upstream connector is offline"), nil
		},
	)

	mcpHandler := server.NewStreamableHTTPServer(mcpServer)

	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")

		s.mu.Lock()
		s.requests++
		s.authHeaders = append(s.authHeaders, auth)
		s.mu.Unlock()

		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || !s.validTokens[token] {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", s.httpServer.URL))
			http.Error(w, "invalid_token", http.StatusUnauthorized)
			return
		}

		mcpHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.httpServer.Close)

	return s
}

// endpoint returns the MCP endpoint URL at the default path.
func (s *mockToolServer) endpoint() string {
	return s.httpServer.URL + "/mcp"
}

func (s *mockToolServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// seenAuthHeaders returns a copy of every Authorization header value
// the server received, in arrival order.
func (s *mockToolServer) seenAuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

// staticSource returns a token source that always yields the same
// bearer token.
func staticSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// failingSource is a token source that always errors, simulating a
// broken authentication flow behind the transport.
type failingSource struct {
	err error
}

func (f failingSource) Token() (*oauth2.Token, error) {
	return nil, f.err
}
