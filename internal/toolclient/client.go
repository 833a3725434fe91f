// Package toolclient connects to an MCP server as one authenticated
// identity and classifies tool call outcomes for authorization checks.
//
// Every HTTP request carries a bearer token obtained from an
// oauth2.TokenSource, so token refresh happens transparently between
// calls. One Client maps to one identity; the runner holds a client per
// identity under test.
package toolclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"github.com/zueggcom/grantcheck/internal/authflow"
)

// protocolVersion is the MCP protocol revision sent in the initialize
// handshake.
const protocolVersion = "2024-11-05"

// Client is an MCP client bound to one authenticated identity.
type Client struct {
	endpoint  string
	identity  string
	source    oauth2.TokenSource
	logger    *authflow.Logger
	traceHTTP bool
	version   string

	mu        sync.RWMutex
	client    *client.Client
	toolCache []mcp.Tool
	caps      *mcp.ServerCapabilities
}

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// Endpoint is the MCP server URL, e.g. https://api.example.com/mcp.
	Endpoint string
	// Identity names the authenticated identity the token source serves.
	// It only appears in log output.
	Identity string
	// TokenSource supplies the bearer token attached to every request.
	TokenSource oauth2.TokenSource
	Logger      *authflow.Logger
	// TraceHTTP logs every HTTP request and response status with the
	// Authorization header redacted.
	TraceHTTP bool
	// Version is reported as the client version during the handshake.
	Version string
}

// NewClient creates a new identity-bound client from a configuration.
// Call Connect before issuing requests.
func NewClient(cfg ClientConfig) *Client {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		identity:  cfg.Identity,
		source:    cfg.TokenSource,
		logger:    cfg.Logger,
		traceHTTP: cfg.TraceHTTP,
		version:   version,
		toolCache: []mcp.Tool{},
	}
}

// Connect establishes the MCP session: transport start, protocol
// handshake, and an initial tool listing when the server supports it.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.InfoVerbose("Connecting to MCP server at %s as %s...", c.endpoint, c.identity)

	httpClient := &http.Client{Transport: c.roundTripper()}
	mcpClient, err := client.NewStreamableHttpClient(c.endpoint,
		transport.WithHTTPBasicClient(httpClient))
	if err != nil {
		return fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to start client: %w", err)
	}

	c.mu.Lock()
	c.client = mcpClient
	c.mu.Unlock()

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return err
	}

	if c.ServerSupportsTools() {
		if err := c.refreshTools(ctx); err != nil {
			return fmt.Errorf("initial tool listing failed: %w", err)
		}
	} else {
		c.logger.InfoVerbose("Server does not advertise the tools capability")
	}

	return nil
}

// Reconnect tears down the current session and establishes a new one.
func (c *Client) Reconnect(ctx context.Context) error {
	c.logger.Info("Reconnecting to MCP server as %s...", c.identity)
	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Close shuts down the MCP session. It is safe to call on a client that
// never connected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// roundTripper builds the transport chain for the session. The oauth2
// transport sits outermost so the trace round tripper observes the
// request exactly as it goes on the wire, bearer header included.
func (c *Client) roundTripper() http.RoundTripper {
	var base http.RoundTripper = http.DefaultTransport
	if c.traceHTTP {
		base = newTraceRoundTripper(base, c.logger)
	}
	return &oauth2.Transport{Source: c.source, Base: base}
}

func (c *Client) mcpClient() *client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// initialize performs the MCP protocol handshake and records the server
// capabilities for conditional feature usage.
func (c *Client) initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "grantcheck",
				Version: c.version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	c.logger.Request("initialize", req.Params)

	result, err := c.mcpClient().Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	c.logger.Response("initialize", result)

	c.mu.Lock()
	c.caps = &result.Capabilities
	c.mu.Unlock()

	return nil
}

// refreshTools fetches the tool listing and replaces the cache.
func (c *Client) refreshTools(ctx context.Context) error {
	req := mcp.ListToolsRequest{}

	c.logger.Request("tools/list", req.Params)

	result, err := c.mcpClient().ListTools(ctx, req)
	if err != nil {
		return err
	}

	c.logger.Response("tools/list", result)

	c.mu.Lock()
	c.toolCache = result.Tools
	c.mu.Unlock()

	return nil
}

// Tools returns the tool listing captured at connect time.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.toolCache
}

// ListTools fetches a fresh tool listing from the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.mcpClient() == nil {
		return nil, fmt.Errorf("not connected")
	}
	if err := c.refreshTools(ctx); err != nil {
		return nil, err
	}
	return c.Tools(), nil
}

// ServerSupportsTools reports whether the server advertised the tools
// capability during the handshake.
func (c *Client) ServerSupportsTools() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps != nil && c.caps.Tools != nil
}

// CallTool executes a tool with the given arguments, reconnecting and
// retrying once when the connection drops mid-call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	c.logger.Request("tools/call", req.Params)

	const maxRetries = 1
	var result *mcp.CallToolResult
	var err error

	for i := 0; i <= maxRetries; i++ {
		mcpClient := c.mcpClient()
		if mcpClient == nil {
			return nil, fmt.Errorf("not connected")
		}

		result, err = mcpClient.CallTool(ctx, req)
		if err == nil {
			c.logger.Response("tools/call", result)
			return result, nil
		}

		if shouldReconnect(err) && i < maxRetries {
			c.logger.Warning("Connection lost during tool call for %s, reconnecting...", c.identity)
			if reconnErr := c.Reconnect(ctx); reconnErr != nil {
				err = fmt.Errorf("failed to reconnect: %w", reconnErr)
				break
			}
			continue
		}
		break
	}

	c.logger.Error("CallTool %s failed: %v", name, err)
	return nil, err
}

// shouldReconnect reports whether an error indicates a dropped
// connection that a fresh session could recover from.
func shouldReconnect(err error) bool {
	if err == nil {
		return false
	}

	// Disconnects can surface as context cancellation inside the
	// transport.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset by peer") ||
		strings.Contains(errMsg, "transport is closing") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "unexpected eof") {
		return true
	}

	return false
}
