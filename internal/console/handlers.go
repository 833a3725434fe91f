package console

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zueggcom/grantcheck/internal/authflow"
	"github.com/zueggcom/grantcheck/internal/toolclient"
)

// toolLister is implemented by clients that can enumerate server tools.
type toolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// handleIdentities lists the known identities with their cache state.
func (c *Console) handleIdentities() error {
	if len(c.identities) == 0 {
		c.logger.Info("No identities configured")
		return nil
	}

	fmt.Printf("Identities (%d):\n", len(c.identities))
	for _, name := range c.identities {
		fmt.Printf("  • %s (%s)\n", name, c.cacheState(name))
	}
	return nil
}

// cacheState describes the cached token for an identity, if any.
func (c *Console) cacheState(name string) string {
	rec, ok := c.flow.Record(name)
	if !ok {
		return "not authenticated"
	}
	if !rec.Fresh(time.Minute) {
		if rec.RefreshToken != "" {
			return "expired, refresh token available"
		}
		return "expired"
	}
	return fmt.Sprintf("cached, expires in %s", time.Until(rec.ExpiryTime()).Round(time.Second))
}

// handleLogin obtains a token for an identity, authenticating through
// the browser when the cache has nothing usable.
func (c *Console) handleLogin(ctx context.Context, identity string) error {
	c.logger.Info("Authenticating %s...", identity)

	if _, err := c.flow.GetToken(ctx, identity); err != nil {
		return fmt.Errorf("authentication failed for %s: %w", identity, err)
	}

	if rec, ok := c.flow.Record(identity); ok {
		c.logger.Success("Authenticated %s (token expires %s)", identity, rec.ExpiryTime().Format(time.RFC3339))
	} else {
		c.logger.Success("Authenticated %s", identity)
	}
	return nil
}

// handleToken shows the decoded claims of an identity's access token.
func (c *Console) handleToken(ctx context.Context, identity string) error {
	raw, err := c.flow.GetToken(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to get token for %s: %w", identity, err)
	}

	claims, err := authflow.DecodeTokenClaims(raw)
	if err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}

	fmt.Printf("Token claims for %s:\n", identity)
	fmt.Println(authflow.PrettyJSON(claims))
	if expiry := claims.Expiry(); !expiry.IsZero() {
		if claims.Expired() {
			c.logger.Warning("Token expired at %s", expiry.Format(time.RFC3339))
		} else {
			c.logger.Info("Token expires %s (in %s)", expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Second))
		}
	}
	return nil
}

// handleTools lists the MCP tools visible to an identity.
func (c *Console) handleTools(ctx context.Context, identity string) error {
	client, err := c.getClient(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to connect as %s: %w", identity, err)
	}

	lister, ok := client.(toolLister)
	if !ok {
		return fmt.Errorf("client for %s cannot list tools", identity)
	}

	tools, err := lister.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	if len(tools) == 0 {
		c.logger.Info("No tools visible to %s", identity)
		return nil
	}

	fmt.Printf("Tools visible to %s (%d):\n", identity, len(tools))
	for _, tool := range tools {
		if tool.Description != "" {
			fmt.Printf("  • %s - %s\n", tool.Name, tool.Description)
		} else {
			fmt.Printf("  • %s\n", tool.Name)
		}
	}
	return nil
}

// handleCall calls a tool as an identity and reports the outcome the
// way the matrix runner would classify it.
func (c *Console) handleCall(ctx context.Context, identity, tool, argsJSON string) error {
	args, err := parseToolArgs(argsJSON)
	if err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}

	client, err := c.getClient(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to connect as %s: %w", identity, err)
	}

	c.logger.Info("Calling %s as %s...", tool, identity)
	result, callErr := client.CallTool(ctx, tool, args)

	outcome, detail := toolclient.Classify(result, callErr)
	switch outcome {
	case toolclient.OutcomeAllowed:
		displayToolResult(result)
		c.logger.Success("Outcome: allowed")
	case toolclient.OutcomeDenied:
		c.logger.Warning("Outcome: denied (%s)", detail)
	default:
		return fmt.Errorf("tool call failed: %s", detail)
	}
	return nil
}

// handleCacheShow lists the cached tokens across all identities.
func (c *Console) handleCacheShow() error {
	cached := c.flow.CachedIdentities()
	if len(cached) == 0 {
		c.logger.Info("Token cache is empty")
		return nil
	}

	fmt.Printf("Cached tokens (%d):\n", len(cached))
	for _, name := range cached {
		fmt.Printf("  • %s (%s)\n", name, c.cacheState(name))
	}
	return nil
}

// handleCacheClear drops every cached token.
func (c *Console) handleCacheClear() error {
	if err := c.flow.ClearCache(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.logger.Success("Token cache cleared")
	return nil
}

// handleCacheClearIdentity drops one identity's cached token.
func (c *Console) handleCacheClearIdentity(identity string) error {
	if err := c.flow.ClearIdentity(identity); err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", identity, err)
	}
	c.logger.Success("Cached token for %s cleared", identity)
	return nil
}

// parseToolArgs parses a JSON object literal into tool arguments. An
// empty string means no arguments.
func parseToolArgs(argsJSON string) (map[string]interface{}, error) {
	if argsJSON == "" {
		return nil, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// displayToolResult pretty-prints the content of a tool result,
// re-indenting JSON text payloads when possible.
func displayToolResult(result *mcp.CallToolResult) {
	if result == nil || len(result.Content) == 0 {
		fmt.Println("(empty result)")
		return
	}

	for _, content := range result.Content {
		text, ok := mcp.AsTextContent(content)
		if !ok {
			fmt.Printf("%+v\n", content)
			continue
		}

		var parsed interface{}
		if err := json.Unmarshal([]byte(text.Text), &parsed); err == nil {
			fmt.Println(authflow.PrettyJSON(parsed))
		} else {
			fmt.Println(text.Text)
		}
	}
}
