package toolclient

import (
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Outcome is the observed authorization result of one tool call.
type Outcome string

const (
	// OutcomeAllowed means the call completed without an error result.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeDenied means the server rejected the call on authorization
	// grounds, at the HTTP layer or as a permission-flavored tool error.
	OutcomeDenied Outcome = "denied"
	// OutcomeError means the call broke down for reasons unrelated to
	// authorization, so the expectation cannot be evaluated.
	OutcomeError Outcome = "error"
)

// denialPatterns mark an error message as an authorization rejection.
// Matched case-insensitively.
var denialPatterns = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"permission denied",
	"access denied",
	"not authorized",
	"not allowed",
	"invalid_token",
	"insufficient scope",
	"insufficient_scope",
}

// transportFailurePatterns mark an error as an infrastructure failure.
// They are checked before denialPatterns because dial errors embed
// port numbers that could collide with a status code pattern.
var transportFailurePatterns = []string{
	"connection refused",
	"connection reset by peer",
	"no such host",
	"broken pipe",
	"unexpected eof",
	"timeout",
	"deadline exceeded",
	"context canceled",
}

// Classify maps a tool call result to an authorization outcome. The
// detail string carries the denial or error message for the report.
func Classify(result *mcp.CallToolResult, err error) (Outcome, string) {
	if err != nil {
		if isAuthorizationError(err) {
			return OutcomeDenied, err.Error()
		}
		return OutcomeError, err.Error()
	}

	if result == nil {
		return OutcomeError, "tool call returned no result"
	}

	if result.IsError {
		text := resultText(result)
		if text == "" {
			text = "tool returned an error"
		}
		if containsAny(strings.ToLower(text), denialPatterns) {
			return OutcomeDenied, text
		}
		return OutcomeError, text
	}

	return OutcomeAllowed, ""
}

// isAuthorizationError reports whether a transport-level error is an
// authorization rejection rather than an infrastructure failure.
func isAuthorizationError(err error) bool {
	if client.IsOAuthAuthorizationRequiredError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transportFailurePatterns) {
		return false
	}
	return containsAny(msg, denialPatterns)
}

func containsAny(msg string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// resultText joins the text content items of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, textContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}
