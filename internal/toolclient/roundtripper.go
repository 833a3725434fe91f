package toolclient

import (
	"net/http"
	"strings"

	"github.com/zueggcom/grantcheck/internal/authflow"
)

// traceRoundTripper logs every outgoing request and its response status
// through the trace logger. Authorization header values are redacted so
// bearer tokens never reach log output.
type traceRoundTripper struct {
	transport http.RoundTripper
	logger    *authflow.Logger
}

func newTraceRoundTripper(base http.RoundTripper, logger *authflow.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &traceRoundTripper{
		transport: base,
		logger:    logger,
	}
}

// RoundTrip implements the http.RoundTripper interface.
func (rt *traceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	detail := map[string]string{"url": req.URL.String()}
	if auth := req.Header.Get("Authorization"); auth != "" {
		detail["authorization"] = redactAuthorization(auth)
	}
	rt.logger.Request(req.Method, detail)

	resp, err := rt.transport.RoundTrip(req)
	if err != nil {
		rt.logger.Response(req.Method, map[string]string{"error": err.Error()})
		return nil, err
	}

	rt.logger.Response(req.Method, map[string]string{"status": resp.Status})
	return resp, nil
}

// redactAuthorization keeps the auth scheme but hides the credential.
func redactAuthorization(value string) string {
	scheme, _, found := strings.Cut(value, " ")
	if !found {
		return "***"
	}
	return scheme + " ***"
}
