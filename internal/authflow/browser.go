package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// chromeDriver drives a real Chromium over the DevTools protocol. Every
// attempt gets a fresh ephemeral browser context so no cookies or sessions
// survive between identities.
type chromeDriver struct {
	headless  bool
	selectors LoginSelectors
	logger    *Logger
}

func newChromeDriver(headless bool, selectors LoginSelectors, logger *Logger) *chromeDriver {
	return &chromeDriver{headless: headless, selectors: selectors, logger: logger}
}

// loginResponsePaths are URL path fragments of credential submission APIs
// whose response bodies may carry the post-login redirect.
var loginResponsePaths = []string{"/login", "/signin", "/session", "/authenticate"}

// redirectKeys are the JSON fields login APIs use for the post-login
// redirect URL.
var redirectKeys = []string{"redirectUrl", "redirect_url", "redirect", "location"}

func (d *chromeDriver) Run(ctx context.Context, attempt *loginAttempt) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	d.listen(browserCtx, attempt)

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	attempt.progress(stateBrowserLaunched)

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(attempt.authorizeURL),
		chromedp.WaitVisible(d.selectors.Identity, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to load login page: %w", err)
	}
	attempt.progress(stateNavigated)

	if err := chromedp.Run(browserCtx,
		chromedp.SendKeys(d.selectors.Identity, attempt.credentials.Identity, chromedp.ByQuery),
		chromedp.SendKeys(d.selectors.Password, attempt.credentials.Password, chromedp.ByQuery),
		chromedp.Click(d.selectors.Submit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	attempt.progress(stateFormSubmitted)

	// Hold the browser open until the capturer is done with it. The code
	// arrives through the listeners, not through this goroutine.
	<-ctx.Done()
	return nil
}

// listen installs the two capture observers: login API responses and frame
// navigations to the redirect URI.
func (d *chromeDriver) listen(browserCtx context.Context, attempt *loginAttempt) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			d.handleResponse(browserCtx, e, attempt)
		case *page.EventFrameNavigated:
			if e.Frame == nil {
				return
			}
			if code, state, ok := callbackParams(e.Frame.URL, attempt.redirectURI); ok {
				attempt.offer(capture{code: code, state: state, source: sourceNavigation})
			}
		}
	})
}

// handleResponse inspects responses from the login API. Rejections resolve
// the attempt as a credential failure; success bodies are fetched off the
// event goroutine and mined for the redirect URL.
func (d *chromeDriver) handleResponse(browserCtx context.Context, e *network.EventResponseReceived, attempt *loginAttempt) {
	resp := e.Response
	if resp == nil || !isLoginResponse(resp.URL) {
		return
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		attempt.fail(&CredentialError{Identity: attempt.credentials.Identity, Status: int(resp.Status)})
		return
	}
	if resp.Status >= 400 {
		attempt.fail(fmt.Errorf("login request to %s failed with status %d", resp.URL, resp.Status))
		return
	}

	requestID := e.RequestID
	go func() {
		c := chromedp.FromContext(browserCtx)
		body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(browserCtx, c.Target))
		if err != nil {
			d.logger.WarningVerbose("Could not read login response body: %v", err)
			return
		}
		if code, state, ok := redirectParams(body); ok {
			attempt.offer(capture{code: code, state: state, source: sourceLoginAPI})
		}
	}()
}

// isLoginResponse reports whether a response URL looks like the credential
// submission API of a hosted login page.
func isLoginResponse(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, fragment := range loginResponsePaths {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

// redirectParams extracts code and state from a login API response body
// that carries the post-login redirect as JSON.
func redirectParams(body []byte) (code, state string, ok bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", false
	}
	for _, key := range redirectKeys {
		raw, found := payload[key]
		if !found {
			continue
		}
		target, isString := raw.(string)
		if !isString {
			continue
		}
		if code, state, ok = queryCodeState(target); ok {
			return code, state, true
		}
	}
	return "", "", false
}

// callbackParams extracts code and state from a navigation to the redirect
// URI.
func callbackParams(rawURL, redirectURI string) (code, state string, ok bool) {
	if redirectURI == "" || !strings.HasPrefix(rawURL, redirectURI) {
		return "", "", false
	}
	return queryCodeState(rawURL)
}

// queryCodeState pulls the code and state query parameters out of a URL.
// Both must be present.
func queryCodeState(rawURL string) (code, state string, ok bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	query := parsed.Query()
	code, state = query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		return "", "", false
	}
	return code, state, true
}
