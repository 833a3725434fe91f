package authflow

import (
	"context"
	"sync"
	"time"
)

// captureState tracks an authorization attempt through the browser.
type captureState int

const (
	stateIdle captureState = iota
	stateBrowserLaunched
	stateNavigated
	stateFormSubmitted
	stateCodeCaptured
	stateTimedOut
	stateFailed
)

func (s captureState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBrowserLaunched:
		return "browser_launched"
	case stateNavigated:
		return "navigated"
	case stateFormSubmitted:
		return "form_submitted"
	case stateCodeCaptured:
		return "code_captured"
	case stateTimedOut:
		return "timed_out"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// captureSource names the observation channel that produced a code.
type captureSource string

const (
	sourceLoginAPI   captureSource = "login-api"
	sourceNavigation captureSource = "navigation"
)

// capture is one observed code/state pair.
type capture struct {
	code   string
	state  string
	source captureSource
}

// loginAttempt carries one authorization round-trip through a driver. Both
// observation channels publish through offer; the buffered channel plus the
// non-blocking send make the first observation win and every later one a
// no-op.
type loginAttempt struct {
	authorizeURL string
	redirectURI  string
	credentials  Credentials
	captures     chan capture
	failures     chan error
	progress     func(captureState)
}

func newLoginAttempt(authorizeURL, redirectURI string, creds Credentials, progress func(captureState)) *loginAttempt {
	return &loginAttempt{
		authorizeURL: authorizeURL,
		redirectURI:  redirectURI,
		credentials:  creds,
		captures:     make(chan capture, 1),
		failures:     make(chan error, 1),
		progress:     progress,
	}
}

// offer publishes a capture without blocking.
func (a *loginAttempt) offer(c capture) {
	select {
	case a.captures <- c:
	default:
	}
}

// fail reports a terminal attempt error; only the first is kept.
func (a *loginAttempt) fail(err error) {
	select {
	case a.failures <- err:
	default:
	}
}

// loginDriver runs the scripted login: navigate to the authorization URL,
// submit the credentials, and publish every observed code-bearing redirect
// on the attempt. Run must keep the browser alive until ctx is cancelled
// and must release all browser resources on return.
type loginDriver interface {
	Run(ctx context.Context, attempt *loginAttempt) error
}

// Capturer obtains an authorization code for one identity by driving the
// hosted login page and racing the two observation channels: the login API
// response body and the browser's navigation to the redirect URI.
type Capturer struct {
	driver      loginDriver
	redirectURI string
	timeout     time.Duration
	logger      *Logger

	mu    sync.Mutex
	state captureState
}

func NewCapturer(driver loginDriver, redirectURI string, timeout time.Duration, logger *Logger) *Capturer {
	return &Capturer{
		driver:      driver,
		redirectURI: redirectURI,
		timeout:     timeout,
		logger:      logger,
		state:       stateIdle,
	}
}

func (c *Capturer) transition(s captureState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.InfoVerbose("Authorization attempt: %s", s)
}

// lastState returns the state reached by the most recent attempt.
func (c *Capturer) lastState() captureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capture runs one authorization attempt and returns the captured code. The
// browser is torn down before Capture returns, on every path.
func (c *Capturer) Capture(ctx context.Context, authorizeURL, expectedState string, creds Credentials) (string, error) {
	c.transition(stateIdle)
	attempt := newLoginAttempt(authorizeURL, c.redirectURI, creds, c.transition)

	driverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := c.driver.Run(driverCtx, attempt); err != nil {
			attempt.fail(err)
		}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case got := <-attempt.captures:
		return c.finish(got, expectedState)
	case err := <-attempt.failures:
		// A capture that raced in just ahead of a late driver error still
		// counts as success.
		select {
		case got := <-attempt.captures:
			return c.finish(got, expectedState)
		default:
		}
		c.transition(stateFailed)
		return "", err
	case <-timer.C:
		c.transition(stateTimedOut)
		return "", &AuthorizationTimeoutError{Identity: creds.Identity, Timeout: c.timeout}
	case <-ctx.Done():
		c.transition(stateFailed)
		return "", ctx.Err()
	}
}

// finish validates the echoed state and resolves the attempt.
func (c *Capturer) finish(got capture, expectedState string) (string, error) {
	if got.state != expectedState {
		c.transition(stateFailed)
		return "", &StateMismatchError{Expected: expectedState, Got: got.state}
	}
	c.transition(stateCodeCaptured)
	c.logger.InfoVerbose("Authorization code captured via %s", got.source)
	return got.code, nil
}
