// Package runner executes authorization matrix fixtures: every check
// is called once per expecting identity and the observed outcome is
// compared against the fixture's expectation.
package runner

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zueggcom/grantcheck/internal/authflow"
	"github.com/zueggcom/grantcheck/internal/matrix"
	"github.com/zueggcom/grantcheck/internal/report"
	"github.com/zueggcom/grantcheck/internal/toolclient"
)

// ToolCaller is the slice of the tool client the runner needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	Close() error
}

// ClientFactory authenticates an identity and returns a connected tool
// client for it. The runner builds clients lazily, at most once per
// identity per run.
type ClientFactory func(ctx context.Context, identity string) (ToolCaller, error)

// Config holds the collaborators for one run.
type Config struct {
	Factory  ClientFactory
	Recorder *report.Recorder
	Logger   *authflow.Logger
	// Identities restricts the run to the named identities. Checks for
	// all other identities are recorded as skipped. Empty means all.
	Identities []string
}

// Runner drives a matrix fixture through authenticated tool clients.
type Runner struct {
	factory  ClientFactory
	recorder *report.Recorder
	logger   *authflow.Logger
	only     map[string]bool
}

// New creates a runner from a configuration.
func New(cfg Config) *Runner {
	var only map[string]bool
	if len(cfg.Identities) > 0 {
		only = make(map[string]bool, len(cfg.Identities))
		for _, name := range cfg.Identities {
			only[name] = true
		}
	}
	return &Runner{
		factory:  cfg.Factory,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		only:     only,
	}
}

// Run executes every expectation in the matrix and returns the
// finalized summary. Authentication happens lazily per identity; when
// it fails, every check for that identity is recorded as errored and
// the identity is not retried within the run.
func (r *Runner) Run(ctx context.Context, m *matrix.Matrix) (*report.Summary, error) {
	r.logger.Info("Running %d checks across %d identities...", m.CheckCount(), len(m.Identities))

	clients := make(map[string]ToolCaller)
	broken := make(map[string]error)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	for _, check := range m.Checks {
		for _, exp := range m.Expectations(check) {
			if err := ctx.Err(); err != nil {
				return r.recorder.Summary(), err
			}
			r.runCheck(ctx, check, exp, clients, broken)
		}
	}

	summary := r.recorder.Summary()
	r.logSummary(summary)
	return summary, nil
}

func (r *Runner) runCheck(ctx context.Context, check matrix.Check, exp matrix.IdentityExpectation, clients map[string]ToolCaller, broken map[string]error) {
	if r.only != nil && !r.only[exp.Identity] {
		r.recorder.Record(report.CheckRecord{
			Identity: exp.Identity,
			Tool:     check.Tool,
			Expected: string(exp.Expect),
			Status:   report.StatusSkip,
		})
		return
	}

	if err := broken[exp.Identity]; err != nil {
		r.recordUnavailable(check, exp, err)
		return
	}

	client, ok := clients[exp.Identity]
	if !ok {
		var err error
		client, err = r.factory(ctx, exp.Identity)
		if err != nil {
			broken[exp.Identity] = err
			r.logger.Error("Client for %s unavailable: %v", exp.Identity, err)
			r.recordUnavailable(check, exp, err)
			return
		}
		clients[exp.Identity] = client
	}

	start := time.Now()
	result, err := client.CallTool(ctx, check.Tool, check.Args)
	outcome, detail := toolclient.Classify(result, err)
	status := statusFor(exp.Expect, outcome)

	rec := report.CheckRecord{
		Identity:   exp.Identity,
		Tool:       check.Tool,
		Expected:   string(exp.Expect),
		Observed:   string(outcome),
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if status != report.StatusPass {
		rec.Error = detail
	}
	r.recorder.Record(rec)

	switch status {
	case report.StatusPass:
		r.logger.Success("%s / %s: %s as expected", check.Tool, exp.Identity, outcome)
	case report.StatusFail:
		r.logger.Error("%s / %s: expected %s, observed %s", check.Tool, exp.Identity, exp.Expect, outcome)
	default:
		r.logger.Error("%s / %s: check errored: %s", check.Tool, exp.Identity, detail)
	}
}

// recordUnavailable records a check that could not run because its
// identity has no working client.
func (r *Runner) recordUnavailable(check matrix.Check, exp matrix.IdentityExpectation, err error) {
	r.recorder.Record(report.CheckRecord{
		Identity: exp.Identity,
		Tool:     check.Tool,
		Expected: string(exp.Expect),
		Status:   report.StatusError,
		Error:    err.Error(),
	})
}

func (r *Runner) logSummary(s *report.Summary) {
	if s.Clean() {
		r.logger.Success("All checks passed: %d passed, %d skipped (%.1f%%)", s.Passed, s.Skipped, s.PassRate)
		return
	}
	r.logger.Error("Run finished with problems: %d passed, %d failed, %d errored, %d skipped", s.Passed, s.Failed, s.Errored, s.Skipped)
}

// statusFor compares an expectation with an observed outcome.
func statusFor(expect matrix.Expectation, outcome toolclient.Outcome) report.Status {
	switch outcome {
	case toolclient.OutcomeAllowed:
		if expect == matrix.ExpectAllow {
			return report.StatusPass
		}
		return report.StatusFail
	case toolclient.OutcomeDenied:
		if expect == matrix.ExpectDeny {
			return report.StatusPass
		}
		return report.StatusFail
	default:
		return report.StatusError
	}
}
