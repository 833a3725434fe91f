package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zueggcom/grantcheck/internal/authflow"
	"github.com/zueggcom/grantcheck/internal/console"
	"github.com/zueggcom/grantcheck/internal/matrix"
	"github.com/zueggcom/grantcheck/internal/report"
	"github.com/zueggcom/grantcheck/internal/runner"
	"github.com/zueggcom/grantcheck/internal/toolclient"
)

const (
	resultsFileName = "results.json"
	reportFileName  = "report.html"
)

var (
	version string

	baseURL        string
	endpoint       string
	matrixPath     string
	reportDir      string
	cachePath      string
	scope          string
	captureTimeout time.Duration
	authAttempts   int
	headless       bool
	identities     []string
	clearCache     bool
	repl           bool
	verbose        bool
	noColor        bool
	traceHTTP      bool
	timeout        time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "grantcheck",
	Short: "Authorization matrix checker for OAuth-protected MCP servers",
	Long: `grantcheck authenticates a set of named identities against an OAuth 2.1
authorization server, then calls MCP tools as each identity and compares
the observed outcome (allowed or denied) with a declared expectation
matrix.

Each identity logs in through the hosted login page in a headless
browser. Tokens are cached on disk per identity, so repeated runs only
open a browser when a token cannot be refreshed.

The tool supports three modes:
- Matrix run (default): execute every check in --matrix and write a
  JSON result file plus an HTML report into --report-dir
- Console mode (--repl): authenticate identities and call tools
  interactively
- Cache maintenance (--clear-cache): drop all cached tokens and exit

Per-identity passwords come from the environment (or a .env file):
GRANTCHECK_PASSWORD_<IDENTITY> with the identity upper-cased and
non-alphanumerics replaced by underscores.`,
	SilenceUsage: true,
	RunE:         runGrantcheck,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&baseURL, "base-url", "", "Authorization server base URL (discovered from --endpoint when empty)")
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8090/mcp", "Protected MCP endpoint URL")
	rootCmd.Flags().StringVar(&matrixPath, "matrix", "", "Path to the authorization matrix YAML file")
	rootCmd.Flags().StringVar(&reportDir, "report-dir", "reports", "Directory for the JSON results and HTML report")
	rootCmd.Flags().StringVar(&cachePath, "cache-path", "", "Token cache file location (default .grantcheck/tokens.json)")
	rootCmd.Flags().StringVar(&scope, "scope", "", "OAuth scope to request (default openid profile email)")
	rootCmd.Flags().DurationVar(&captureTimeout, "capture-timeout", 0, "Maximum wait for an authorization code per login attempt")
	rootCmd.Flags().IntVar(&authAttempts, "auth-attempts", 0, "Full authentication attempts per identity before giving up")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "Run the login browser headless (--headless=false to watch logins)")
	rootCmd.Flags().StringSliceVar(&identities, "identity", nil, "Restrict the run to these identities (repeatable, others are skipped)")
	rootCmd.Flags().BoolVar(&clearCache, "clear-cache", false, "Drop all cached tokens and exit")
	rootCmd.Flags().BoolVar(&repl, "repl", false, "Start the interactive console")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&traceHTTP, "trace-http", false, "Log HTTP requests and responses (tokens redacted)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall deadline for a matrix run")

	// Add subcommands
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	// Mark flags as mutually exclusive
	rootCmd.MarkFlagsMutuallyExclusive("repl", "clear-cache")
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

// buildFlowConfig assembles the authentication configuration from CLI
// flags. Defaults and validation happen inside the flow constructor.
func buildFlowConfig() *authflow.Config {
	return &authflow.Config{
		IssuerURL:      baseURL,
		ServerEndpoint: endpoint,
		Scope:          scope,
		CachePath:      cachePath,
		CaptureTimeout: captureTimeout,
		AuthAttempts:   authAttempts,
		Headless:       headless,
	}
}

// buildClientFactory returns the factory used by both the runner and
// the console to connect an authenticated MCP client per identity.
func buildClientFactory(flow *authflow.Flow, logger *authflow.Logger) runner.ClientFactory {
	return func(ctx context.Context, identity string) (runner.ToolCaller, error) {
		client := toolclient.NewClient(toolclient.ClientConfig{
			Endpoint:    endpoint,
			Identity:    identity,
			TokenSource: flow.TokenSource(ctx, identity),
			Logger:      logger,
			TraceHTTP:   traceHTTP,
			Version:     version,
		})
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// runConsole starts the interactive console, offering the matrix's
// identities for completion when a matrix is given.
func runConsole(ctx context.Context, flow *authflow.Flow, logger *authflow.Logger) error {
	known := flow.CachedIdentities()
	if matrixPath != "" {
		m, err := matrix.Load(matrixPath)
		if err != nil {
			return err
		}
		known = m.IdentityNames()
	}

	c := console.New(console.Config{
		Flow:       flow,
		Factory:    buildClientFactory(flow, logger),
		Identities: known,
		Logger:     logger,
	})
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

// runMatrix executes the authorization matrix and writes the reports.
func runMatrix(ctx context.Context, flow *authflow.Flow, logger *authflow.Logger) error {
	m, err := matrix.Load(matrixPath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	recorder := report.NewRecorder(m.Name)
	r := runner.New(runner.Config{
		Factory:    buildClientFactory(flow, logger),
		Recorder:   recorder,
		Logger:     logger,
		Identities: identities,
	})

	summary, runErr := r.Run(runCtx, m)

	if recorder.Count() > 0 {
		resultsPath := filepath.Join(reportDir, resultsFileName)
		if err := report.WriteJSON(resultsPath, summary); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		logger.Info("Results written to %s", resultsPath)

		reportPath := filepath.Join(reportDir, reportFileName)
		if err := report.WriteHTML(reportPath, summary); err != nil {
			return fmt.Errorf("failed to write HTML report: %w", err)
		}
		logger.Info("HTML report written to %s", reportPath)
	}

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	if !summary.Clean() {
		return fmt.Errorf("%d of %d checks did not pass", summary.Failed+summary.Errored, summary.Total)
	}
	return nil
}

func runGrantcheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	logger := authflow.NewLogger(verbose, !noColor, traceHTTP)

	if err := authflow.LoadEnv(); err != nil {
		logger.Warning("%v", err)
	}

	flow, err := authflow.NewFlow(ctx, buildFlowConfig(), logger)
	if err != nil {
		return err
	}

	if clearCache {
		if err := flow.ClearCache(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		logger.Success("Token cache cleared")
		return nil
	}

	if repl {
		return runConsole(ctx, flow, logger)
	}

	if matrixPath == "" {
		return fmt.Errorf("--matrix is required (or use --repl for the interactive console)")
	}
	return runMatrix(ctx, flow, logger)
}
