// Package console provides an interactive shell for exercising
// identities against the authorization server and the MCP endpoint
// without running a full matrix.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/zueggcom/grantcheck/internal/authflow"
	"github.com/zueggcom/grantcheck/internal/runner"
)

// errExit is a sentinel error used to signal console exit.
var errExit = errors.New("exit")

// Console is the interactive shell. It shares the client factory with
// the matrix runner, so a client connected here behaves exactly like
// one used during a run.
type Console struct {
	flow       *authflow.Flow
	factory    runner.ClientFactory
	identities []string
	logger     *authflow.Logger
	rl         *readline.Instance
	clients    map[string]runner.ToolCaller
	handlers   map[string]commandHandler
}

// Config holds the collaborators for a console session.
type Config struct {
	Flow    *authflow.Flow
	Factory runner.ClientFactory
	// Identities are the names offered for completion and listing,
	// usually the matrix's declared identities.
	Identities []string
	Logger     *authflow.Logger
}

// New creates a console from a configuration.
func New(cfg Config) *Console {
	c := &Console{
		flow:       cfg.Flow,
		factory:    cfg.Factory,
		identities: cfg.Identities,
		logger:     cfg.Logger,
		clients:    make(map[string]runner.ToolCaller),
	}
	c.handlers = c.buildCommandHandlers()
	return c
}

// Run starts the console loop and blocks until exit.
func (c *Console) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".grantcheck_history")

	config := &readline.Config{
		Prompt:          "grantcheck> ",
		HistoryFile:     historyFile,
		AutoComplete:    c.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	c.rl = rl

	defer c.closeClients()

	c.logger.Info("Interactive console started. Type 'help' for available commands. Use TAB for completion.")
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Console shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			c.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := c.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				c.logger.Info("Goodbye!")
				return nil
			}
			c.logger.Error("Error: %v", err)
		}

		fmt.Println()
	}
}

// getClient returns the connected client for an identity, building it
// on first use. Clients live until the console exits.
func (c *Console) getClient(ctx context.Context, identity string) (runner.ToolCaller, error) {
	if client, ok := c.clients[identity]; ok {
		return client, nil
	}
	client, err := c.factory(ctx, identity)
	if err != nil {
		return nil, err
	}
	c.clients[identity] = client
	return client, nil
}

func (c *Console) closeClients() {
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]runner.ToolCaller)
}

// createCompleter builds tab completion over commands and identities.
func (c *Console) createCompleter() *readline.PrefixCompleter {
	identityItems := buildPcItems(c.identities)

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("identities"),
		readline.PcItem("login", identityItems...),
		readline.PcItem("token", identityItems...),
		readline.PcItem("tools", identityItems...),
		readline.PcItem("call", identityItems...),
		readline.PcItem("cache",
			readline.PcItem("clear", identityItems...),
		),
	}

	return readline.NewPrefixCompleter(items...)
}

// buildPcItems converts a slice of strings to readline completer items.
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// filterInput filters input characters for readline.
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a console command with its handler and
// argument requirements.
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers.
func (c *Console) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"identities": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return c.handleIdentities()
		}},
		"login": {
			minArgs: 2,
			usage:   "usage: login <identity>",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleLogin(ctx, parts[1])
			},
		},
		"token": {
			minArgs: 2,
			usage:   "usage: token <identity>",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleToken(ctx, parts[1])
			},
		},
		"tools": {
			minArgs: 2,
			usage:   "usage: tools <identity>",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleTools(ctx, parts[1])
			},
		},
		"call": {
			minArgs: 3,
			usage:   "usage: call <identity> <tool> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return c.handleCall(ctx, parts[1], parts[2], strings.Join(parts[3:], " "))
			},
		},
		"cache": {
			minArgs: 1,
			handler: func(ctx context.Context, parts []string) error {
				if len(parts) == 1 {
					return c.handleCacheShow()
				}
				if parts[1] == "clear" {
					if len(parts) > 2 {
						return c.handleCacheClearIdentity(parts[2])
					}
					return c.handleCacheClear()
				}
				return fmt.Errorf("unknown cache subcommand: %s. Use 'cache' or 'cache clear [identity]'", parts[1])
			},
		},
	}
}

// executeCommand parses and executes a command.
func (c *Console) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := c.handlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands.
func (c *Console) showHelp() error {
	fmt.Println("Available commands:")
	fmt.Println("  identities                   - List known identities and their cache state")
	fmt.Println("  login <identity>             - Authenticate an identity (uses the cache when fresh)")
	fmt.Println("  token <identity>             - Show the decoded access token claims")
	fmt.Println("  tools <identity>             - List MCP tools visible to an identity")
	fmt.Println("  call <identity> <tool> {json} - Call a tool as an identity with JSON arguments")
	fmt.Println("  cache                        - Show cached tokens")
	fmt.Println("  cache clear [identity]       - Drop all cached tokens, or one identity's")
	fmt.Println("  help, ?                      - Show this help message")
	fmt.Println("  exit, quit                   - Exit the console")
	fmt.Println()
	fmt.Println("Keyboard shortcuts:")
	fmt.Println("  TAB                          - Auto-complete commands and identities")
	fmt.Println("  ↑/↓ (arrow keys)             - Navigate command history")
	fmt.Println("  Ctrl+R                       - Search command history")
	fmt.Println("  Ctrl+C                       - Cancel current line")
	fmt.Println("  Ctrl+D                       - Exit console")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  login sr@zueggcom.it")
	fmt.Println("  call sr@zueggcom.it orders_list {\"region\": \"emea\"}")
	return nil
}
