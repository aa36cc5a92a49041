// Quetzal is an MCP-driven chat agent.
//
// It connects to one or more MCP tool servers (stdio subprocesses or
// HTTP endpoints), aggregates their tool catalogs, and drives a
// multi-hop tool-use loop against the Anthropic Messages API.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	quetzal init [dir]       Write an example config file
//	quetzal chat             Interactive chat session
//	quetzal ask <question>   Ask a single question
//	quetzal tools            List tools exported by configured servers
//	quetzal version          Print version and build information
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/quetzalai/quetzal/examples"
	"github.com/quetzalai/quetzal/internal/agent"
	"github.com/quetzalai/quetzal/internal/buildinfo"
	"github.com/quetzalai/quetzal/internal/config"
	"github.com/quetzalai/quetzal/internal/llm"
	"github.com/quetzalai/quetzal/internal/mcp"
	"github.com/quetzalai/quetzal/internal/rpclog"
	"github.com/quetzalai/quetzal/internal/sandbox"
	"github.com/quetzalai/quetzal/internal/trace"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand; the flag package's package-level globals get in the
// way of calling run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var debug bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-debug":
			debug = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "chat":
		return runChat(ctx, stdout, stderr, configPath, debug)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: quetzal ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, debug, strings.Join(cmdArgs, " "))
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, debug)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Quetzal - MCP chat agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: quetzal [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]   Write an example quetzal.yaml")
	fmt.Fprintln(w, "  chat         Interactive chat session")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  tools        List tools exported by configured servers")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -debug          Debug log level plus per-hop trace output")
	return nil
}

// runInit writes the embedded example config into dir. It refuses to
// clobber an existing file.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "quetzal.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; remove it first", path)
	}
	if err := os.WriteFile(path, examples.ConfigYAML, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	fmt.Fprintln(stdout, "Edit it, set ANTHROPIC_API_KEY, then run: quetzal chat")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// app bundles everything a subcommand needs after bootstrap.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	clients map[string]*mcp.Client
	engine  *agent.Engine
	wire    *rpclog.Writer
	store   *trace.Store
}

// bootstrap loads config, starts every configured MCP server, and
// wires the agent engine. Callers must invoke close when done.
func bootstrap(ctx context.Context, stderr io.Writer, configPath string, debug bool) (*app, error) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger := newLogger(stderr, level)
	logger.Info("config loaded", "path", cfgPath, "servers", len(cfg.Servers))

	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not configured")
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no MCP servers configured")
	}

	a := &app{cfg: cfg, logger: logger, clients: make(map[string]*mcp.Client)}

	sessionID := mcp.NewSessionID()
	if cfg.LogDir != "" {
		a.wire, err = rpclog.Open(cfg.LogDir, sessionID, logger)
		if err != nil {
			logger.Warn("wire log disabled", "error", err)
		}
	}
	if cfg.TraceDB != "" {
		a.store, err = trace.Open(cfg.TraceDB)
		if err != nil {
			logger.Warn("trace store disabled", "error", err)
		}
	}

	callers := make(map[string]agent.ToolCaller)
	for _, sc := range cfg.Servers {
		client, err := connectServer(ctx, sc, a.wire, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("server %s: %w", sc.Name, err)
		}
		a.clients[sc.Name] = client
		callers[sc.Name] = client
		logger.Info("server connected",
			"server", sc.Name,
			"tools", len(client.Tools()),
		)
	}

	registry, err := agent.NewRegistry(callers)
	if err != nil {
		a.close()
		return nil, err
	}

	var box *sandbox.Sandbox
	if len(cfg.Sandbox.Roots) > 0 {
		box, err = sandbox.New(cfg.Sandbox.Roots)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("sandbox: %w", err)
		}
	}

	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger,
		llm.WithMaxTokens(cfg.Agent.MaxTokens))

	a.engine, err = agent.New(agent.Config{
		LLM:          llmClient,
		Model:        cfg.Anthropic.Model,
		Tools:        registry,
		Sandbox:      box,
		Store:        a.store,
		MaxHops:      cfg.Agent.MaxHops,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// connectServer builds and starts the transport matching the server
// config: Command selects stdio, URL selects HTTP.
func connectServer(ctx context.Context, sc config.ServerConfig, wire *rpclog.Writer, logger *slog.Logger) (*mcp.Client, error) {
	var transport mcp.Transport
	if sc.Command != "" {
		transport = mcp.NewStdioTransport(mcp.StdioConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Logger:  logger,
		})
	} else {
		transport = mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Logger:  logger,
		})
	}

	client := mcp.NewClient(transport, mcp.ClientConfig{
		Name:    sc.Name,
		WireLog: wire,
		Logger:  logger,
	})
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) close() {
	for name, c := range a.clients {
		if err := c.Close(); err != nil {
			a.logger.Warn("client close failed", "server", name, "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("trace store close failed", "error", err)
	}
	if err := a.wire.Close(); err != nil {
		a.logger.Warn("wire log close failed", "error", err)
	}
}

func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, debug bool, question string) error {
	a, err := bootstrap(ctx, stderr, configPath, debug)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.ChatTurn(ctx, nil, question)
	if err != nil {
		return err
	}
	printResult(stdout, result, debug)
	return nil
}

func runChat(ctx context.Context, stdout, stderr io.Writer, configPath string, debug bool) error {
	a, err := bootstrap(ctx, stderr, configPath, debug)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintln(stdout, "Quetzal chat. Type a message, or /quit to exit.")
	return chatLoop(ctx, stdout, a, debug)
}

// chatLoop reads lines from stdin and runs one turn per line,
// carrying the conversation forward between turns.
func chatLoop(ctx context.Context, stdout io.Writer, a *app, debug bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	var history []llm.Message

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		result, err := a.engine.ChatTurn(ctx, history, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "error: %s\n", err)
			continue
		}
		history = result.Messages
		printResult(stdout, result, debug)
	}
}

func printResult(w io.Writer, result *agent.TurnResult, debug bool) {
	fmt.Fprintln(w, result.Answer)
	if !debug {
		return
	}
	fmt.Fprintf(w, "[%s: %d hop(s), %d in / %d out tokens, session %s]\n",
		result.State, result.Hops, result.InputTokens, result.OutputTokens, result.Session)
	for _, ht := range result.Trace {
		fmt.Fprintf(w, "  hop %d: tools=%v text=%dB elapsed=%s\n",
			ht.Hop, ht.ToolCalls, ht.TextLen, ht.Elapsed.Round(1e6))
	}
}

func runTools(ctx context.Context, stdout, stderr io.Writer, configPath string, debug bool) error {
	a, err := bootstrap(ctx, stderr, configPath, debug)
	if err != nil {
		return err
	}
	defer a.close()

	for name, client := range a.clients {
		info := client.ServerInfo()
		fmt.Fprintf(stdout, "%s (%s %s):\n", name, info.Name, info.Version)
		for _, def := range client.Tools() {
			fmt.Fprintf(stdout, "  %-16s %s\n", def.Name, def.Description)
		}
	}
	return nil
}
