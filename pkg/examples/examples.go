// Package examples runs the single-session demos of the agent client: a
// plain exchange, streaming, custom tools, an MCP server and custom agents.
package examples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// Example names accepted by Run
const (
	Basic        = "basic"
	Streaming    = "streaming"
	CustomTools  = "tools"
	MCPServer    = "mcp"
	CustomAgents = "agents"
)

// Names lists every example in presentation order
var Names = []string{Basic, Streaming, CustomTools, MCPServer, CustomAgents}

// ErrUnknownExample is returned by Run for a name not in Names
var ErrUnknownExample = errors.New("unknown example")

// Prompts sent by the examples
const (
	basicPrompt       = "Describe the cyberpunk style in one sentence."
	streamingPrompt   = "Write a haiku about programming."
	customToolsPrompt = "First fetch the blog categories, then generate a 4-section outline for the topic \"Decentralized Web3 technology\"."
	mcpPrompt         = "Read README.md and summarize it."
	customAgentPrompt = "@blogsys-writer Write the opening paragraph of a post about the future of AI-assisted programming, under 200 words."
)

// DefaultMCPServers is the filesystem server used by the MCP example
var DefaultMCPServers = map[string]agent.MCPServerConfig{
	"filesystem": {
		Type:    "local",
		Command: "npx",
		Args:    []string{"-y", "@anthropic/mcp-filesystem", "./"},
		Tools:   []string{"*"},
	},
}

// Runner runs examples against a started client
type Runner struct {
	Client *agent.Client
	Out    io.Writer
	// Model overrides the client default when set
	Model string
	// WorkspaceRoot confines the read_file and search_code tools of the
	// custom agents example. Defaults to ".".
	WorkspaceRoot string
	// MCPServers overrides DefaultMCPServers
	MCPServers map[string]agent.MCPServerConfig
	Logger     zerolog.Logger
}

// Run runs the named example
func (r *Runner) Run(ctx context.Context, name string) error {
	if r.Client == nil {
		return fmt.Errorf("%w: agent client is required", agent.ErrMissingDependency)
	}
	if r.Out == nil {
		r.Out = io.Discard
	}

	logger := r.Logger.With().Str("component", "examples").Str("example", name).Logger()
	logger.Info().Msg("Running example")

	var err error
	switch name {
	case Basic:
		_, err = r.basic(ctx)
	case Streaming:
		err = r.streaming(ctx)
	case CustomTools:
		err = r.customTools(ctx)
	case MCPServer:
		err = r.mcpServer(ctx)
	case CustomAgents:
		err = r.customAgents(ctx)
	default:
		return fmt.Errorf("%w: %q (choose one of: %s)", ErrUnknownExample, name, strings.Join(Names, ", "))
	}
	if err != nil {
		logger.Error().Err(err).Msg("Example failed")
		return fmt.Errorf("example %s: %w", name, err)
	}
	logger.Info().Msg("Example finished")
	return nil
}

// RunAll runs every example except MCP, which needs an external server
func (r *Runner) RunAll(ctx context.Context) error {
	for _, name := range Names {
		if name == MCPServer {
			continue
		}
		if err := r.Run(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// withSession creates a session, runs fn and destroys the session
func (r *Runner) withSession(ctx context.Context, opts agent.SessionOptions, fn func(*agent.Session) error) error {
	if opts.Model == "" {
		opts.Model = r.Model
	}
	sess, err := r.Client.CreateSession(ctx, opts)
	if err != nil {
		return err
	}
	runErr := fn(sess)
	if err := sess.Destroy(ctx); err != nil && !errors.Is(err, agent.ErrSessionClosed) {
		return errors.Join(runErr, err)
	}
	return runErr
}

// drain sends prompt and hands each event of the turn to onEvent until the
// session is idle
func drain(ctx context.Context, sess *agent.Session, prompt string, onEvent func(agent.Event)) error {
	if err := sess.Send(ctx, prompt); err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return agent.ErrSessionClosed
			}
			onEvent(ev)
			switch ev.Type {
			case agent.EventSessionIdle:
				return nil
			case agent.EventSessionError:
				return errors.New(ev.Data.Error)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) basic(ctx context.Context) (string, error) {
	fmt.Fprintln(r.Out, "== Example 1: basic conversation ==")

	var reply string
	err := r.withSession(ctx, agent.SessionOptions{Name: "basic"}, func(sess *agent.Session) error {
		var err error
		reply, err = sess.SendAndWait(ctx, basicPrompt)
		return err
	})
	if err != nil {
		return "", err
	}
	fmt.Fprintf(r.Out, "AI: %s\n", reply)
	return reply, nil
}

func (r *Runner) streaming(ctx context.Context) error {
	fmt.Fprintln(r.Out, "== Example 2: streaming ==")

	return r.withSession(ctx, agent.SessionOptions{Name: "streaming", Streaming: true}, func(sess *agent.Session) error {
		fmt.Fprint(r.Out, "AI: ")
		err := drain(ctx, sess, streamingPrompt, func(ev agent.Event) {
			if ev.Type == agent.EventMessageDelta {
				fmt.Fprint(r.Out, ev.Data.DeltaContent)
			}
		})
		fmt.Fprintln(r.Out)
		return err
	})
}

func (r *Runner) customTools(ctx context.Context) error {
	fmt.Fprintln(r.Out, "== Example 3: custom tools ==")

	opts := agent.SessionOptions{
		Name:      "blog-tools",
		Streaming: true,
		Tools:     coretools.BlogTools(),
	}
	return r.withSession(ctx, opts, func(sess *agent.Session) error {
		err := drain(ctx, sess, customToolsPrompt, func(ev agent.Event) {
			switch ev.Type {
			case agent.EventMessageDelta:
				fmt.Fprint(r.Out, ev.Data.DeltaContent)
			case agent.EventToolStart:
				fmt.Fprintf(r.Out, "\n[tool] %s\n", ev.Data.ToolName)
			}
		})
		fmt.Fprintln(r.Out)
		return err
	})
}

func (r *Runner) mcpServer(ctx context.Context) error {
	fmt.Fprintln(r.Out, "== Example 4: MCP server ==")

	servers := r.MCPServers
	if servers == nil {
		servers = DefaultMCPServers
	}
	ids := make([]string, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(r.Out, "MCP servers: %s\n", strings.Join(ids, ", "))

	opts := agent.SessionOptions{Name: "mcp", MCPServers: servers}
	return r.withSession(ctx, opts, func(sess *agent.Session) error {
		return drain(ctx, sess, mcpPrompt, func(ev agent.Event) {
			switch ev.Type {
			case agent.EventToolStart:
				fmt.Fprintf(r.Out, "[tool] %s\n", ev.Data.ToolName)
			case agent.EventMessage:
				if ev.Data.Content != "" {
					fmt.Fprintf(r.Out, "AI: %s\n", ev.Data.Content)
				}
			}
		})
	})
}

func (r *Runner) customAgents(ctx context.Context) error {
	fmt.Fprintln(r.Out, "== Example 5: custom agents ==")

	root := r.WorkspaceRoot
	if root == "" {
		root = "."
	}
	tools := append([]toolexecutor.ToolDefinition{}, coretools.BlogTools()...)
	tools = append(tools, coretools.WorkspaceTools(root)...)

	opts := agent.SessionOptions{
		Name:         "blogsys",
		Streaming:    true,
		Tools:        tools,
		CustomAgents: BlogAgents(),
	}
	return r.withSession(ctx, opts, func(sess *agent.Session) error {
		err := drain(ctx, sess, customAgentPrompt, func(ev agent.Event) {
			if ev.Type == agent.EventMessageDelta {
				fmt.Fprint(r.Out, ev.Data.DeltaContent)
			}
		})
		fmt.Fprintln(r.Out)
		return err
	})
}

// BlogAgents returns the personas of the custom agents example
func BlogAgents() []agent.CustomAgentConfig {
	return []agent.CustomAgentConfig{
		{
			Name:        "blogsys-writer",
			DisplayName: "BlogSys Writer",
			Description: "Cyberpunk-style blog writer for BlogSys",
			Prompt: `You are the BlogSys content writer.

Style: cyberpunk, hacker terminal. Use technical vocabulary (digital space,
neon, terminal) while staying professional and readable. Structure posts
clearly in Markdown.

Palette: primary #00FF99, secondary #FFD700, accent #FF00FF.`,
			Infer: true,
		},
		{
			Name:        "code-reviewer",
			DisplayName: "Code Reviewer",
			Description: "Code reviewer for the BlogSys project",
			Prompt: `You review BlogSys code for quality, React/Next.js conventions,
TypeScript type safety, Tailwind CSS usage and performance.

Report findings as strengths, suggested improvements and problems, each with
a concrete code change.`,
			Tools: []string{"read_file", "search_code"},
			Infer: true,
		},
	}
}
