package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/gateway"
	"github.com/harun/agentfactory/pkg/orchestrator"
	"github.com/harun/agentfactory/pkg/session"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

type runOptions struct {
	maxIterations int
	agentTimeout  time.Duration
	workspace     string
	gateway       bool
	jsonOutput    bool
	noArchive     bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <requirement...>",
		Short: "Run one development cycle for a requirement",
		Long: `Run one development cycle: the supervisor creates tasks for the
requirement, the workers claim and complete them in parallel, and the tester
verifies the result. Pending work is retried up to --max-iterations times.`,
		Example: `  factory run "Build a landing page with a signup form"
  factory run --provider scripted --json "Add a pricing table"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, global, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "retry bound for pending work (default from config)")
	cmd.Flags().DurationVar(&opts.agentTimeout, "agent-timeout", 0, "timeout for each agent call, e.g. 2m (default from config)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", "", "directory that receives the files written by the workers")
	cmd.Flags().BoolVar(&opts.gateway, "gateway", false, "serve live task and agent events over the event gateway")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&opts.noArchive, "no-archive", false, "do not record tasks in the history archive")

	return cmd
}

func runCycle(cmd *cobra.Command, global *globalOptions, opts *runOptions, requirement string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(cmd, global)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	cfg := rt.cfg
	if opts.maxIterations > 0 {
		cfg.Factory.MaxIterations = opts.maxIterations
	}
	agentTimeout := cfg.AgentTimeout()
	if opts.agentTimeout > 0 {
		agentTimeout = opts.agentTimeout
	}
	if opts.workspace != "" {
		cfg.Factory.WorkspaceDir = opts.workspace
	}
	if opts.gateway {
		cfg.Gateway.Enabled = true
	}

	logger := rt.log.Component("cli")
	agents := orchestrator.DefaultAgents()

	provider, err := rt.provider(orchestrator.OfflineScript(agents))
	if err != nil {
		return reportMissingDependency(cmd.ErrOrStderr(), err)
	}

	store := task.NewStore(task.StoreConfig{Logger: rt.logger})
	toolset := coretools.New(store, coretools.Options{
		WorkspaceRoot: cfg.Factory.WorkspaceDir,
		Logger:        rt.logger,
	})

	runID := tracing.NewRunID()
	tracker := subagent.New(subagent.Config{
		RegistryPath: cfg.Factory.RunRegistryPath,
		CycleID:      runID,
		Logger:       rt.logger,
	})
	if err := tracker.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize run tracker: %w", err)
	}
	defer func() { _ = tracker.Close() }()

	if !opts.noArchive && cfg.Factory.ArchivePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Factory.ArchivePath), 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		archive, err := task.OpenArchive(task.ArchiveConfig{DBPath: cfg.Factory.ArchivePath, Logger: rt.logger})
		if err != nil {
			return err
		}
		defer func() { _ = archive.Close() }()
		archive.Attach(store, runID)
	}

	var sinks agent.MultiSink
	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Addr:         cfg.GatewayAddr(),
			SharedSecret: cfg.Gateway.SharedSecret,
			TickInterval: time.Duration(cfg.Gateway.TickInterval) * time.Second,
			OutboxSize:   cfg.Gateway.OutboxSize,
			Store:        store,
			Tracker:      tracker,
			Logger:       rt.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		if err := gw.Start(ctx); err != nil {
			return fmt.Errorf("failed to start gateway: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = gw.Stop(stopCtx)
		}()
		fmt.Fprintf(cmd.ErrOrStderr(), "Gateway listening on %s\n", gw.Addr())
		sinks = append(sinks, gw)
	}

	clientCfg := rt.clientConfig(provider)
	if len(sinks) > 0 {
		clientCfg.Sink = sinks
	}
	if cfg.Factory.TranscriptDir != "" {
		transcripts, err := session.New(cfg.Factory.TranscriptDir)
		if err != nil {
			return fmt.Errorf("failed to open transcript directory: %w", err)
		}
		clientCfg.Transcripts = transcripts
	}

	client, err := agent.NewClient(clientCfg)
	if err != nil {
		return reportMissingDependency(cmd.ErrOrStderr(), err)
	}

	coordinator, err := orchestrator.New(orchestrator.Config{
		Client:        orchestrator.WrapClient(client),
		Toolset:       toolset,
		Tracker:       tracker,
		Agents:        agents,
		Model:         cfg.Agent.Model,
		MaxIterations: cfg.Factory.MaxIterations,
		AgentTimeout:  agentTimeout,
		Logger:        rt.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Coordinator shutdown incomplete")
		}
	}()

	if err := coordinator.Initialize(ctx); err != nil {
		return err
	}

	logger.Info().Str("run_id", runID).Str("provider", cfg.Agent.Provider).Msg("Starting development cycle")

	report, err := coordinator.Run(tracing.WithRunID(ctx, runID), requirement)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.Render(out)
}
