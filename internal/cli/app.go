package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/internal/config"
	"github.com/harun/agentfactory/internal/logger"
	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/agent"
)

// app is the configured process state shared by the commands
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger
	audit  bool
}

// loadConfig loads the config file and applies the persistent flags
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.provider != "" {
		cfg.Agent.Provider = strings.ToLower(opts.provider)
	}
	return cfg, nil
}

// setup loads and validates the config, then starts logging, the audit log
// and tracing
func setup(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Out:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, log: log, logger: log.GetZerolog()}

	if cfg.Factory.AuditLogPath != "" {
		if err := observability.InitAuditLogger(cfg.Factory.AuditLogPath); err != nil {
			_ = log.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		rt.audit = true
	}

	if err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		rt.logger.Warn().Err(err).Msg("Tracing disabled")
	}

	return rt, nil
}

func (rt *app) close(ctx context.Context) {
	if err := tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	if rt.audit {
		_ = observability.GetAuditLogger().Close()
	}
	_ = rt.log.Close()
}

// provider builds the configured model provider. The scripted provider
// answers with script when one is given.
func (rt *app) provider(script agent.ScriptFunc) (agent.LLMProvider, error) {
	if rt.cfg.Agent.Provider == "scripted" && script != nil {
		return agent.NewScriptedProviderFunc(script), nil
	}
	return agent.NewProvider(agent.ProviderConfig{
		Name:    rt.cfg.Agent.Provider,
		APIKey:  rt.cfg.APIKey(),
		BaseURL: rt.cfg.Agent.BaseURL,
	})
}

// clientConfig maps the agent section onto a client configuration
func (rt *app) clientConfig(provider agent.LLMProvider) agent.ClientConfig {
	a := rt.cfg.Agent
	return agent.ClientConfig{
		Provider:           provider,
		Model:              a.Model,
		Temperature:        a.Temperature,
		MaxTokens:          a.MaxTokens,
		MaxRetries:         a.MaxRetries,
		MaxToolTurns:       a.MaxToolTurns,
		ContextLimit:       a.ContextLimit,
		ToolTimeout:        rt.cfg.ToolTimeout(),
		EventBuffer:        a.EventBuffer,
		MaxConcurrentTurns: a.MaxConcurrentTurns,
		Logger:             rt.logger,
	}
}

// reportMissingDependency prints setup instructions when no provider can
// be built and passes err through
func reportMissingDependency(w io.Writer, err error) error {
	if !errors.Is(err, agent.ErrMissingDependency) {
		return err
	}
	fmt.Fprintf(w, `Agent provider unavailable: %v

Configure one of:
  export OPENAI_API_KEY=sk-...           (provider openai, the default)
  export ANTHROPIC_API_KEY=sk-ant-...    (with --provider anthropic)
  factory config init                    (then edit $HOME/.factory/factory.json)

Or run offline with --provider scripted.
`, err)
	return err
}
