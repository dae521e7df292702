package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/examples"
)

func newExampleCmd(global *globalOptions) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "example [name|all]",
		Short: "Run an agent client example",
		Long: fmt.Sprintf(`Run one of the single-session agent client examples.

Available examples: %s. "all" runs every example except mcp, which needs
an external MCP server.`, strings.Join(examples.Names, ", ")),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: append(append([]string{}, examples.Names...), "all"),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			return runExample(cmd, global, name, workspace)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", ".", "directory read by the custom agents example")
	return cmd
}

func runExample(cmd *cobra.Command, global *globalOptions, name, workspace string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(cmd, global)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	provider, err := rt.provider(nil)
	if err != nil {
		return reportMissingDependency(cmd.ErrOrStderr(), err)
	}

	client, err := agent.NewClient(rt.clientConfig(provider))
	if err != nil {
		return reportMissingDependency(cmd.ErrOrStderr(), err)
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Stop(context.Background()) }()

	runner := &examples.Runner{
		Client:        client,
		Out:           cmd.OutOrStdout(),
		Model:         rt.cfg.Agent.Model,
		WorkspaceRoot: workspace,
		Logger:        rt.logger,
	}
	if name == "all" {
		return runner.RunAll(ctx)
	}
	return runner.Run(ctx, name)
}
