package cli

import (
	"context"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	cfgFile  string
	logLevel string
	provider string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "factory",
		Short: "Agent Factory - multi-agent development cycle",
		Long: `Agent Factory runs a supervisor, three workers and a tester as agent
sessions sharing one task store. The supervisor breaks a requirement into
tasks, workers claim and complete them in parallel, and the tester verifies
the result.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.factory/factory.json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&opts.provider, "provider", "", "agent provider (anthropic, openai, scripted); overrides the config")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newRunCmd(opts),
		newExampleCmd(opts),
		newToolsCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// Execute runs the command line. It is called by main.main().
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return newRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
