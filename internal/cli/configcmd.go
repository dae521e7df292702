package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/internal/config"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, create or validate the configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(global),
		newConfigInitCmd(global),
		newConfigValidateCmd(global),
	)
	return cmd
}

func newConfigShowCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
}

func newConfigInitCmd(global *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(global.cfgFile)
			path := loader.GetConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			if err := loader.Save(config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set OPENAI_API_KEY or ANTHROPIC_API_KEY, or use --provider scripted to run offline.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigValidateCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}

			problems := config.NewValidator().ValidateConfig(cfg)
			if err := cfg.Validate(); err != nil && len(problems) == 0 {
				problems = append(problems, err)
			}
			if len(problems) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
				return nil
			}

			for _, p := range problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", p)
			}
			return errors.Join(problems...)
		},
	}
}
