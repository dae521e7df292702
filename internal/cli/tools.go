package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/task"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

func newToolsCmd(_ *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := task.NewStore(task.StoreConfig{Logger: zerolog.Nop()})
			factory := coretools.New(store, coretools.Options{Logger: zerolog.Nop()}).Definitions()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Factory tools:")
			if err := printTools(out, factory); err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Example tools:")
			examples := append(coretools.BlogTools(), coretools.WorkspaceTools(".")...)
			return printTools(out, examples)
		},
	}
}

func printTools(out io.Writer, defs []toolexecutor.ToolDefinition) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tPARAMETERS\tDESCRIPTION")
	for _, def := range defs {
		params := make([]string, 0, len(def.Parameters))
		for _, p := range def.Parameters {
			name := p.Name
			if !p.Required {
				name += "?"
			}
			params = append(params, name)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", def.Name, strings.Join(params, ", "), def.Description)
	}
	return w.Flush()
}
