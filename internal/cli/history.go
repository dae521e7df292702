package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agentfactory/pkg/task"
)

func newHistoryCmd(global *globalOptions) *cobra.Command {
	var (
		runID      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show tasks archived by previous runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			path := cfg.Factory.ArchivePath
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(out, "No archived tasks.")
				return nil
			}

			archive, err := task.OpenArchive(task.ArchiveConfig{DBPath: path, Logger: zerolog.Nop()})
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			rows, err := archive.List(cmd.Context(), runID, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No archived tasks.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tTASK\tTYPE\tSTATUS\tASSIGNEE\tUPDATED\tDESCRIPTION")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					row.RunID, row.ID, row.Type, row.Status, row.Assignee,
					row.UpdatedAt.Format("2006-01-02 15:04:05"), row.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only show tasks of this run")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the tasks as JSON")
	return cmd
}
