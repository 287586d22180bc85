package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signforge/signforge/pkg/runlog"
)

// newHistoryCmd prints recent run-ledger entries.
func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rebuild decisions from the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := runlog.Open()
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.RecentEntries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no recorded runs")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tTASK\tREBUILD\tREASON")
			for _, entry := range entries {
				rebuild := "-"
				if entry.Rebuild {
					rebuild = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					entry.RunID,
					entry.StartedAt.Format("2006-01-02 15:04"),
					entry.TaskName,
					rebuild,
					entry.Reason,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print")
	return cmd
}
