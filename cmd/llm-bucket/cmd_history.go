package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/divyekant/llm-bucket/internal/runlog"
	"github.com/divyekant/llm-bucket/pkg/llmbucket"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs recorded with sync --history",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().String("db", "", "Run history database")
	cmd.Flags().Int("limit", 10, "Number of runs to show")
	cmd.Flags().Int("keep", 0, "Delete all but the N most recent runs before listing")
	cmd.MarkFlagRequired("db")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	limit, _ := cmd.Flags().GetInt("limit")
	keep, _ := cmd.Flags().GetInt("keep")

	if keep > 0 {
		store, err := runlog.Open(dbPath)
		if err != nil {
			return err
		}
		err = store.Prune(cmd.Context(), keep)
		store.Close()
		if err != nil {
			return err
		}
	}

	entries, err := llmbucket.History(cmd.Context(), dbPath, limit)
	if err != nil {
		return err
	}

	return writeOutput(cmd, entries, func() {
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("no runs recorded"))
			return
		}
		for _, e := range entries {
			status := okStyle.Render("ok")
			if e.Failed > 0 {
				status = failStyle.Render(fmt.Sprintf("%d failed", e.Failed))
			}
			fmt.Fprintf(out, "%s  %s  %d sources  %s  %s\n",
				e.StartedAt.Local().Format("2006-01-02 15:04:05"),
				mutedStyle.Render(e.ID[:8]),
				e.Total,
				e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond),
				status)
			for _, src := range e.Sources {
				if src.Success {
					continue
				}
				fmt.Fprintf(out, "    %s %s  %s/%s: %s\n",
					failStyle.Render("✗"), src.Source, src.Stage, src.ErrorKind, truncateText(src.Error, 120))
			}
		}
	})
}
