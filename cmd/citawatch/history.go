package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmrobles/citawatch/internal/history"
	"github.com/jmrobles/citawatch/pkg/config"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reschedule attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.HistoryDBPath == "" {
			return fmt.Errorf("attempt history is disabled (CITAWATCH_HISTORY_DB_PATH is empty)")
		}

		repo, err := history.OpenSQLite(cmd.Context(), cfg.HistoryDBPath)
		if err != nil {
			return err
		}
		defer repo.Close()

		attempts, err := repo.ListRecent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no reschedule attempts recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ATTEMPTED AT\tTYPE\tOLD\tNEW\tRESULT")
		for _, a := range attempts {
			newStart := "-"
			if a.NewStart != nil {
				newStart = a.NewStart.Format(time.RFC3339)
			}
			result := "ok"
			if !a.Success {
				result = a.FailureReason
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.AttemptedAt.Format(time.RFC3339),
				a.Type,
				a.OldStart.Format(time.RFC3339),
				newStart,
				result,
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum attempts to show")
}
