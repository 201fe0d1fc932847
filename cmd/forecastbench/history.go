package main

import (
	"fmt"
	"text/tabwriter"

	"CryptoBeacon/internal/recorder"

	"github.com/spf13/cobra"
)

var (
	historySymbol string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent evaluation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			return err
		}
		defer rec.Close()

		runs, err := rec.RecentRuns(historySymbol, historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "FINISHED\tSYMBOL\tWINNER\tMAPE\tACTION\tFAILED\tRUN")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%s\t%d\t%s\n",
				r.FinishedAt.Format("2006-01-02 15:04"), r.Symbol, r.Winner, r.WinnerMAPE, r.Action, r.FailedCells, r.ID)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySymbol, "symbol", "", "only runs of this symbol")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs")
}
