package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"CryptoBeacon/internal/report"

	"github.com/spf13/cobra"
)

var (
	runSymbol string
	runOut    string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every configured model on one symbol",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, runOut)
		if err != nil {
			return err
		}
		defer a.Close()

		symbol := runSymbol
		if symbol == "" {
			symbol = cfg.DataSource.Symbols[0]
		}
		res, err := a.service.Evaluate(ctx, symbol)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if runJSON {
			data, err := report.JSON(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		fmt.Fprint(out, report.Render(res))
		for _, loc := range res.Artifacts {
			fmt.Fprintf(out, "\nsaved: %s", loc)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "symbol to evaluate (default: first configured)")
	runCmd.Flags().StringVar(&runOut, "out", "", "report directory (default: report.output_dir)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the machine-readable ranking instead of markdown")
}
