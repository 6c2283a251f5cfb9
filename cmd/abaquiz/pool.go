package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/abaquiz/backend/internal/pool"
)

var distCount int

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolStatsCmd)
	poolCmd.AddCommand(poolReplenishCmd)
	poolCmd.AddCommand(poolDistributionCmd)

	poolDistributionCmd.Flags().IntVar(&distCount, "count", 0, "Total to distribute (defaults to pool.batch_size)")
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and replenish the question pool",
}

var poolStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool health and per-area counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Pool.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, stats)
		}

		fmt.Fprintf(out, "Status: %s (%s)\n", stats.Status, stats.Message)
		fmt.Fprintf(out, "Questions: %d  Active users: %d  Avg unseen: %.1f  Threshold: %d\n",
			stats.Health.TotalQuestions, stats.Health.ActiveUsers, stats.Health.AvgUnseen, stats.Threshold)
		fmt.Fprintf(out, "Replenishment needed: %t\n\n", stats.Needed)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "AREA\tCOUNT\tTARGET\tWEIGHT")
		for _, s := range stats.Areas {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\n", s.Area, s.Count, s.Target, s.Weight*100)
		}
		return tw.Flush()
	},
}

var poolReplenishCmd = &cobra.Command{
	Use:   "replenish",
	Short: "Run one pool check now and generate if it is low",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.Pool.Begin(false)
		if err != nil {
			return err
		}
		result, err := a.Pool.Replenish(cmd.Context(), p)
		a.Pool.End(p)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, result)
		}
		if !result.Needed {
			fmt.Fprintf(out, "Pool sufficient: avg unseen %.1f across %d active users.\n", result.AvgUnseen, result.ActiveUsers)
			return nil
		}
		fmt.Fprintf(out, "Generated %d questions.\n", result.Generated)
		for area, msg := range result.Errors {
			fmt.Fprintf(out, "  %s: %s\n", area, msg)
		}
		return nil
	},
}

var poolDistributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Show how a batch would be split across content areas",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Pool.Config()
		count := distCount
		if count <= 0 {
			count = cfg.BatchSize
		}
		dist := pool.Distribution(count, cfg.Weights)

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, dist)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "AREA\tWEIGHT\tCOUNT")
		for _, ac := range dist {
			fmt.Fprintf(tw, "%s\t%.0f%%\t%d\n", ac.Area, cfg.Weights[ac.Area]*100, ac.Count)
		}
		fmt.Fprintf(tw, "TOTAL\t\t%d\n", count)
		return tw.Flush()
	},
}
