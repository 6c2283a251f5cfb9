package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/models"
	"github.com/abaquiz/backend/internal/pool"
)

var (
	seedCount     int
	seedArea      string
	seedSkipDedup bool
	seedDryRun    bool
	seedResume    bool
	seedYes       bool
)

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedCount, "count", 200, "Number of questions to generate")
	seedCmd.Flags().StringVar(&seedArea, "area", "", "Generate only for this content area (name or alias)")
	seedCmd.Flags().BoolVar(&seedSkipDedup, "skip-dedup", false, "Skip duplicate checks (faster for an empty pool)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Show the plan and cost estimate without generating")
	seedCmd.Flags().BoolVar(&seedResume, "resume", false, "Only fill what is missing from a previous run")
	seedCmd.Flags().BoolVarP(&seedYes, "yes", "y", false, "Do not ask for confirmation")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the question pool to an explicit size",
	Long: `Generate questions across content areas by exam weight, or into a
single area, regardless of pool health.

Examples:
  # Preview cost for the default 200 questions
  abaquiz seed --dry-run

  # Seed an empty pool quickly
  abaquiz seed --count 500 --skip-dedup --yes

  # Continue after a rate-limit interruption
  abaquiz seed --count 500 --resume`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedCount < 0 {
		return fmt.Errorf("--count must be >= 0")
	}
	var area *models.ContentArea
	if seedArea != "" {
		a, err := models.ParseContentArea(seedArea)
		if err != nil {
			return err
		}
		area = &a
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := pool.SeedOptions{
		Count:     seedCount,
		Area:      area,
		SkipDedup: seedSkipDedup,
		DryRun:    seedDryRun,
		Resume:    seedResume,
	}
	out := cmd.OutOrStdout()

	a.ValidateContent(ctx)
	plan, err := a.Seeder.Plan(ctx, opts)
	if err != nil {
		return err
	}
	if !outputJSON {
		printPlan(out, plan)
	}
	if seedDryRun {
		if outputJSON {
			return printJSON(out, plan)
		}
		fmt.Fprintln(out, "\nDry run, nothing generated.")
		return nil
	}
	if plan.Total == 0 {
		fmt.Fprintln(out, "Nothing to generate, every area already has its share.")
		return a.Seeder.ClearState()
	}
	if !seedYes && !confirm(cmd.InOrStdin(), out, "Proceed?") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	p, err := a.Pool.Begin(seedSkipDedup)
	if err != nil {
		return err
	}
	// A signal asks the run to wind down; accepted questions are kept.
	go func() {
		<-ctx.Done()
		p.RequestCancel()
	}()

	done := make(chan struct{})
	if !outputJSON {
		go watchProgress(cmd.ErrOrStderr(), p, done)
	}
	result, runErr := a.Seeder.Run(context.WithoutCancel(ctx), opts, p)
	close(done)
	a.Pool.End(p)

	if result != nil {
		if outputJSON {
			if err := printJSON(out, result); err != nil {
				return err
			}
		} else {
			printResult(out, result, a.LLM.TotalUsage())
		}
	}
	if errors.Is(runErr, llm.ErrPersistentRateLimit) {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nRate limited by the LLM provider. Progress was saved; resume later with the same command and --resume.")
	}
	return runErr
}

func printPlan(w io.Writer, plan *pool.SeedPlan) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AREA\tCOUNT")
	for _, ac := range plan.Distribution {
		fmt.Fprintf(tw, "%s\t%d\n", ac.Area, ac.Count)
	}
	for _, area := range plan.Skipped {
		fmt.Fprintf(tw, "%s\tdone\n", area)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\n", plan.Total)
	tw.Flush()

	est := plan.Estimate
	fmt.Fprintf(w, "\nEstimated cost: %s (%d generation calls %s", dollars(est.TotalCost), est.GenerationCalls, dollars(est.GenerationCost))
	if plan.SkipDedup {
		fmt.Fprintln(w, ", dedup skipped)")
	} else {
		fmt.Fprintf(w, ", %d dedup checks %s)\n", est.DedupCalls, dollars(est.DedupCost))
	}
}

func printResult(w io.Writer, r *pool.SeedResult, usage llm.Usage) {
	fmt.Fprintf(w, "\nStatus: %s\n", r.Status)
	fmt.Fprintf(w, "Generated %d of %d in %s\n", r.Generated, r.Plan.Total, r.Elapsed.Round(time.Second))
	for _, ac := range r.Plan.Distribution {
		line := fmt.Sprintf("  %-35s %d/%d", ac.Area, r.ByArea[ac.Area], ac.Count)
		if msg, ok := r.Errors[ac.Area]; ok {
			line += "  error: " + msg
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Tokens: %d in, %d out\n", usage.InputTokens, usage.OutputTokens)
	fmt.Fprintf(w, "Pool size: %d\n", r.FinalPoolSize)
}

func watchProgress(w io.Writer, p *pool.Progress, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := p.Snapshot()
			fmt.Fprintf(w, "[%ds] %d/%d generated, %d duplicates, %d errors, ~%s\n",
				s.ElapsedSeconds, s.Generated, s.Total, s.Duplicates, s.Errors, dollars(s.Cost))
		}
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
