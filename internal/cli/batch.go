package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/legiscrape/internal/metrics"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
	"github.com/ppiankov/legiscrape/internal/worker"
)

var (
	concurrency  int
	batchTimeout time.Duration
	batchFlags   runFlags
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Scrape several jurisdictions in parallel",
	Long: `Batch runs every module listed in a file (one per line, # comments
allowed) with its default scrapers. Jurisdictions run in parallel; each
one stays sequential and paced.

Example:
  legiscrape batch modules.txt
  legiscrape batch modules.txt --concurrency 4 --fastmode`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of jurisdictions run at once")
	batchCmd.Flags().DurationVar(&batchTimeout, "batch-timeout", 12*time.Hour, "total timeout for the batch")
	batchFlags.register(batchCmd.Flags())
}

// moduleRunner runs each module with its default scrapers. Runs share one
// metrics registry.
func moduleRunner(cfg model.Config, m *metrics.Metrics) worker.Runner {
	return worker.RunnerFunc(func(ctx context.Context, name string) (*model.RunReport, error) {
		mod, err := pipeline.LookupModule(name)
		if err != nil {
			return nil, err
		}
		plans, err := pipeline.ParseScraperArgs(mod, nil)
		if err != nil {
			return nil, err
		}
		runCfg := cfg
		runCfg.Scrape.Module = name
		return pipeline.NewUpdater(runCfg, mod, pipeline.WithMetrics(m)).Run(ctx, plans)
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	batchFlags.apply(cmd.Flags(), &cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  legiscrape batch\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Data dir:     %s\n", cfg.Output.DataDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	printed := make(map[string]bool)
	processor := worker.NewBatchProcessor(moduleRunner(cfg, metrics.New()), concurrency).
		OnProgress(func(r *worker.RunResult) {
			printed[r.Module] = true
			printResult(r)
		})
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	failures := 0
	for _, result := range results {
		if !printed[result.Module] {
			printResult(result)
		}
		if result.Error != nil {
			failures++
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d modules\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", len(results)-failures)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failures)
	fmt.Fprintf(os.Stderr, "\n")

	if failures > 0 {
		return fmt.Errorf("%d of %d modules failed", failures, len(results))
	}
	return nil
}

func printResult(result *worker.RunResult) {
	if result.Error != nil {
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Module, result.Error)
		return
	}
	fmt.Fprintf(os.Stderr, "✓ %s (%d objects in %v)\n", result.Module,
		totalObjects(result.Report), result.Report.End.Sub(result.Report.Start).Round(time.Second))
}

func totalObjects(r *model.RunReport) int {
	total := 0
	for _, n := range r.Objects() {
		total += n
	}
	return total
}
