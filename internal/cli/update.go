package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
)

// runFlags are the per-run options shared by update and batch
type runFlags struct {
	scrape    bool
	imp       bool
	nonstrict bool
	fast      bool
	dataDir   string
	cacheDir  string
	rpm       int
	timeout   time.Duration
	noVerify  bool
	retries   int
	retryWait time.Duration
	realtime  bool
	broker    string
	backfill  []string
	archive   bool
	handler   string
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.scrape, "scrape", false, "run the scrape phase")
	fs.BoolVar(&f.imp, "import", false, "run the import phase")
	fs.BoolVar(&f.nonstrict, "nonstrict", false, "log validation failures instead of aborting")
	fs.BoolVar(&f.fast, "fastmode", false, "cache responses, skip rate limiting and unchanged bills")
	fs.StringVar(&f.dataDir, "datadir", "", "directory for scraped JSON")
	fs.StringVar(&f.cacheDir, "cachedir", "", "directory for the fast-mode response cache")
	fs.IntVar(&f.rpm, "rpm", 0, "requests per minute per host")
	fs.DurationVar(&f.timeout, "timeout", 0, "HTTP timeout")
	fs.BoolVar(&f.noVerify, "no-verify", false, "skip TLS certificate verification")
	fs.IntVar(&f.retries, "retries", 0, "retries after a connection error")
	fs.DurationVar(&f.retryWait, "retry_wait", 0, "initial retry backoff")
	fs.BoolVar(&f.realtime, "realtime", false, "stream records to blob storage and the notification queue")
	fs.StringVar(&f.broker, "broker", "", "NATS URL to publish records to")
	fs.StringSliceVar(&f.backfill, "backfill", nil, "extra sessions to scrape (\"all\" for every declared session)")
	fs.BoolVar(&f.archive, "archive", false, "copy the data directory to the archive bucket after the scrape")
	fs.StringVar(&f.handler, "handler", "", "send records to a named output handler instead")
}

// apply overlays the flags the user set onto cfg
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *model.Config) {
	switch {
	case f.scrape && f.imp:
		cfg.Scrape.Actions = []string{pipeline.ActionScrape, pipeline.ActionImport}
	case f.scrape:
		cfg.Scrape.Actions = []string{pipeline.ActionScrape}
	case f.imp:
		cfg.Scrape.Actions = []string{pipeline.ActionImport}
	}

	if f.nonstrict {
		cfg.Scrape.Strict = false
	}
	if f.fast {
		cfg.Scrape.Fast = true
	}
	if fs.Changed("datadir") {
		cfg.Output.DataDir = f.dataDir
	}
	if fs.Changed("cachedir") {
		cfg.Cache.Dir = f.cacheDir
	}
	if fs.Changed("rpm") {
		cfg.HTTP.RequestsPerMin = f.rpm
	}
	if fs.Changed("timeout") {
		cfg.HTTP.Timeout = f.timeout
	}
	if f.noVerify {
		cfg.HTTP.VerifyTLS = false
	}
	if fs.Changed("retries") {
		cfg.Resilience.MaxRetries = f.retries
	}
	if fs.Changed("retry_wait") {
		cfg.Resilience.InitialBackoff = f.retryWait
	}
	if f.realtime {
		cfg.Realtime.Enabled = true
	}
	if fs.Changed("broker") {
		cfg.Broker.URL = f.broker
	}
	if len(f.backfill) > 0 {
		cfg.Scrape.Backfill = f.backfill
	}
	if f.archive {
		cfg.Archive.Enabled = true
	}
	if fs.Changed("handler") {
		cfg.Scrape.Handler = f.handler
	}
}

var updateFlags runFlags

var updateCmd = &cobra.Command{
	Use:   "update <module> [scraper [key=value ...]] ...",
	Short: "Scrape one jurisdiction",
	Long: `Update runs a jurisdiction module: it reconciles the module's sessions
with the remote site, runs the selected scrapers (or the module defaults)
and writes what they collect.

Example:
  legiscrape update ma
  legiscrape update ma bills session=193rd --nonstrict
  legiscrape update ma --fastmode --backfill 193rd
  legiscrape update ma --realtime --broker nats://localhost:4222`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateFlags.register(updateCmd.Flags())
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	updateFlags.apply(cmd.Flags(), &cfg)
	cfg.Scrape.Module = args[0]

	m, err := pipeline.LookupModule(args[0])
	if err != nil {
		return err
	}
	plans, err := pipeline.ParseScraperArgs(m, args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := pipeline.NewUpdater(cfg, m).Run(ctx, plans)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.Name, err)
	}
	if !report.Success {
		return fmt.Errorf("update %s failed", m.Name)
	}
	return nil
}
