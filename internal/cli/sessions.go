package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <module>",
	Short: "Compare a module's declared sessions with the remote session list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := pipeline.LookupModule(args[0])
		if err != nil {
			return err
		}

		j := m.NewJurisdiction()
		if _, err := j.Metadata(); err != nil {
			return err
		}
		fetcher, err := pipeline.NewFetcher(cfg, pipeline.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		defer fetcher.Close()

		env := &pipeline.Env{Fetcher: fetcher, Jurisdiction: j, Logger: slog.Default()}
		remote, err := pipeline.RemoteSessions(cmd.Context(), m, env)
		if err != nil {
			return err
		}

		set, rerr := pipeline.ReconcileSessions(j, remote, cfg.Scrape.Backfill)
		renderSessions(cmd.OutOrStdout(), j, remote, set)

		var se *pipeline.SessionError
		if errors.As(rerr, &se) {
			return fmt.Errorf("%w (declare them in the module or add them to its ignored sessions)", rerr)
		}
		return rerr
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

// sessionStatus classifies one remote session name
func sessionStatus(j *model.Jurisdiction, set *pipeline.SessionSet, name string) string {
	if slices.Contains(j.IgnoredScrapedSessions, name) {
		return "ignored"
	}
	for _, s := range j.LegislativeSessions {
		if s.RemoteName() != name {
			continue
		}
		if set != nil && slices.Contains(set.Active, s.Identifier) {
			return "active"
		}
		return "declared"
	}
	if _, ok := j.DeclaredSession(name); ok {
		return "unaccounted"
	}
	return "unknown"
}

func renderSessions(w io.Writer, j *model.Jurisdiction, remote []string, set *pipeline.SessionSet) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(j.Name() + " sessions")
	t.AppendHeader(table.Row{"Remote session", "Status"})
	for _, name := range remote {
		t.AppendRow(table.Row{name, sessionStatus(j, set, name)})
	}
	t.Render()
}
