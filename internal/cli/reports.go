package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
	"github.com/ppiankov/legiscrape/internal/store"
)

var (
	reportsLimit int
	reportsJSON  bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports <module>",
	Short: "List a jurisdiction's persisted run reports, newest first",
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

		s, err := store.Open(cmd.Context(), cfg.Reports)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		reports, err := s.Recent(cmd.Context(), j.ID(), reportsLimit)
		if err != nil {
			return err
		}

		if reportsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		}
		renderReports(cmd.OutOrStdout(), reports)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "maximum number of reports")
	reportsCmd.Flags().BoolVar(&reportsJSON, "json", false, "print reports as JSON")
}

func renderReports(w io.Writer, reports []*model.RunReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "no reports")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Start", "Duration", "Actions", "Objects", "Result"})
	for _, r := range reports {
		result := "ok"
		if !r.Success {
			result = "failed: " + r.Exception
		}
		t.AppendRow(table.Row{
			r.Start.Local().Format(time.DateTime),
			r.End.Sub(r.Start).Round(time.Second),
			fmt.Sprint(r.Plan.Actions),
			totalObjects(r),
			result,
		})
	}
	t.Render()
}
