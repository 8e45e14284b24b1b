package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ppiankov/legiscrape/internal/model"
)

// RenderPlan prints what a run is about to do
func RenderPlan(w io.Writer, plan model.RunPlan) {
	fmt.Fprintf(w, "%s (%s)\n", plan.Module, plan.Jurisdiction)
	fmt.Fprintf(w, "  actions: %s\n", strings.Join(plan.Actions, ", "))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Scraper", "Arguments"})
	for _, s := range plan.Scrapers {
		t.AppendRow(table.Row{s.Name, formatArgs(s.Args)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+args[k])
	}
	return strings.Join(parts, " ")
}

// RenderReport prints per-scraper timings and object counts, then import
// outcomes when there are any
func RenderReport(w io.Writer, r *model.RunReport) {
	names := make([]string, 0, len(r.Scrape))
	for name := range r.Scrape {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Scraper", "Duration", "Kind", "Objects", "Skipped", "Unchanged"})
	for _, name := range names {
		sr := r.Scrape[name]
		duration := sr.End.Sub(sr.Start).Round(time.Millisecond)
		kinds := sortedKinds(sr.Objects)
		if len(kinds) == 0 {
			t.AppendRow(table.Row{name, duration, "-", 0, sr.Skipped, sr.Unchanged})
			continue
		}
		for i, kind := range kinds {
			if i == 0 {
				t.AppendRow(table.Row{name, duration, kind, sr.Objects[kind], sr.Skipped, sr.Unchanged})
			} else {
				t.AppendRow(table.Row{"", "", kind, sr.Objects[kind], "", ""})
			}
		}
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(r.Import) > 0 {
		it := table.NewWriter()
		it.SetOutputMirror(w)
		it.AppendHeader(table.Row{"Kind", "Insert", "Update", "Noop"})
		for _, kind := range sortedKinds(r.Import) {
			c := r.Import[kind]
			it.AppendRow(table.Row{kind, c.Insert, c.Update, c.Noop})
		}
		it.SetStyle(table.StyleRounded)
		it.Render()
	}

	status := "succeeded"
	if !r.Success {
		status = "failed: " + r.Exception
	}
	fmt.Fprintf(w, "run %s in %s\n", status, r.End.Sub(r.Start).Round(time.Millisecond))
}

func sortedKinds[V any](m map[model.Kind]V) []model.Kind {
	kinds := make([]model.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
