package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/legiscrape/internal/dedup"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/output"
	"github.com/ppiankov/legiscrape/internal/validate"
)

// CollectorConfig wires a Collector
type CollectorConfig struct {
	Jurisdiction *model.Jurisdiction
	Router       *output.Router
	Validator    *validate.Validator
	Dedup        *dedup.Cache // nil outside fast mode
	Strict       bool
	Logger       *slog.Logger
}

// Collector runs scraper invocations and saves what they yield
type Collector struct {
	juris     *model.Jurisdiction
	router    *output.Router
	validator *validate.Validator
	dedup     *dedup.Cache
	strict    bool
	logger    *slog.Logger
}

// NewCollector creates a collector
func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{
		juris:     cfg.Jurisdiction,
		router:    cfg.Router,
		validator: cfg.Validator,
		dedup:     cfg.Dedup,
		strict:    cfg.Strict,
		logger:    cfg.Logger,
	}
	if c.validator == nil {
		c.validator = validate.NewValidator()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// outputNames tracks the distinct files produced per kind
type outputNames map[model.Kind]map[string]struct{}

func (n outputNames) add(k model.Kind, name string) {
	if n[k] == nil {
		n[k] = make(map[string]struct{})
	}
	n[k][name] = struct{}{}
}

// Collect runs one invocation of s and reports what it produced. A scraper
// that yields nothing fails unless it declared ErrEmptyScrape.
func (c *Collector) Collect(ctx context.Context, name string, s Scraper, env *Env, args Args) (*model.ScrapeReport, error) {
	ctx, span := tracer.Start(ctx, "scrape "+name, trace.WithAttributes(
		attribute.String("scraper", name),
		attribute.String("session", args["session"]),
	))
	defer span.End()

	report := model.NewScrapeReport(time.Now().UTC())
	names := outputNames{}
	empty := false

	fail := func(err error) (*model.ScrapeReport, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

scrape:
	for e, err := range s.Scrape(ctx, env, args) {
		switch {
		case errors.Is(err, ErrSkip):
			report.Skipped++
			continue
		case errors.Is(err, ErrEmptyScrape):
			empty = true
			break scrape
		case err != nil:
			return fail(fmt.Errorf("%s scrape: %w", name, err))
		case e == nil:
			continue
		}

		if err := c.save(ctx, e, names, report); err != nil {
			return fail(err)
		}
	}

	if empty {
		if len(names) > 0 {
			return fail(&ScrapeError{Scraper: name, ExpectedNone: true})
		}
		c.logger.Warn("scraper declared an empty scrape, continuing without any results", "scraper", name)
	} else if len(names) == 0 && report.Unchanged == 0 {
		return fail(&ScrapeError{Scraper: name})
	}

	report.End = time.Now().UTC()
	for kind, set := range names {
		report.Objects[kind] += len(set)
	}
	span.SetAttributes(attribute.Int("objects", report.Total()))
	return report, nil
}

// save cleans, delivers and validates e, then its owned children
func (c *Collector) save(ctx context.Context, e model.Entity, names outputNames, report *model.ScrapeReport) error {
	validate.CleanWhitespace(e)
	e.PreSave(c.juris)

	filename := model.OutputName(e)
	log := c.logger.With("kind", e.Kind(), "file", filename)

	if c.dedup != nil && e.Kind() == model.KindBill {
		if scoped, ok := e.(model.SessionScoped); ok {
			verdict := c.dedup.Check(ctx, strings.ToUpper(c.juris.Abbr()), scoped)
			if !verdict.Publish() {
				report.Unchanged++
				return nil
			}
		}
	}

	route, err := c.router.Deliver(ctx, e)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", e.Kind(), e.ID(), err)
	}
	names.add(e.Kind(), filename)
	log.Info("saved", "entity", e, "route", route)

	// the write already happened, so a failed record stays inspectable
	if err := c.validator.Validate(e); err != nil {
		if c.strict {
			return err
		}
		log.Warn("validation failed", "error", err)
	}

	for _, child := range e.Related() {
		if err := c.save(ctx, child, names, report); err != nil {
			return err
		}
	}
	return nil
}
