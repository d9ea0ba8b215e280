// Package pipeline chains discovery, registration, download and conversion
// into one run over a date window.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/finsights/internal/converter"
	"github.com/dharsanguruparan/finsights/internal/downloader"
	"github.com/dharsanguruparan/finsights/internal/feed"
	"github.com/dharsanguruparan/finsights/internal/registrar"
)

// DateLayout is the format of window bounds on the command line and in
// queued tasks.
const DateLayout = "2006-01-02"

// ErrInvalidWindow is returned when a window ends before it starts.
var ErrInvalidWindow = errors.New("window ends before it starts")

// Window is the inclusive range of announcement dates a run covers.
type Window struct {
	From time.Time
	To   time.Time
}

// Validate rejects windows that end before they start.
func (w Window) Validate() error {
	if w.To.Before(w.From) {
		return fmt.Errorf("%s to %s: %w", w.From.Format(DateLayout), w.To.Format(DateLayout), ErrInvalidWindow)
	}
	return nil
}

// ParseWindow reads YYYY-MM-DD bounds. An empty bound means today.
func ParseWindow(from, to string, now time.Time) (Window, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	parse := func(name, s string) (time.Time, error) {
		if s == "" {
			return today, nil
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s date %q: %w", name, s, err)
		}
		return t, nil
	}
	var (
		w   Window
		err error
	)
	if w.From, err = parse("from", from); err != nil {
		return Window{}, err
	}
	if w.To, err = parse("to", to); err != nil {
		return Window{}, err
	}
	return w, w.Validate()
}

// Report counts what each stage of a run did.
type Report struct {
	Discovered       int
	Registered       int
	Downloaded       int
	DownloadFailed   int
	DownloadSkipped  int
	Converted        int
	ConversionFailed int
}

// Pipeline runs the stages in order.
type Pipeline struct {
	fetcher    *feed.Fetcher
	registrar  *registrar.Registrar
	downloader *downloader.Downloader
	converter  *converter.Converter
	logger     *slog.Logger
}

// New constructs a Pipeline.
func New(f *feed.Fetcher, r *registrar.Registrar, d *downloader.Downloader, c *converter.Converter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: f, registrar: r, downloader: d, converter: c, logger: logger}
}

// Run processes one window. Item failures are recorded per document and
// reflected in the report; only a failed first feed page or an unavailable
// store aborts the run.
func (p *Pipeline) Run(ctx context.Context, w Window) (Report, error) {
	var rep Report
	if err := w.Validate(); err != nil {
		return rep, err
	}
	logCtx := p.logger.With("from", w.From.Format(DateLayout), "to", w.To.Format(DateLayout))
	start := time.Now()

	items, err := p.fetcher.Discover(ctx, w.From, w.To)
	if err != nil {
		return rep, fmt.Errorf("discover: %w", err)
	}
	rep.Discovered = len(items)

	ids, err := p.registrar.Register(ctx, items)
	rep.Registered = len(ids)
	if err != nil {
		return rep, fmt.Errorf("register: %w", err)
	}

	dl := p.downloader.DownloadAll(ctx, ids)
	rep.Downloaded, rep.DownloadFailed, rep.DownloadSkipped = dl.Downloaded, dl.Failed, dl.Skipped

	rep.Converted, rep.ConversionFailed, err = p.converter.ConvertAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("convert: %w", err)
	}

	logCtx.Info("pipeline run finished",
		"discovered", rep.Discovered,
		"registered", rep.Registered,
		"downloaded", rep.Downloaded,
		"downloadFailed", rep.DownloadFailed,
		"downloadSkipped", rep.DownloadSkipped,
		"converted", rep.Converted,
		"conversionFailed", rep.ConversionFailed,
		"elapsed", time.Since(start),
	)
	return rep, nil
}
