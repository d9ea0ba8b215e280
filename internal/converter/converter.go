// Package converter turns downloaded PDFs into plain-text transcripts.
// A fixed pool of worker goroutines drains a buffered channel of document
// ids; each worker owns one document at a time end to end.
package converter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dharsanguruparan/finsights/internal/model"
	pdfutil "github.com/dharsanguruparan/finsights/internal/pdf"
)

// Store is the subset of the document store the converter uses.
type Store interface {
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	MarkParsed(ctx context.Context, id, fileName string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// TextPublisher copies a finished transcript somewhere else, e.g. an object
// store. Publishing is best effort.
type TextPublisher interface {
	PublishText(ctx context.Context, key, path string) error
}

// Options configures a Converter.
type Options struct {
	PDFDir  string
	TextDir string
	Workers int
	// Publisher is optional.
	Publisher TextPublisher
}

// Converter extracts text from every downloaded document.
type Converter struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// New constructs a Converter.
func New(store Store, opts Options, logger *slog.Logger) *Converter {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{store: store, opts: opts, logger: logger}
}

// TextFileName is the on-disk name of a document's transcript.
func TextFileName(id string) string {
	return id + ".txt"
}

// ObjectKey is where a transcript is published in object storage.
func ObjectKey(id string) string {
	return "transcripts/" + TextFileName(id)
}

// ConvertAll converts every document currently in the downloaded state.
// Only a failure to list the pending documents is returned as an error.
func (c *Converter) ConvertAll(ctx context.Context) (succeeded, failed int, err error) {
	pending, err := c.store.ListByStatus(ctx, model.StatusDownloaded, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list downloaded documents: %w", err)
	}
	if len(pending) == 0 {
		c.logger.Info("no documents to convert")
		return 0, 0, nil
	}
	if err := os.MkdirAll(c.opts.TextDir, 0o750); err != nil {
		return 0, 0, fmt.Errorf("create text dir: %w", err)
	}

	start := time.Now()
	workers := poolSize(c.opts.Workers, len(pending))
	jobs := make(chan string, len(pending))
	for _, doc := range pending {
		jobs <- doc.ID
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	skipped := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				res := c.convert(ctx, id)
				mu.Lock()
				switch res {
				case outcomeConverted:
					succeeded++
				case outcomeFailed:
					failed++
				default:
					skipped++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	c.logger.Info("conversion finished", "succeeded", succeeded, "failed", failed, "skipped", skipped, "workers", workers, "elapsed", time.Since(start))
	return succeeded, failed, nil
}

// poolSize never starts more workers than there are documents.
func poolSize(workers, pending int) int {
	return max(1, min(workers, pending))
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeConverted
	outcomeFailed
)

// Convert extracts the text of one document and marks it parsed. Any
// failure, including a parser panic, marks the document failed and returns
// false. A document that no longer exists, or that another run already moved
// past downloaded, returns false untouched.
func (c *Converter) Convert(ctx context.Context, id string) bool {
	return c.convert(ctx, id) == outcomeConverted
}

func (c *Converter) convert(ctx context.Context, id string) (res outcome) {
	logCtx := c.logger.With("documentId", id)
	var staging string

	defer func() {
		if r := recover(); r != nil {
			res = c.fail(ctx, logCtx, id, staging, fmt.Errorf("panic during conversion: %v", r))
		}
	}()

	doc, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logCtx.Warn("document vanished before conversion")
		} else {
			logCtx.Error("load document", "error", err)
		}
		return outcomeSkipped
	}
	if doc.Status != model.StatusDownloaded {
		logCtx.Info("document not awaiting conversion, skipping", "status", doc.Status)
		return outcomeSkipped
	}
	if doc.PDFFileName == nil || *doc.PDFFileName == "" {
		return c.fail(ctx, logCtx, id, staging, errors.New("pdf file name is not set"))
	}
	pdfPath := filepath.Join(c.opts.PDFDir, *doc.PDFFileName)
	if _, err := os.Stat(pdfPath); err != nil {
		return c.fail(ctx, logCtx, id, staging, fmt.Errorf("pdf file %s: %w", pdfPath, err))
	}

	out, err := os.CreateTemp(c.opts.TextDir, "temp_"+id+"_*.txt")
	if err != nil {
		return c.fail(ctx, logCtx, id, staging, fmt.Errorf("create staging file: %w", err))
	}
	staging = out.Name()
	stats, err := c.extract(pdfPath, out, logCtx)
	if err != nil {
		return c.fail(ctx, logCtx, id, staging, err)
	}

	name := TextFileName(id)
	final := filepath.Join(c.opts.TextDir, name)
	if err := os.Rename(staging, final); err != nil {
		return c.fail(ctx, logCtx, id, staging, fmt.Errorf("rename %s: %w", staging, err))
	}
	if err := c.store.MarkParsed(ctx, id, name); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// the run that won already renamed an identical transcript into place
			logCtx.Warn("document moved on during conversion", "error", err)
			return outcomeSkipped
		}
		os.Remove(final)
		return c.fail(ctx, logCtx, id, staging, err)
	}
	logCtx.Info("document converted", "pages", stats.Pages, "failedPages", stats.Failed)

	if err := os.Remove(pdfPath); err != nil {
		logCtx.Warn("could not delete pdf", "file", pdfPath, "error", err)
	}
	if c.opts.Publisher != nil {
		if err := c.opts.Publisher.PublishText(ctx, ObjectKey(id), final); err != nil {
			logCtx.Warn("publish transcript failed", "key", ObjectKey(id), "error", err)
		}
	}
	return outcomeConverted
}

// extract writes the text of pdfPath into out and closes it.
func (c *Converter) extract(pdfPath string, out *os.File, logCtx *slog.Logger) (pdfutil.Stats, error) {
	w := bufio.NewWriter(out)
	stats, err := pdfutil.ExtractPages(pdfPath, w, func(pe *pdfutil.PageError) {
		logCtx.Warn("skipping page", "page", pe.Page, "error", pe.Err)
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", out.Name(), cerr)
	}
	return stats, err
}

// fail marks the document failed unless another run has already moved it
// past downloaded; a run that lost the race must not undo the winner's work.
func (c *Converter) fail(ctx context.Context, logCtx *slog.Logger, id, staging string, cause error) outcome {
	if staging != "" {
		if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
			logCtx.Warn("could not remove staging file", "file", staging, "error", err)
		}
	}
	if cur, err := c.store.Get(ctx, id); err == nil && cur.Status != model.StatusDownloaded {
		logCtx.Warn("conversion failed after another run advanced the document", "status", cur.Status, "error", cause)
		return outcomeSkipped
	}
	logCtx.Error("conversion failed", "error", cause)
	if err := c.store.MarkFailed(ctx, id, cause.Error()); err != nil {
		logCtx.Error("CRITICAL: could not record conversion failure", "error", err)
	}
	return outcomeFailed
}
