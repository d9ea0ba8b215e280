// Package downloader fetches the PDF attachment of every registered document.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/finsights/internal/httpx"
	"github.com/dharsanguruparan/finsights/internal/model"
)

// Store is the subset of the document store the downloader uses.
type Store interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	MarkDownloaded(ctx context.Context, id, fileName string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Result summarises one DownloadAll call.
type Result struct {
	Downloaded int
	Failed     int
	Skipped    int
}

// Downloader streams PDFs into dir. Concurrency must match the per-host
// connection cap of the client.
type Downloader struct {
	store       Store
	client      httpx.Doer
	dir         string
	concurrency int
	logger      *slog.Logger
}

// New constructs a Downloader.
func New(store Store, client httpx.Doer, dir string, concurrency int, logger *slog.Logger) *Downloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{store: store, client: client, dir: dir, concurrency: concurrency, logger: logger}
}

// FileName is the on-disk name of a document's PDF.
func FileName(id string) string {
	return id + ".pdf"
}

// DownloadAll downloads every id independently. A failing item is marked
// failed in the store and never stops the others.
func (d *Downloader) DownloadAll(ctx context.Context, ids []string) Result {
	start := time.Now()
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		d.logger.Error("create pdf dir", "dir", d.dir, "error", err)
	}
	var downloaded, failed, skipped atomic.Int32
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			switch d.downloadOne(ctx, id) {
			case outcomeDownloaded:
				downloaded.Add(1)
			case outcomeFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Downloaded: int(downloaded.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
	d.logger.Info("downloads finished", "downloaded", res.Downloaded, "failed", res.Failed, "skipped", res.Skipped, "elapsed", time.Since(start))
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDownloaded
	outcomeFailed
)

func (d *Downloader) downloadOne(ctx context.Context, id string) outcome {
	logCtx := d.logger.With("documentId", id)
	doc, err := d.store.Get(ctx, id)
	if err != nil {
		logCtx.Error("load document", "error", err)
		return outcomeFailed
	}
	if doc.Status != model.StatusDiscovered {
		logCtx.Info("document already past discovery, skipping", "status", doc.Status)
		return outcomeSkipped
	}
	logCtx = logCtx.With("pdfUrl", doc.PDFURL)

	name := FileName(id)
	if err := d.fetch(ctx, doc.PDFURL, id); err != nil {
		return d.fail(ctx, logCtx, id, err)
	}
	if err := d.store.MarkDownloaded(ctx, id, name); err != nil {
		var te *model.TransitionError
		if errors.As(err, &te) {
			// another run advanced the row while we were fetching
			logCtx.Warn("document moved on during download", "error", err)
			if te.Actual != model.StatusDownloaded {
				d.removeOrphan(logCtx, name)
			}
			return outcomeSkipped
		}
		return d.fail(ctx, logCtx, id, err)
	}
	logCtx.Debug("pdf downloaded", "file", name)
	return outcomeDownloaded
}

func (d *Downloader) fail(ctx context.Context, logCtx *slog.Logger, id string, cause error) outcome {
	if cur, err := d.store.Get(ctx, id); err == nil && cur.Status != model.StatusDiscovered {
		logCtx.Warn("download failed after another run advanced the document", "status", cur.Status, "error", cause)
		return outcomeSkipped
	}
	logCtx.Error("download failed", "error", cause)
	if err := d.store.MarkFailed(ctx, id, cause.Error()); err != nil {
		logCtx.Error("CRITICAL: could not record download failure", "error", err)
	}
	return outcomeFailed
}

// removeOrphan deletes a PDF this run renamed into place for a row that no
// longer expects one.
func (d *Downloader) removeOrphan(logCtx *slog.Logger, name string) {
	path := filepath.Join(d.dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logCtx.Warn("could not remove orphaned pdf", "file", path, "error", err)
	}
}

// fetch streams url into a staging file private to this call and renames it
// to the document's PDF name.
func (d *Downloader) fetch(ctx context.Context, url, id string) error {
	if url == "" {
		return errors.New("pdf url is not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	dst, err := os.CreateTemp(d.dir, "tmp_"+id+"_*.pdf")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	staging := dst.Name()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		dst.Close()
		os.Remove(staging)
		return fmt.Errorf("write %s: %w", staging, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("close %s: %w", staging, err)
	}
	if err := os.Rename(staging, filepath.Join(d.dir, FileName(id))); err != nil {
		os.Remove(staging)
		return fmt.Errorf("rename %s: %w", staging, err)
	}
	return nil
}
