// Package cleaner removes documents, and their files, past the retention
// window.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/finsights/internal/model"
)

// Store is the subset of the document store the cleaner uses.
type Store interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*model.Document, error)
	Delete(ctx context.Context, id string) error
}

// Cleaner deletes expired documents.
type Cleaner struct {
	store   Store
	pdfDir  string
	textDir string
	logger  *slog.Logger
}

// New constructs a Cleaner.
func New(store Store, pdfDir, textDir string, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, pdfDir: pdfDir, textDir: textDir, logger: logger}
}

// Cleanup removes every document created before cutoff together with its
// recorded PDF and text files. Files that are already gone are ignored. It
// returns the number of rows deleted.
func (c *Cleaner) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	docs, err := c.store.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired documents: %w", err)
	}
	removed := 0
	for _, doc := range docs {
		logCtx := c.logger.With("documentId", doc.ID)
		if doc.PDFFileName != nil {
			c.removeFile(logCtx, filepath.Join(c.pdfDir, *doc.PDFFileName))
		}
		if doc.TextFileName != nil {
			c.removeFile(logCtx, filepath.Join(c.textDir, *doc.TextFileName))
		}
		if err := c.store.Delete(ctx, doc.ID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete document %s: %w", doc.ID, err)
		}
		removed++
	}
	c.logger.Info("cleanup finished", "cutoff", cutoff, "removed", removed)
	return removed, nil
}

func (c *Cleaner) removeFile(logCtx *slog.Logger, path string) {
	if path == c.pdfDir || path == c.textDir {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logCtx.Warn("could not remove file", "file", path, "error", err)
	}
}
