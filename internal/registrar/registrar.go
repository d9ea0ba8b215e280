// Package registrar turns discovered announcements into document rows.
package registrar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/finsights/internal/feed"
	"github.com/dharsanguruparan/finsights/internal/model"
)

// Inserter is the store operation registration needs.
type Inserter interface {
	Insert(ctx context.Context, doc *model.Document) error
}

// Options configures where PDF attachments live on the origin.
type Options struct {
	PDFBaseURL        string
	PDFArchiveBaseURL string
	// ArchiveAfter is the announcement age past which the origin serves the
	// attachment from the archive path.
	ArchiveAfter time.Duration
}

// Registrar inserts discovered transcripts, skipping duplicates.
type Registrar struct {
	store  Inserter
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New constructs a Registrar.
func New(store Inserter, opts Options, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{store: store, opts: opts, now: time.Now, logger: logger}
}

// Register inserts one row per new announcement and returns the ids of the
// inserted rows in input order. Duplicates and announcements with an
// unreadable publish date are skipped; any other store error aborts.
func (r *Registrar) Register(ctx context.Context, items []feed.Announcement) ([]string, error) {
	ids := make([]string, 0, len(items))
	var duplicates, invalid int
	for _, item := range items {
		doc, err := r.newDocument(item)
		if err != nil {
			invalid++
			r.logger.Warn("skipping announcement", "company", item.CompanyName, "attachment", item.AttachmentName, "error", err)
			continue
		}
		if err := r.store.Insert(ctx, doc); err != nil {
			if errors.Is(err, model.ErrDuplicate) {
				duplicates++
				r.logger.Info("duplicate transcript skipped", "company", doc.CompanyName, "pdfUrl", doc.PDFURL)
				continue
			}
			return ids, fmt.Errorf("register %s: %w", doc.PDFURL, err)
		}
		ids = append(ids, doc.ID)
	}
	r.logger.Info("registration finished", "inserted", len(ids), "duplicates", duplicates, "invalid", invalid)
	return ids, nil
}

func (r *Registrar) newDocument(item feed.Announcement) (*model.Document, error) {
	published, err := ParseAnnouncementDate(item.PublishedAt)
	if err != nil {
		return nil, err
	}
	pdfURL := r.PDFURL(item.AttachmentName, published)
	return &model.Document{
		ID:               uuid.NewString(),
		CompanyName:      item.CompanyName,
		ScriptCode:       string(item.ScriptCode),
		PDFURL:           pdfURL,
		PDFURLSHA256:     HashURL(pdfURL),
		AnnouncementDate: published.Format(model.AnnouncementLayout),
	}, nil
}

// PDFURL routes older announcements to the archive path.
func (r *Registrar) PDFURL(attachment string, published time.Time) string {
	now := r.now()
	// published carries the feed's wall clock without a zone; compare it
	// against the local wall clock the same way.
	nowWall := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
	if published.Before(nowWall.Add(-r.opts.ArchiveAfter)) {
		return r.opts.PDFArchiveBaseURL + attachment
	}
	return r.opts.PDFBaseURL + attachment
}

// ParseAnnouncementDate reads the feed's NEWS_DT value. Fractional seconds
// are accepted and dropped.
func ParseAnnouncementDate(s string) (time.Time, error) {
	t, err := time.Parse(model.AnnouncementLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse announcement date %q: %w", s, err)
	}
	return t.Truncate(time.Second), nil
}

// HashURL is the content address used to deduplicate documents.
func HashURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])
}
