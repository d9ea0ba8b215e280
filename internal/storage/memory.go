// Package storage contains an in-memory document store with the same
// guarded-transition semantics as the PostgreSQL repository. It backs tests
// and single-process dry runs.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/finsights/internal/model"
)

// MemoryStore keeps documents in a map guarded by an RWMutex. Every
// transition takes the write lock, so the check and the update happen as one
// step just like the conditional UPDATE in SQL.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*model.Document
	hashes map[string]string
	now    func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*model.Document),
		hashes: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for created_at/updated_at stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Insert registers a discovered document unless its URL hash is known.
func (m *MemoryStore) Insert(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[doc.PDFURLSHA256]; ok {
		return fmt.Errorf("insert document %s: %w", doc.PDFURL, model.ErrDuplicate)
	}
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("insert document: id %s already exists", doc.ID)
	}
	now := m.now()
	doc.Status = model.StatusDiscovered
	doc.CreatedAt = now
	doc.UpdatedAt = now
	stored := *doc
	m.docs[doc.ID] = &stored
	m.hashes[doc.PDFURLSHA256] = doc.ID
	return nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

// ListByStatus mirrors the SQL ordering: newest announcement first.
func (m *MemoryStore) ListByStatus(_ context.Context, status model.Status, limit int) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Document
	for _, doc := range m.docs {
		if doc.Status == status {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AnnouncementDate != out[j].AnnouncementDate {
			return out[i].AnnouncementDate > out[j].AnnouncementDate
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListCreatedBefore returns documents registered before cutoff, oldest first.
func (m *MemoryStore) ListCreatedBefore(_ context.Context, cutoff time.Time) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Document
	for _, doc := range m.docs {
		if doc.CreatedAt.Before(cutoff) {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkDownloaded moves a document from discovered to downloaded.
func (m *MemoryStore) MarkDownloaded(_ context.Context, id, fileName string) error {
	return m.transition(id, model.StatusDiscovered, func(doc *model.Document, now time.Time) {
		doc.Status = model.StatusDownloaded
		doc.PDFFileName = &fileName
		doc.PDFCreatedAt = &now
	})
}

// MarkParsed moves a document from downloaded to parsed.
func (m *MemoryStore) MarkParsed(_ context.Context, id, fileName string) error {
	return m.transition(id, model.StatusDownloaded, func(doc *model.Document, now time.Time) {
		doc.Status = model.StatusParsed
		doc.TextFileName = &fileName
		doc.TextFileCreatedAt = &now
	})
}

// MarkFailed records a failure from any status.
func (m *MemoryStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	doc.Status = model.StatusFailed
	doc.ErrorMessage = &reason
	doc.UpdatedAt = m.now()
	return nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	delete(m.hashes, doc.PDFURLSHA256)
	delete(m.docs, id)
	return nil
}

// Len reports how many documents are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryStore) transition(id string, expected model.Status, apply func(*model.Document, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if doc.Status != expected {
		return &model.TransitionError{ID: id, Expected: expected, Actual: doc.Status}
	}
	now := m.now()
	apply(doc, now)
	doc.UpdatedAt = now
	return nil
}

func cloneDocument(doc *model.Document) *model.Document {
	c := *doc
	c.PDFFileName = cloneString(doc.PDFFileName)
	c.TextFileName = cloneString(doc.TextFileName)
	c.ErrorMessage = cloneString(doc.ErrorMessage)
	c.PDFCreatedAt = cloneTime(doc.PDFCreatedAt)
	c.TextFileCreatedAt = cloneTime(doc.TextFileCreatedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
