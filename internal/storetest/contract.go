// Package storetest holds the behavioural contract every document store
// must satisfy. Store implementations run it from their own tests.
package storetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/finsights/internal/model"
)

// Store is the full document store surface.
type Store interface {
	Insert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Document, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*model.Document, error)
	MarkDownloaded(ctx context.Context, id, fileName string) error
	MarkParsed(ctx context.Context, id, fileName string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
}

// NewDocument builds an unsaved document for url.
func NewDocument(url, announced string) *model.Document {
	sum := sha256.Sum256([]byte(url))
	return &model.Document{
		ID:               uuid.NewString(),
		CompanyName:      "Test Corp",
		ScriptCode:       "500325",
		PDFURL:           url,
		PDFURLSHA256:     hex.EncodeToString(sum[:]),
		AnnouncementDate: announced,
	}
}

// Run executes the contract against stores produced by newStore. Each
// subtest receives a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T18:42:13")
		require.NoError(t, s.Insert(ctx, doc))

		got, err := s.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDiscovered, got.Status)
		assert.Equal(t, doc.PDFURL, got.PDFURL)
		assert.Equal(t, doc.PDFURLSHA256, got.PDFURLSHA256)
		assert.Equal(t, "2025-01-17T18:42:13", got.AnnouncementDate)
		assert.Nil(t, got.PDFFileName)
		assert.Nil(t, got.TextFileName)
		assert.Nil(t, got.ErrorMessage)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("duplicate url hash is rejected", func(t *testing.T) {
		s := newStore(t)
		url := "https://x/" + uuid.NewString() + ".pdf"
		first := NewDocument(url, "2025-01-17T10:00:00")
		require.NoError(t, s.Insert(ctx, first))

		second := NewDocument(url, "2025-01-17T10:00:00")
		err := s.Insert(ctx, second)
		require.ErrorIs(t, err, model.ErrDuplicate)

		_, err = s.Get(ctx, second.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("mark downloaded twice", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T10:00:00")
		require.NoError(t, s.Insert(ctx, doc))

		require.NoError(t, s.MarkDownloaded(ctx, doc.ID, "a.pdf"))
		err := s.MarkDownloaded(ctx, doc.ID, "b.pdf")
		require.ErrorIs(t, err, model.ErrInvalidTransition)
		var terr *model.TransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, model.StatusDownloaded, terr.Actual)
		assert.Equal(t, model.StatusDiscovered, terr.Expected)

		got, err := s.Get(ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PDFFileName)
		assert.Equal(t, "a.pdf", *got.PDFFileName)
		assert.NotNil(t, got.PDFCreatedAt)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("transitions on missing document", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		assert.ErrorIs(t, s.MarkDownloaded(ctx, id, "a.pdf"), model.ErrNotFound)
		assert.ErrorIs(t, s.MarkParsed(ctx, id, "a.txt"), model.ErrNotFound)
		assert.ErrorIs(t, s.MarkFailed(ctx, id, "boom"), model.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), model.ErrNotFound)
	})

	t.Run("parsed requires downloaded", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T10:00:00")
		require.NoError(t, s.Insert(ctx, doc))

		err := s.MarkParsed(ctx, doc.ID, "a.txt")
		var terr *model.TransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, model.StatusDiscovered, terr.Actual)

		require.NoError(t, s.MarkDownloaded(ctx, doc.ID, "a.pdf"))
		require.NoError(t, s.MarkParsed(ctx, doc.ID, "a.txt"))

		got, err := s.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusParsed, got.Status)
		require.NotNil(t, got.TextFileName)
		assert.Equal(t, "a.txt", *got.TextFileName)
		assert.NotNil(t, got.TextFileCreatedAt)
		require.NotNil(t, got.PDFFileName)
	})

	t.Run("mark failed from every status", func(t *testing.T) {
		s := newStore(t)
		steps := []func(id string) error{
			func(string) error { return nil },
			func(id string) error { return s.MarkDownloaded(ctx, id, id+".pdf") },
			func(id string) error {
				if err := s.MarkDownloaded(ctx, id, id+".pdf"); err != nil {
					return err
				}
				return s.MarkParsed(ctx, id, id+".txt")
			},
			func(id string) error { return s.MarkFailed(ctx, id, "first") },
		}
		for _, step := range steps {
			doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T10:00:00")
			require.NoError(t, s.Insert(ctx, doc))
			require.NoError(t, step(doc.ID))

			require.NoError(t, s.MarkFailed(ctx, doc.ID, "boom"))
			got, err := s.Get(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, got.Status)
			require.NotNil(t, got.ErrorMessage)
			assert.Equal(t, "boom", *got.ErrorMessage)
		}
	})

	t.Run("failed is terminal for guarded transitions", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T10:00:00")
		require.NoError(t, s.Insert(ctx, doc))
		require.NoError(t, s.MarkFailed(ctx, doc.ID, "boom"))

		assert.ErrorIs(t, s.MarkDownloaded(ctx, doc.ID, "a.pdf"), model.ErrInvalidTransition)
		assert.ErrorIs(t, s.MarkParsed(ctx, doc.ID, "a.txt"), model.ErrInvalidTransition)
	})

	t.Run("concurrent mark downloaded has one winner", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-17T10:00:00")
		require.NoError(t, s.Insert(ctx, doc))

		const attempts = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			rejects int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.MarkDownloaded(ctx, doc.ID, "a.pdf")
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if errors.Is(err, model.ErrInvalidTransition) {
					rejects++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, attempts-1, rejects)
	})

	t.Run("list by status", func(t *testing.T) {
		s := newStore(t)
		older := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-01T09:00:00")
		newer := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-02T09:00:00")
		other := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-03T09:00:00")
		for _, d := range []*model.Document{older, newer, other} {
			require.NoError(t, s.Insert(ctx, d))
		}
		require.NoError(t, s.MarkDownloaded(ctx, older.ID, "o.pdf"))
		require.NoError(t, s.MarkDownloaded(ctx, newer.ID, "n.pdf"))

		docs, err := s.ListByStatus(ctx, model.StatusDownloaded, 0)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, newer.ID, docs[0].ID)
		assert.Equal(t, older.ID, docs[1].ID)

		docs, err = s.ListByStatus(ctx, model.StatusDownloaded, 1)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, newer.ID, docs[0].ID)

		docs, err = s.ListByStatus(ctx, model.StatusParsed, 0)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("list created before and delete", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument("https://x/"+uuid.NewString()+".pdf", "2025-01-01T09:00:00")
		require.NoError(t, s.Insert(ctx, doc))

		docs, err := s.ListCreatedBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, docs)

		docs, err = s.ListCreatedBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, doc.ID, docs[0].ID)

		require.NoError(t, s.Delete(ctx, doc.ID))
		_, err = s.Get(ctx, doc.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		// the hash is free again once the row is gone
		again := NewDocument(doc.PDFURL, doc.AnnouncementDate)
		assert.NoError(t, s.Insert(ctx, again))
	})
}
