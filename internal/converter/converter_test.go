package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/finsights/internal/model"
	pdfutil "github.com/dharsanguruparan/finsights/internal/pdf"
	"github.com/dharsanguruparan/finsights/internal/pdf/pdftest"
	"github.com/dharsanguruparan/finsights/internal/storage"
	"github.com/dharsanguruparan/finsights/internal/storetest"
)

type fixture struct {
	store   *storage.MemoryStore
	pdfDir  string
	textDir string
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	return &fixture{
		store:   storage.NewMemoryStore(),
		pdfDir:  filepath.Join(root, "pdfs"),
		textDir: filepath.Join(root, "texts"),
	}
}

// downloaded inserts a document and moves it to downloaded. When pages is
// non-empty a PDF with those pages is written for it.
func (f *fixture) downloaded(t *testing.T, n int, pages ...string) string {
	ctx := context.Background()
	doc := storetest.NewDocument(fmt.Sprintf("https://x/%d.pdf", n), "2025-01-17T10:00:00")
	require.NoError(t, f.store.Insert(ctx, doc))
	name := doc.ID + ".pdf"
	require.NoError(t, f.store.MarkDownloaded(ctx, doc.ID, name))
	if len(pages) > 0 {
		require.NoError(t, os.MkdirAll(f.pdfDir, 0o750))
		pdftest.Write(t, filepath.Join(f.pdfDir, name), pages...)
	}
	return doc.ID
}

func (f *fixture) converter(workers int, pub TextPublisher) *Converter {
	return New(f.store, Options{PDFDir: f.pdfDir, TextDir: f.textDir, Workers: workers, Publisher: pub}, nil)
}

func assertNoStagingFiles(t *testing.T, dir string) {
	t.Helper()
	left, err := filepath.Glob(filepath.Join(dir, "temp_*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) PublishText(_ context.Context, key, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	return p.err
}

func TestConvertWritesTranscript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1, pdftest.Text("Good morning everyone"), pdftest.Text("Thank you"))
	pub := &recordingPublisher{}

	succeeded, failed, err := f.converter(2, pub).ConvertAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusParsed, doc.Status)
	require.NotNil(t, doc.TextFileName)
	assert.Equal(t, id+".txt", *doc.TextFileName)
	assert.NotNil(t, doc.TextFileCreatedAt)

	text, err := os.ReadFile(filepath.Join(f.textDir, id+".txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), pdfutil.PageHeader(1))
	assert.Contains(t, string(text), "Good morning everyone")
	assert.Contains(t, string(text), pdfutil.PageHeader(2))
	assert.Contains(t, string(text), "Thank you")

	assertNoStagingFiles(t, f.textDir)
	assert.NoFileExists(t, filepath.Join(f.pdfDir, id+".pdf"))
	assert.Equal(t, []string{"transcripts/" + id + ".txt"}, pub.keys)
}

func TestConvertPublishFailureKeepsParsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1, pdftest.Text("hello"))
	pub := &recordingPublisher{err: errors.New("bucket unavailable")}

	assert.True(t, f.converter(1, pub).Convert(ctx, id))
	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusParsed, doc.Status)
}

func TestConvertMissingPDF(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1)
	require.NoError(t, os.MkdirAll(f.textDir, 0o750))

	assert.False(t, f.converter(1, nil).Convert(ctx, id))
	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, id+".pdf")
	assert.NoFileExists(t, filepath.Join(f.textDir, id+".txt"))
}

func TestConvertWithoutFileName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := storetest.NewDocument("https://x/nameless.pdf", "2025-01-17T10:00:00")
	require.NoError(t, f.store.Insert(ctx, doc))
	require.NoError(t, f.store.MarkDownloaded(ctx, doc.ID, ""))

	assert.False(t, f.converter(1, nil).Convert(ctx, doc.ID))
	got, err := f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "pdf file name is not set", *got.ErrorMessage)
}

func TestConvertCorruptPDF(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1)
	require.NoError(t, os.MkdirAll(f.pdfDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.pdfDir, id+".pdf"), []byte("garbage"), 0o600))
	require.NoError(t, os.MkdirAll(f.textDir, 0o750))

	assert.False(t, f.converter(1, nil).Convert(ctx, id))
	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	assertNoStagingFiles(t, f.textDir)
	assert.NoFileExists(t, filepath.Join(f.textDir, id+".txt"))
}

func TestConvertUnknownDocument(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.converter(1, nil).Convert(context.Background(), "nope"))
	assert.Equal(t, 0, f.store.Len())
}

type panickingStore struct {
	*storage.MemoryStore
}

func (panickingStore) MarkParsed(context.Context, string, string) error {
	panic("store exploded")
}

func TestConvertRecoversPanics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1, pdftest.Text("hello"))
	require.NoError(t, os.MkdirAll(f.textDir, 0o750))

	c := New(panickingStore{f.store}, Options{PDFDir: f.pdfDir, TextDir: f.textDir, Workers: 1}, nil)
	assert.False(t, c.Convert(ctx, id))

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.Contains(t, *doc.ErrorMessage, "store exploded")
	assertNoStagingFiles(t, f.textDir)
}

func TestConvertAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var good []string
	for i := 0; i < 5; i++ {
		good = append(good, f.downloaded(t, i, pdftest.Text(fmt.Sprintf("document %d", i))))
	}
	bad := f.downloaded(t, 99)

	succeeded, failed, err := f.converter(3, nil).ConvertAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 1, failed)

	for _, id := range good {
		doc, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusParsed, doc.Status)
		assert.FileExists(t, filepath.Join(f.textDir, id+".txt"))
	}
	doc, err := f.store.Get(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
}

func TestConvertAllNothingPending(t *testing.T) {
	f := newFixture(t)
	succeeded, failed, err := f.converter(4, nil).ConvertAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded)
	assert.Zero(t, failed)
}

// parsedElsewhereStore lets another run win the document just before this
// run records its own conversion.
type parsedElsewhereStore struct {
	*storage.MemoryStore
}

func (s parsedElsewhereStore) MarkParsed(ctx context.Context, id, fileName string) error {
	if err := s.MemoryStore.MarkParsed(ctx, id, fileName); err != nil {
		return err
	}
	return s.MemoryStore.MarkParsed(ctx, id, fileName)
}

func TestConvertLosingRaceKeepsParsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1, pdftest.Text("hello"))
	require.NoError(t, os.MkdirAll(f.textDir, 0o750))

	c := New(parsedElsewhereStore{f.store}, Options{PDFDir: f.pdfDir, TextDir: f.textDir, Workers: 1}, nil)
	assert.False(t, c.Convert(ctx, id))

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusParsed, doc.Status)
	assert.Nil(t, doc.ErrorMessage)
	assert.FileExists(t, filepath.Join(f.textDir, id+".txt"))
	assertNoStagingFiles(t, f.textDir)
}

func TestConvertSkipsDocumentNotDownloaded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.downloaded(t, 1, pdftest.Text("hello"))
	require.NoError(t, f.store.MarkParsed(ctx, id, id+".txt"))

	assert.False(t, f.converter(1, nil).Convert(ctx, id))
	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusParsed, doc.Status)
	assert.Nil(t, doc.ErrorMessage)
	assert.FileExists(t, filepath.Join(f.pdfDir, id+".pdf"))
}

func TestConcurrentConvertAllRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.downloaded(t, i, pdftest.Text(fmt.Sprintf("document %d", i))))
	}

	type counts struct{ succeeded, failed int }
	results := make([]counts, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, fl, err := f.converter(3, nil).ConvertAll(ctx)
			assert.NoError(t, err)
			results[i] = counts{s, fl}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, results[0].succeeded+results[1].succeeded)
	assert.Zero(t, results[0].failed+results[1].failed)
	for i, id := range ids {
		doc, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusParsed, doc.Status)
		text, err := os.ReadFile(filepath.Join(f.textDir, id+".txt"))
		require.NoError(t, err)
		assert.Contains(t, string(text), fmt.Sprintf("document %d", i))
	}
	assertNoStagingFiles(t, f.textDir)
}

type countingPublisher struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *countingPublisher) PublishText(context.Context, string, string) error {
	p.mu.Lock()
	p.inFlight++
	p.peak = max(p.peak, p.inFlight)
	p.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return nil
}

func TestConvertAllBoundsWorkers(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.downloaded(t, i, pdftest.Text("page"))
	}
	pub := &countingPublisher{}

	succeeded, failed, err := f.converter(2, pub).ConvertAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, succeeded)
	assert.Zero(t, failed)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.LessOrEqual(t, pub.peak, 2)
	assert.GreaterOrEqual(t, pub.peak, 1)
}

func TestPoolSize(t *testing.T) {
	tests := []struct {
		workers, pending, want int
	}{
		{workers: 4, pending: 10, want: 4},
		{workers: 4, pending: 2, want: 2},
		{workers: 4, pending: 1, want: 1},
		{workers: 1, pending: 9, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, poolSize(tt.workers, tt.pending), "workers=%d pending=%d", tt.workers, tt.pending)
	}
}
