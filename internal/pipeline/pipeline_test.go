package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/finsights/internal/converter"
	"github.com/dharsanguruparan/finsights/internal/downloader"
	"github.com/dharsanguruparan/finsights/internal/feed"
	"github.com/dharsanguruparan/finsights/internal/httpx"
	"github.com/dharsanguruparan/finsights/internal/model"
	"github.com/dharsanguruparan/finsights/internal/pdf/pdftest"
	"github.com/dharsanguruparan/finsights/internal/registrar"
	"github.com/dharsanguruparan/finsights/internal/storage"
)

func newOrigin(t *testing.T, feedStatus int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		if feedStatus != http.StatusOK {
			w.WriteHeader(feedStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Table": []map[string]any{
				{"NEWSSUB": "Alpha - Earnings Call Transcript", "ATTACHMENTNAME": "alpha.pdf", "SLONGNAME": "Alpha Ltd", "SCRIP_CD": 500001, "NEWS_DT": "2025-01-17T10:00:00"},
				{"NEWSSUB": "Board meeting outcome", "ATTACHMENTNAME": "board.pdf", "SLONGNAME": "Beta Ltd", "SCRIP_CD": 500002, "NEWS_DT": "2025-01-17T11:00:00"},
				{"NEWSSUB": "Gamma - earnings call transcript", "ATTACHMENTNAME": "gamma.pdf", "SLONGNAME": "Gamma Ltd", "SCRIP_CD": "500003", "NEWS_DT": "2025-01-17T12:00:00"},
			},
			"Table1": []map[string]any{{"ROWCNT": 3}},
		})
	})
	mux.HandleFunc("/pdf/alpha.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pdftest.Build(pdftest.Text("Alpha opening remarks")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, origin string, store *storage.MemoryStore) (*Pipeline, string) {
	root := t.TempDir()
	pdfDir, textDir := filepath.Join(root, "pdf"), filepath.Join(root, "text")
	client := httpx.NewClient(2, time.Second, nil)
	p := New(
		feed.NewFetcher(client, origin+"/feed", 2, nil),
		registrar.New(store, registrar.Options{
			PDFBaseURL:        origin + "/pdf/",
			PDFArchiveBaseURL: origin + "/pdf/",
			ArchiveAfter:      60 * 24 * time.Hour,
		}, nil),
		downloader.New(store, client, pdfDir, 2, nil),
		converter.New(store, converter.Options{PDFDir: pdfDir, TextDir: textDir, Workers: 2}, nil),
		nil,
	)
	return p, textDir
}

var window = Window{
	From: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, http.StatusOK)
	store := storage.NewMemoryStore()
	p, textDir := newPipeline(t, origin.URL, store)

	rep, err := p.Run(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, Report{
		Discovered:     2,
		Registered:     2,
		Downloaded:     1,
		DownloadFailed: 1,
		Converted:      1,
	}, rep)

	parsed, err := store.ListByStatus(ctx, model.StatusParsed, 0)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "Alpha Ltd", parsed[0].CompanyName)
	text, err := os.ReadFile(filepath.Join(textDir, *parsed[0].TextFileName))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Alpha opening remarks")

	failed, err := store.ListByStatus(ctx, model.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "Gamma Ltd", failed[0].CompanyName)

	again, err := p.Run(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, Report{Discovered: 2}, again)
	assert.Equal(t, 2, store.Len())
}

func TestRunFirstPageFailureAborts(t *testing.T) {
	origin := newOrigin(t, http.StatusServiceUnavailable)
	store := storage.NewMemoryStore()
	p, _ := newPipeline(t, origin.URL, store)

	_, err := p.Run(context.Background(), window)
	var statusErr *feed.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, 0, store.Len())
}

func TestRunRejectsInvertedWindow(t *testing.T) {
	p, _ := newPipeline(t, "http://127.0.0.1:0", storage.NewMemoryStore())
	_, err := p.Run(context.Background(), Window{From: window.From, To: window.From.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC)

	w, err := ParseWindow("", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, w.From, w.To)

	w, err = ParseWindow("2025-01-01", "2025-01-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), w.To)

	_, err = ParseWindow("2025-02-01", "2025-01-01", now)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ParseWindow("01/02/2025", "", now)
	assert.Error(t, err)
}

func TestRunSummaryLogsEveryStageCount(t *testing.T) {
	origin := newOrigin(t, http.StatusOK)
	p, _ := newPipeline(t, origin.URL, storage.NewMemoryStore())
	var buf bytes.Buffer
	p.logger = slog.New(slog.NewTextHandler(&buf, nil))

	_, err := p.Run(context.Background(), window)
	require.NoError(t, err)
	for _, key := range []string{"discovered=2", "registered=2", "downloaded=1", "downloadFailed=1", "downloadSkipped=0", "converted=1", "conversionFailed=0"} {
		assert.Contains(t, buf.String(), key)
	}
}
