// Package feed discovers transcript announcements in the exchange's paged
// announcement feed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/finsights/internal/httpx"
)

const (
	transcriptMarker = "earnings call transcript"
	attachmentExt    = ".pdf"
	dateLayout       = "20060102"
)

// fixedParams narrows the feed to company announcements in every category.
var fixedParams = map[string]string{
	"strCat":      "-1",
	"strType":     "C",
	"strSearch":   "P",
	"strScrip":    "",
	"subcategory": "-1",
}

// Announcement is one feed item. Missing JSON fields decode as empty strings.
type Announcement struct {
	Subject        string    `json:"NEWSSUB"`
	AttachmentName string    `json:"ATTACHMENTNAME"`
	CompanyName    string    `json:"SLONGNAME"`
	ScriptCode     ScripCode `json:"SCRIP_CD"`
	PublishedAt    string    `json:"NEWS_DT"`
}

// ScripCode accepts the security code as either a JSON number or a string.
type ScripCode string

func (c *ScripCode) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*c = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*c = ScripCode(s)
	return nil
}

type envelope struct {
	Table  []Announcement `json:"Table"`
	Table1 []struct {
		RowCount int `json:"ROWCNT"`
	} `json:"Table1"`
}

// StatusError is returned for a non-2xx feed response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Fetcher pages through the feed. Concurrency must match the per-host
// connection cap of the client, see httpx.NewClient.
type Fetcher struct {
	client      httpx.Doer
	baseURL     string
	concurrency int
	logger      *slog.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(client httpx.Doer, baseURL string, concurrency int, logger *slog.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, baseURL: baseURL, concurrency: concurrency, logger: logger}
}

// Discover returns every transcript announcement published between from and
// to, in page order. Only a failure on page 1 is returned; later pages that
// fail are logged and contribute nothing.
func (f *Fetcher) Discover(ctx context.Context, from, to time.Time) ([]Announcement, error) {
	start := time.Now()
	first, err := f.fetchPage(ctx, from, to, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}
	results := FilterTranscripts(first.Table)

	totalPages := pageCount(first)
	f.logger.Info("feed page 1 retrieved", "pageSize", len(first.Table), "totalPages", totalPages, "transcripts", len(results))
	if totalPages == 1 {
		return results, nil
	}

	// pages[i] holds page i+2; a failed page stays nil.
	pages := make([][]Announcement, totalPages-1)
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			pageStart := time.Now()
			env, err := f.fetchPage(ctx, from, to, page)
			if err != nil {
				f.logger.Warn("feed page failed, skipping", "page", page, "error", err)
				return nil
			}
			pages[page-2] = FilterTranscripts(env.Table)
			f.logger.Debug("feed page retrieved", "page", page, "transcripts", len(pages[page-2]), "elapsed", time.Since(pageStart))
			return nil
		})
	}
	_ = g.Wait()

	for _, items := range pages {
		results = append(results, items...)
	}
	f.logger.Info("feed discovery finished", "pages", totalPages, "transcripts", len(results), "elapsed", time.Since(start))
	return results, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, from, to time.Time, page int) (*envelope, error) {
	q := url.Values{}
	for k, v := range fixedParams {
		q.Set(k, v)
	}
	q.Set("strPrevDate", from.Format(dateLayout))
	q.Set("strToDate", to.Format(dateLayout))
	q.Set("pageno", strconv.Itoa(page))

	target := f.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", page, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return &env, nil
}

func pageCount(env *envelope) int {
	pageSize := len(env.Table)
	if pageSize == 0 {
		return 1
	}
	total := pageSize
	if len(env.Table1) > 0 {
		total = env.Table1[0].RowCount
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// IsTranscript reports whether an announcement is an earnings call
// transcript with a PDF attachment.
func IsTranscript(a Announcement) bool {
	subject := strings.ToLower(strings.TrimSpace(a.Subject))
	attachment := strings.ToLower(strings.TrimSpace(a.AttachmentName))
	return strings.Contains(subject, transcriptMarker) && strings.HasSuffix(attachment, attachmentExt)
}

// FilterTranscripts keeps transcript announcements in their original order.
func FilterTranscripts(items []Announcement) []Announcement {
	var out []Announcement
	for _, a := range items {
		if IsTranscript(a) {
			out = append(out, a)
		}
	}
	return out
}
