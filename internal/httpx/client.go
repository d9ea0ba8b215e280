// Package httpx builds the outbound HTTP clients used by the feed fetcher and
// the PDF downloader.
package httpx

import (
	"net/http"
	"time"
)

// Doer is the slice of *http.Client the pipeline depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns a client whose per-host connection pool is capped at
// maxConns, matching the goroutine limit of the stage using it, and whose
// every request carries headers and times out after timeout.
func NewClient(maxConns int, timeout time.Duration, headers map[string]string) *http.Client {
	if maxConns <= 0 {
		maxConns = 1
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = maxConns
	transport.MaxIdleConnsPerHost = maxConns
	return &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{next: transport, headers: headers},
	}
}

type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.next.RoundTrip(req)
	}
	// RoundTrippers must not mutate the caller's request.
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.next.RoundTrip(r)
}
