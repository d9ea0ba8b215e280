package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientSetsHeadersAndCaps(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
	}))
	defer srv.Close()

	client := NewClient(3, time.Second, map[string]string{
		"User-Agent": "finsights-test",
		"Referer":    "https://example.com/",
	})
	ht, ok := client.Transport.(*headerTransport)
	require.True(t, ok)
	tr := ht.next.(*http.Transport)
	assert.Equal(t, 3, tr.MaxConnsPerHost)
	assert.Equal(t, 3, tr.MaxIdleConnsPerHost)
	assert.Equal(t, time.Second, client.Timeout)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Referer", "https://caller.example/")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "finsights-test", gotUA)
	assert.Equal(t, "https://caller.example/", gotReferer)
	assert.Empty(t, req.Header.Get("User-Agent"))
}
