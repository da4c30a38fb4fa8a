package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveFile(t *testing.T, name string) *httptest.Server {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRSS(t *testing.T) {
	srv := serveFile(t, "rss.xml")

	f, err := NewFetcher(srv.Client(), "test-agent").Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Example Blog", f.Metadata.Title)
	assert.Equal(t, "en-us", f.Metadata.Language)
	assert.Equal(t, "Hugo", f.Metadata.Generator)

	require.Len(t, f.Entries, 3)

	third := f.Entries[0]
	assert.Equal(t, "https://blog.example.com/posts/3", third.Link)
	assert.Equal(t, "Third post", third.Title)
	assert.Equal(t, "2024-01-03T10:00:00Z", third.Published)
	assert.Equal(t, []string{"go"}, third.Fields["categories"])

	first := f.Entries[1]
	assert.Equal(t, "post-1", first.ID)
	assert.Equal(t, "2024-01-01T09:00:00Z", first.Published, "timestamps are normalised to UTC")

	undated := f.Entries[2]
	assert.Empty(t, undated.Published)
	assert.Equal(t, undated.Link, undated.ID, "missing guid falls back to link")
}

func TestFetchAtomFallsBackToUpdated(t *testing.T) {
	srv := serveFile(t, "atom.xml")

	f, err := NewFetcher(srv.Client(), "test-agent").Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Len(t, f.Entries, 1)
	e := f.Entries[0]
	assert.Equal(t, "https://atom.example.com/entries/1", e.Link)
	assert.Equal(t, "2024-02-01T08:30:00Z", e.Published)
	assert.Equal(t, "Jane Doe", e.Fields["author"])
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), "").Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusGone, httpErr.StatusCode)
}

func TestFetchUnparseable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a feed"))
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), "").Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing feed")
}

func TestFetchCanceled(t *testing.T) {
	srv := serveFile(t, "rss.xml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(srv.Client(), "test-agent").Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEntryTemplateData(t *testing.T) {
	e := Entry{
		ID:        "1",
		Link:      "https://example.com/1",
		Title:     "Hello",
		Published: "2024-01-01T00:00:00Z",
		Fields:    map[string]any{"author": "Jane", "title": "shadowed"},
	}

	data := e.TemplateData()
	assert.Equal(t, "Hello", data["title"], "core fields win over passthrough fields")
	assert.Equal(t, "Jane", data["author"])
	assert.Equal(t, "https://example.com/1", data["link"])
}
