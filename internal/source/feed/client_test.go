package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rssDocument(entries string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Latest Updates</title>
%s
</channel>
</rss>`, entries)
}

func serveRSS(t *testing.T, doc string, gotURL *string) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotURL != nil {
			*gotURL = r.URL.String()
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

// TestFetchRecentParsesEntries extracts thread id, cleaned title, version
// and creator from a typical feed entry.
func TestFetchRecentParsesEntries(t *testing.T) {
	t.Parallel()

	doc := rssDocument(`
<item>
<title>[UPDATE] Summer Nights [v0.4]</title>
<link>https://forum.example/threads/summer-nights.12345/</link>
<author>cooldev &lt;rss@forum&gt;</author>
<pubDate>Mon, 03 Jun 2024 10:00:00 +0000</pubDate>
</item>`)

	var gotURL string
	c := serveRSS(t, doc, &gotURL)

	items, err := c.FetchRecent(context.Background(), 30, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(12345), items[0].ID)
	require.Equal(t, "Summer Nights", items[0].Title)
	require.Equal(t, "v0.4", items[0].Version)
	require.Equal(t, "cooldev", items[0].Creator)
	require.NotNil(t, items[0].UpdatedAt)
	require.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), items[0].UpdatedAt.UTC())
	require.Contains(t, gotURL, "cmd=rss")
	require.Contains(t, gotURL, "rows=30")
}

// TestFetchRecentSearchTerm appends the plus-joined search parameter.
func TestFetchRecentSearchTerm(t *testing.T) {
	t.Parallel()

	var gotURL string
	c := serveRSS(t, rssDocument(""), &gotURL)

	_, err := c.FetchRecent(context.Background(), 10, "summer nights")
	require.NoError(t, err)
	require.Contains(t, gotURL, "search=summer+nights")
}

// TestFetchRecentSkipsUnparseableLinks drops entries whose link carries no
// thread id instead of failing the whole fetch.
func TestFetchRecentSkipsUnparseableLinks(t *testing.T) {
	t.Parallel()

	doc := rssDocument(`
<item>
<title>[NEW] Good Entry</title>
<link>https://forum.example/threads/9.77/</link>
</item>
<item>
<title>[NEW] Bad Entry</title>
<link>https://forum.example/misc/announcement</link>
</item>`)

	c := serveRSS(t, doc, nil)

	items, err := c.FetchRecent(context.Background(), 30, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(77), items[0].ID)
	require.Equal(t, "Good Entry", items[0].Title)
}

// TestFetchRecentRespectsLimit truncates oversized feed responses.
func TestFetchRecentRespectsLimit(t *testing.T) {
	t.Parallel()

	entries := ""
	for i := 1; i <= 5; i++ {
		entries += fmt.Sprintf(`
<item>
<title>[GAME] Entry %d</title>
<link>https://forum.example/threads/e.%d/</link>
</item>`, i, i)
	}

	c := serveRSS(t, rssDocument(entries), nil)

	items, err := c.FetchRecent(context.Background(), 2, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

// TestThreadIDForms accepts both the trailing ".12345/" form and the bare
// "threads/12345" form.
func TestThreadIDForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		link string
		id   int64
		ok   bool
	}{
		{"https://forum.example/threads/name.42/", 42, true},
		{"https://forum.example/threads/name.42", 42, true},
		{"https://forum.example/threads/42", 42, true},
		{"https://forum.example/members/someone.5/", 5, true},
		{"https://forum.example/whats-new/", 0, false},
	}
	for _, tc := range cases {
		id, ok := threadID(tc.link)
		require.Equal(t, tc.ok, ok, tc.link)
		if tc.ok {
			require.Equal(t, tc.id, id, tc.link)
		}
	}
}

// TestCleanAuthor strips the rss mailbox wrapper.
func TestCleanAuthor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "dev", cleanAuthor("dev <rss@forum>"))
	require.Equal(t, "dev", cleanAuthor("  dev  "))
	require.Equal(t, "", cleanAuthor("<rss@forum>"))
}

// TestNewClientRequiresBaseURL rejects an empty base URL.
func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}
