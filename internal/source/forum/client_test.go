package forum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avncodex/indexer/internal/indexer"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

// TestFetchPageParsesEnvelope decodes the listing envelope and normalizes
// entries, preferring the cover over screenshots.
func TestFetchPageParsesEnvelope(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, listingPath, r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "list", q.Get("cmd"))
		require.Equal(t, "games", q.Get("cat"))
		require.Equal(t, "3", q.Get("page"))
		require.Equal(t, "60", q.Get("rows"))
		require.Equal(t, "date", q.Get("sort"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"msg": {"data": [
				{
					"thread_id": 12345,
					"title": "  Summer Nights ",
					"creator": "cooldev",
					"version": "v0.4",
					"cover": "https://cdn/cover.jpg",
					"screens": ["https://cdn/s1.jpg"],
					"ts": 1700000000
				},
				{
					"thread_id": "678",
					"title": "String ID Game",
					"date": "Yesterday"
				},
				{
					"thread_id": 0,
					"title": "Broken"
				}
			]}
		}`))
	}), Config{})

	items, err := c.FetchPage(context.Background(), 3, 60, indexer.SortByDate)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, int64(12345), items[0].ID)
	require.Equal(t, "Summer Nights", items[0].Title)
	require.Equal(t, "cooldev", items[0].Creator)
	require.Equal(t, "v0.4", items[0].Version)
	require.Equal(t, []string{"https://cdn/cover.jpg", "https://cdn/s1.jpg"}, items[0].CoverCandidates)
	require.NotNil(t, items[0].UpdatedAt)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), *items[0].UpdatedAt)

	require.Equal(t, int64(678), items[1].ID)
	require.Nil(t, items[1].UpdatedAt, "relative date strings carry no timestamp")
}

// TestFetchPageEmptyData returns an empty non-nil slice, the end-of-list
// signal.
func TestFetchPageEmptyData(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","msg":{"data":[]}}`))
	}), Config{})

	items, err := c.FetchPage(context.Background(), 1, 60, indexer.SortByTitle)
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

// TestFetchPageUpstreamStatusError treats a non-ok envelope status as a
// transient failure.
func TestFetchPageUpstreamStatusError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"error","msg":{"data":[]}}`))
	}), Config{})

	_, err := c.FetchPage(context.Background(), 1, 60, indexer.SortByTitle)
	require.ErrorContains(t, err, `upstream status "error"`)
}

// TestFetchPageHTTPError surfaces a non-2xx response as an error.
func TestFetchPageHTTPError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), Config{})

	_, err := c.FetchPage(context.Background(), 2, 60, indexer.SortByTitle)
	require.ErrorContains(t, err, "unexpected status 503")
}

// TestAuthenticateSuccess fetches the CSRF token, posts credentials and
// reports true once the session cookie arrives.
func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == loginPath:
			w.Write([]byte(`<html><form><input name="_xfToken" value="csrf-token-1"></form></html>`))
		case r.Method == http.MethodPost && r.URL.Path == loginPath:
			require.NoError(t, r.ParseForm())
			require.Equal(t, "user1", r.PostForm.Get("login"))
			require.Equal(t, "pass1", r.PostForm.Get("password"))
			require.Equal(t, "csrf-token-1", r.PostForm.Get("_xfToken"))
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "session-abc"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), Config{Username: "user1", Password: "pass1"})

	require.True(t, c.Authenticate(context.Background()))
}

// TestAuthenticateNoCredentials skips login entirely.
func TestAuthenticateNoCredentials(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected without credentials")
	}), Config{})

	require.False(t, c.Authenticate(context.Background()))
}

// TestAuthenticateRejected returns false when no session cookie is issued;
// listing calls still work anonymously.
func TestAuthenticateRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<input name="_xfToken" value="tok">`))
			return
		}
		w.Write([]byte(`rejected`))
	}), Config{Username: "user1", Password: "bad"})

	require.False(t, c.Authenticate(context.Background()))
}

// TestAuthenticateMissingToken fails softly when the login page carries no
// CSRF token.
func TestAuthenticateMissingToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}), Config{Username: "user1", Password: "pass1"})

	require.False(t, c.Authenticate(context.Background()))
}
