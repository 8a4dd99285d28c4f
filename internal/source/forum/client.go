// Package forum implements the listing source against the forum's JSON
// listing endpoint, with best-effort session authentication.
package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
)

const (
	listingPath = "/sam/latest_alpha/latest_data.php"
	loginPath   = "/login/login"
	// sessionCookie is set by the forum on successful login.
	sessionCookie = "xf_user"
)

// Config controls the forum client.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// Client is an indexer.ListingSource backed by the forum listing endpoint.
type Client struct {
	http     *resty.Client
	cfg      Config
	logger   *zap.Logger
	loggedIn atomic.Bool
}

// NewClient builds a client with a cookie jar so the login session persists
// across listing calls.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("forum.base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetCookieJar(jar).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Client{http: http, cfg: cfg, logger: logger.Named("forum")}, nil
}

// Authenticate logs in to obtain session cookies. It is best effort: any
// failure is logged and reported as false, and listing calls proceed
// anonymously with possibly degraded results.
func (c *Client) Authenticate(ctx context.Context) bool {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		c.logger.Debug("no credentials configured, skipping login")
		return false
	}

	token, err := c.fetchLoginToken(ctx)
	if err != nil {
		c.logger.Warn("login token fetch failed", zap.Error(err))
		return false
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"login":       c.cfg.Username,
			"password":    c.cfg.Password,
			"_xfToken":    token,
			"remember":    "1",
			"_xfRedirect": c.cfg.BaseURL + "/",
		}).
		Post(loginPath)
	if err != nil {
		c.logger.Warn("login request failed", zap.Error(err))
		return false
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			c.loggedIn.Store(true)
			c.logger.Info("forum login succeeded", zap.String("user", c.cfg.Username))
			return true
		}
	}
	c.logger.Warn("login rejected, no session cookie issued")
	return false
}

func (c *Client) fetchLoginToken(ctx context.Context) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(loginPath)
	if err != nil {
		return "", fmt.Errorf("fetch login page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}
	token, ok := doc.Find(`input[name="_xfToken"]`).Attr("value")
	if !ok || token == "" {
		return "", fmt.Errorf("login CSRF token not found")
	}
	return token, nil
}

type listingEnvelope struct {
	Status string `json:"status"`
	Msg    struct {
		Data []listingEntry `json:"data"`
	} `json:"msg"`
}

type listingEntry struct {
	ThreadID json.Number `json:"thread_id"`
	Title    string      `json:"title"`
	Creator  string      `json:"creator"`
	Version  string      `json:"version"`
	Cover    string      `json:"cover"`
	Screens  []string    `json:"screens"`
	TS       json.Number `json:"ts"`
	Date     string      `json:"date"`
}

// FetchPage returns one listing page. A transport or envelope error yields
// (nil, err); a successful call with zero items yields an empty non-nil
// slice, which the orchestrator treats as end of list.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int, sort indexer.SortMode) ([]indexer.ListingItem, error) {
	var envelope listingEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cmd":  "list",
			"cat":  "games",
			"page": fmt.Sprintf("%d", page),
			"rows": fmt.Sprintf("%d", pageSize),
			"sort": string(sort),
		}).
		SetResult(&envelope).
		ForceContentType("application/json").
		Get(listingPath)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing page %d: unexpected status %d", page, resp.StatusCode())
	}
	if envelope.Status != "ok" {
		return nil, fmt.Errorf("listing page %d: upstream status %q", page, envelope.Status)
	}

	items := make([]indexer.ListingItem, 0, len(envelope.Msg.Data))
	for _, entry := range envelope.Msg.Data {
		item, ok := entry.toItem()
		if !ok {
			c.logger.Debug("skipping listing entry without thread id", zap.String("title", entry.Title))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (e listingEntry) toItem() (indexer.ListingItem, bool) {
	id, err := e.ThreadID.Int64()
	if err != nil || id <= 0 {
		return indexer.ListingItem{}, false
	}

	item := indexer.ListingItem{
		ID:      id,
		Title:   strings.TrimSpace(e.Title),
		Creator: strings.TrimSpace(e.Creator),
		Version: strings.TrimSpace(e.Version),
	}
	if e.Cover != "" {
		item.CoverCandidates = append(item.CoverCandidates, e.Cover)
	}
	item.CoverCandidates = append(item.CoverCandidates, e.Screens...)
	item.UpdatedAt = e.updatedAt()
	return item, true
}

// updatedAt prefers the structured epoch field; the raw date string is
// usually relative ("Yesterday") and only parsed when it happens to be an
// epoch number.
func (e listingEntry) updatedAt() *time.Time {
	if ts, err := e.TS.Int64(); err == nil && ts > 0 {
		at := time.Unix(ts, 0).UTC()
		return &at
	}
	if n, err := json.Number(strings.TrimSpace(e.Date)).Int64(); err == nil && n > 0 {
		at := time.Unix(n, 0).UTC()
		return &at
	}
	return nil
}
