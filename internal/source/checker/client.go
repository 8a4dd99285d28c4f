// Package checker implements the fast-check and detail sources against the
// external checker API, under a strict daily request budget.
package checker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
)

// ErrBudgetExhausted is returned once the daily request budget is spent.
// Callers treat it as a transient failure; the budget rolls over at the
// next UTC day boundary.
var ErrBudgetExhausted = errors.New("checker daily request budget exhausted")

// Config controls the checker client.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	DailyLimit int
}

// Client implements indexer.FastCheckSource and indexer.DetailSource.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger
	clock  indexer.Clock

	mu        sync.Mutex
	spent     int
	budgetDay time.Time
}

// NewClient builds a checker client.
func NewClient(cfg Config, clock indexer.Clock, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("checker.base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)
	return &Client{http: http, cfg: cfg, clock: clock, logger: logger.Named("checker")}, nil
}

// spend reserves one request against the daily budget.
func (c *Client) spend() error {
	today := c.clock.Now().Truncate(24 * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.budgetDay.Equal(today) {
		c.budgetDay = today
		c.spent = 0
	}
	if c.spent >= c.cfg.DailyLimit {
		return ErrBudgetExhausted
	}
	c.spent++
	return nil
}

// CheckBatch maps external ids to upstream change timestamps in one call.
// Ids missing from the result are unknown upstream; partial results are
// expected and valid.
func (c *Client) CheckBatch(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}
	if err := c.spend(); err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}

	var raw map[string]int64
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(parts, ",")).
		SetResult(&raw).
		ForceContentType("application/json").
		Get("/fast")
	if err != nil {
		return nil, fmt.Errorf("fast check: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fast check: unexpected status %d", resp.StatusCode())
	}

	out := make(map[int64]int64, len(raw))
	for key, ts := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			c.logger.Debug("skipping non-numeric fast check key", zap.String("key", key))
			continue
		}
		out[id] = ts
	}
	return out, nil
}

// FetchDetail returns the full detail payload for one id. A 404 means the
// record is absent upstream and yields (nil, nil).
func (c *Client) FetchDetail(ctx context.Context, id int64, asOf int64) (indexer.DetailPayload, error) {
	if err := c.spend(); err != nil {
		return nil, err
	}

	var payload indexer.DetailPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ts", strconv.FormatInt(asOf, 10)).
		SetResult(&payload).
		ForceContentType("application/json").
		Get(fmt.Sprintf("/full/%d", id))
	if err != nil {
		return nil, fmt.Errorf("fetch detail %d: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch detail %d: unexpected status %d", id, resp.StatusCode())
	}
	return payload, nil
}
