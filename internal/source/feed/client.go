// Package feed reads the forum's RSS listing as a lightweight discovery
// source for titles not yet indexed.
package feed

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
)

const feedPath = "/sam/latest_alpha/latest_data.php"

var (
	// Entry titles look like "[UPDATE] Some Game [v0.4] [Creator]".
	titleRe = regexp.MustCompile(`^\[(?:UPDATE|NEW|GAME)\]\s(.*?)(?:\s\[([^\]]+)\])?$`)
	// Thread ids appear as a trailing ".12345/" segment or a
	// "threads/12345" path element in entry links.
	linkTailRe   = regexp.MustCompile(`\.(\d+)/?$`)
	linkThreadRe = regexp.MustCompile(`threads/(\d+)`)
)

// Config controls the feed client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client implements indexer.FeedSource.
type Client struct {
	parser *gofeed.Parser
	cfg    Config
	logger *zap.Logger
}

// NewClient builds a feed client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed.base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &Client{parser: parser, cfg: cfg, logger: logger.Named("feed")}, nil
}

// FetchRecent returns the newest feed entries, optionally filtered by a
// search term, as listing items. Entries whose thread id cannot be parsed
// are skipped.
func (c *Client) FetchRecent(ctx context.Context, limit int, search string) ([]indexer.ListingItem, error) {
	if limit <= 0 {
		limit = 30
	}
	url := fmt.Sprintf("%s%s?cmd=rss&cat=games&rows=%d", strings.TrimRight(c.cfg.BaseURL, "/"), feedPath, limit)
	if search != "" {
		url += "&search=" + strings.ReplaceAll(search, " ", "+")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	feed, err := c.parser.ParseURLWithContext(url, fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	items := make([]indexer.ListingItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item, ok := c.toItem(entry)
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (c *Client) toItem(entry *gofeed.Item) (indexer.ListingItem, bool) {
	id, ok := threadID(entry.Link)
	if !ok {
		c.logger.Debug("skipping feed entry without thread id", zap.String("link", entry.Link))
		return indexer.ListingItem{}, false
	}

	title := strings.TrimSpace(entry.Title)
	version := ""
	if m := titleRe.FindStringSubmatch(title); m != nil {
		title = strings.TrimSpace(m[1])
		version = strings.TrimSpace(m[2])
	}

	creator := ""
	if entry.Author != nil {
		creator = cleanAuthor(entry.Author.Name)
	}

	var updated *time.Time
	if entry.PublishedParsed != nil {
		ts := entry.PublishedParsed.UTC()
		updated = &ts
	}

	var covers []string
	if entry.Image != nil && entry.Image.URL != "" {
		covers = append(covers, entry.Image.URL)
	}

	return indexer.ListingItem{
		ID:              id,
		Title:           title,
		Creator:         creator,
		Version:         version,
		CoverCandidates: covers,
		UpdatedAt:       updated,
	}, true
}

// cleanAuthor strips the feed's "<rss@f95>" mailbox wrapper around names.
func cleanAuthor(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, "<"); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

func threadID(link string) (int64, bool) {
	for _, re := range []*regexp.Regexp{linkTailRe, linkThreadRe} {
		if m := re.FindStringSubmatch(link); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}
