package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
forum:
  base_url: https://forum.example
checker:
  base_url: https://checker.example
`

// TestLoadDefaults applies defaults on top of a minimal file.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "data/crawl_state.json", cfg.Crawl.StatePath)
	require.Equal(t, 60, cfg.Crawl.PageSize)
	require.Equal(t, 10, cfg.Crawl.BatchSize)
	require.Equal(t, 1000, cfg.Checker.DailyLimit)
	require.Equal(t, 168, cfg.Freshness.WindowHours)
	require.Equal(t, "avn-indexer/1.0", cfg.Forum.UserAgent)
	require.False(t, cfg.Scheduler.Enabled)
	require.True(t, cfg.Logging.Development)
}

// TestLoadMissingRequiredFields rejects configs without upstream URLs.
func TestLoadMissingRequiredFields(t *testing.T) {
	_, err := Load(writeConfigFile(t, `
forum:
  base_url: https://forum.example
`))
	require.ErrorContains(t, err, "checker.base_url")

	_, err = Load(writeConfigFile(t, `
checker:
  base_url: https://checker.example
`))
	require.ErrorContains(t, err, "forum.base_url")
}

// TestLoadAuthRequiresKey rejects enabled auth without an API key.
func TestLoadAuthRequiresKey(t *testing.T) {
	_, err := Load(writeConfigFile(t, minimalConfig+`
auth:
  enabled: true
`))
	require.ErrorContains(t, err, "auth.api_key")
}

// TestLoadSchedulerIntervalValidation rejects unparseable intervals.
func TestLoadSchedulerIntervalValidation(t *testing.T) {
	_, err := Load(writeConfigFile(t, minimalConfig+`
scheduler:
  enabled: true
  interval: often
`))
	require.ErrorContains(t, err, "scheduler.interval")

	cfg, err := Load(writeConfigFile(t, minimalConfig+`
scheduler:
  enabled: true
  interval: 30m
`))
	require.NoError(t, err)
	require.Equal(t, "30m", cfg.Scheduler.Interval)
}

// TestLoadEnvOverride lets AVNIDX_* environment variables win over the
// file. Not parallel: mutates process environment.
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AVNIDX_SERVER_PORT", "9999")
	t.Setenv("AVNIDX_CRAWL_PAGE_SIZE", "15")

	cfg, err := Load(writeConfigFile(t, minimalConfig))
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 15, cfg.Crawl.PageSize)
}

// TestCrawlSettingsDurations converts second knobs to durations in order.
func TestCrawlSettingsDurations(t *testing.T) {
	cfg := Config{Crawl: CrawlConfig{
		PageDelaySeconds:    30,
		PageRetrySeconds:    60,
		DetailDelaySeconds:  2,
		BatchDelaySeconds:   45,
		BatchOverheadSecond: 5,
	}}

	pageDelay, pageRetry, detailDelay, batchDelay, batchOverhead := cfg.CrawlSettings()
	require.Equal(t, 30*time.Second, pageDelay)
	require.Equal(t, 60*time.Second, pageRetry)
	require.Equal(t, 2*time.Second, detailDelay)
	require.Equal(t, 45*time.Second, batchDelay)
	require.Equal(t, 5*time.Second, batchOverhead)
}

// TestFreshnessWindow converts hours to a duration.
func TestFreshnessWindow(t *testing.T) {
	cfg := Config{Freshness: FreshnessConfig{WindowHours: 168}}
	require.Equal(t, 7*24*time.Hour, cfg.FreshnessWindow())
}

// TestLoadBadConfigFile surfaces unreadable files.
func TestLoadBadConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}
