// Package main hosts the indexer service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, game search and
//     crawl management endpoints behind chi. Search results pass through the
//     freshness refresher before they are returned, and a text query that
//     misses the store falls back to RSS discovery.
//   - Crawl orchestrator: internal/crawl runs a two-phase cycle. The seed
//     phase pages the forum listing (alphabetical on a full crawl, by update
//     date on incremental runs, stopping at the previous watermark) and
//     upserts basic fields. The enrichment phase drains unenriched records in
//     small batches: one fast-check call per batch, then rate-limited detail
//     fetches merged via internal/indexer.MergeDetails.
//   - Crash safety: the cursor lives in a JSON state file written atomically
//     after every page and batch. A process that died mid-crawl resumes from
//     the persisted cursor on the next boot; serve does this automatically.
//   - Persistence: internal/storage/postgres backs the record store via pgx;
//     an empty db.dsn selects the in-memory store for local runs.
//   - Telemetry: the orchestrator emits progress events to a batching hub
//     that fans out to zap logs, Prometheus counters, and an in-memory ring
//     served at /v1/crawl/progress. /metrics exposes the Prometheus registry.
//   - Configuration & plumbing: Viper populates config from file/env
//     (AVNIDX_* overrides); zap provides structured logging; robfig/cron
//     triggers periodic incremental crawls when the scheduler is enabled.
//
// Operational notes:
//   - Pacing: page, batch, and detail delays are configurable and enforced
//     through a cancellable sleeper, so shutdown never waits out a delay.
//   - The checker client carries a daily request budget; exhaustion is a
//     transient error and the crawl resumes after the UTC day rolls over.
//   - Run locally: go run ./cmd/indexer serve --config config.yaml, or
//     go run ./cmd/indexer crawl --reset for a one-shot full crawl.
package main
