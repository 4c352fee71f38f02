// Package main hosts the sitecrawl entrypoint.
//
// Architecture overview:
//   - CLI: cmd wires cobra subcommands. Viper resolves flags, CRAWLER_* environment variables, an optional config
//     file, and defaults, in that order. `crawl` runs one crawl in the foreground; `serve` starts the HTTP API;
//     `search` indexes stored pages and prints hits.
//   - Engine: internal/engine.Controller owns one crawl. A frontier of unique URLs feeds a fixed worker pool; each
//     worker checks robots.txt (failing open), scope, and the page budget, waits out the politeness delay and the
//     per-host rate limit, fetches through the Colly-based fetcher, and retries network errors with backoff.
//   - Persistence & fanout: committed pages are batched into the configured page store (memory/sqlite/Postgres).
//     Snapshots can be exported to a local directory or GCS. Progress events flow through a buffered Hub to zap logs,
//     Prometheus counters, the Postgres run table, and optionally Pub/Sub.
//   - Search: internal/index builds an inverted index over title, meta description, body text, and image alt text,
//     with token (AND across tokens, scored by match count) and phrase modes.
//
// Quick checklist:
//   - Run locally: go run ./cmd/sitecrawl crawl example.com --max-pages 50 --query "contact us".
//   - Serve: go run ./cmd/sitecrawl serve --config config.yaml, then POST /v1/crawls {"seed_url": "..."}.
//   - Persist across runs: CRAWLER_STORE_DRIVER=sqlite CRAWLER_STORE_DSN=pages.db.
package main
