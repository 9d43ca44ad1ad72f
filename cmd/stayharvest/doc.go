// Package main hosts the stay harvest service entrypoint.
//
// Architecture overview:
//   - Crawl driver: internal/run.Orchestrator resumes from a persisted cursor
//     over an externally supplied tile list, skips tiles and records scraped
//     within their freshness windows, and enforces per-run budgets for new
//     records and detail fetches.
//   - Search pipeline: internal/search builds persisted-query search requests
//     from harvested session material, pages through each tile until the
//     cursor runs out or a short page signals the end, and validates listings
//     before they reach the store. internal/extract tolerates provider schema
//     drift with known key-paths plus a bounded structural deep scan; drifted
//     responses are archived to the snapshot store for offline inspection.
//   - Detail enrichment: internal/enrich issues per-record section fetches
//     and merges host, location, rating and calendar fields into existing
//     rows. Any malformed response downgrades to a skip, never a crash.
//   - Persistence & fanout: crawl state (cursor, tiles, records) lives in
//     Postgres via pgx. Record lifecycle events are published to Pub/Sub when
//     a topic is configured. Raw drifted payloads go to GCS or local disk.
//   - Configuration & plumbing: Viper populates config from env/files with
//     the STAYHARVEST prefix; zap provides structured logging; Prometheus
//     metrics are exported on /metrics; chi serves the operational API
//     (/healthz, /readyz, /v1/stats, POST /v1/runs).
//
// Operational notes:
//   - Session material (operation tokens, API key, header bag) is harvested
//     out of band by a browser collaborator and dropped as a JSON file; the
//     service reloads it on change and never performs authentication itself.
//   - Pacing: one token-bucket limiter spaces all per-record requests; fetch
//     retries use exponential backoff with jitter and honor context
//     cancellation.
//   - Run modes: "stayharvest crawl" performs a single crawl pass and exits
//     (cron/Cloud Run jobs); "stayharvest serve" serves the API and crawls on
//     POST /v1/runs.
package main
