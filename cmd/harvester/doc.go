// Package main hosts the contact harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics and the /v1 job endpoints. Requests are
//     normalized into harvest parameters and handed to the orchestrator.
//   - Orchestrator and pool: jobs are persisted in the job store, registered with a stop token and enqueued on a
//     bounded in-memory queue sized by orchestrator.queue_depth. A fixed set of workers sized by
//     orchestrator.concurrency drains it. A full queue rejects the submission instead of blocking forever.
//   - Email pipeline: sitemap discovery (robots.txt plus well-known paths) feeds a ranked page inventory; pages are
//     visited through chromedp or the plain HTTP driver, paced per site, and scanned for addresses.
//   - Directory pipeline: a location is geocoded, nearby or text search results are paged through and each unknown
//     place becomes a lead with its details.
//   - Persistence and fanout: jobs and leads live in memory, SQLite or Postgres. Finished email jobs and backfill
//     reports are written to the artifact store (memory, local or GCS). Job and lead events go through the events
//     hub to the log, Prometheus and an optional Kafka or Pub/Sub topic.
//
// Operational notes:
//   - Stop requests raise an in-process token and, when redis.enabled is set, a Redis flag so that a restarted
//     process still sees them. Jobs left running by a previous process are marked failed on start.
//   - SIGINT/SIGTERM drains the HTTP server, cancels running jobs and fails jobs still waiting in the queue.
//
// Quick checklist:
//   - Put GOOGLE_API_KEY in the environment or a .env file for directory jobs.
//   - Override keys with CRAWLER_ env vars, e.g. CRAWLER_STORAGE_DRIVER=sqlite or CRAWLER_BROWSER_DRIVER=http.
//   - Run locally: go run ./cmd/harvester -config config.yaml
package main
