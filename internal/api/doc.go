// Package api hosts the HTTP control surface of the harvester. Notable routes:
//   - POST /v1/jobs/email and /v1/jobs/directory submit jobs.
//   - GET /v1/jobs/{job_id}/progress and POST /v1/jobs/{job_id}/stop poll
//     and cancel them.
//   - POST /v1/leads/backfill enriches stored leads with emails.
//   - GET /healthz, /readyz and /metrics for health checks and Prometheus.
package api
