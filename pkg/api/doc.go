/*
Package api serves the scheduler's status over HTTP.

The server is optional and read-only. It is started by `sbe run` when
http_addr is set and exposes:

	GET /health         component health, 503 when a component is unhealthy
	GET /ready          readiness of the queue, job file and scheduler loop
	GET /live           liveness
	GET /metrics        Prometheus metrics
	GET /v1/queue       pending and running queue entries
	GET /v1/completed   recent completion records, ?limit=N (default 50)
	GET /v1/history     per-job run statistics

Any other method is answered with 405.
*/
package api
