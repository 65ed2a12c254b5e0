/*
Package metrics defines the Prometheus collectors of the backup scheduler and
the component registry behind the /health and /ready endpoints.

All collectors use the sbe_ prefix and are registered with the default
Prometheus registry at package init. Handler exposes them for scraping.

	timer := metrics.NewTimer()
	err := vol.Mount(ctx)
	timer.ObserveDurationVec(metrics.VolumeOperationDuration, "mount")

Collector samples queue depth periodically into sbe_queue_entries. The
Registry tracks per-component health; the daemon reports "queue", "jobs" and
"scheduler" and is ready once all three are healthy.
*/
package metrics
