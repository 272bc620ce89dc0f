// Package metrics registers the Prometheus collectors that instrument the
// reconciler and the log/health pipeline: reconcile cadence and duration,
// per-action counts, connector counts by status, reported log lines, and
// reboot-loop occupancy. Handler exposes them over HTTP for scraping.
package metrics
