// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Merge records retained, duplicates, unreadable partitions, gaps
//   - Merge job duration
//   - Updater flush throughput, continuity breaks, reconnects, state
//   - Backfill download outcomes
//
// A Collector owns its own registry; commands feed it from merge
// reports, backfill reports, and updater events, and serve Handler on
// the metrics port.
package metrics
