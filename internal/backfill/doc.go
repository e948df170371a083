// Package backfill materializes remote archive partitions in the local
// archive tree.
//
// The Planner expands configured series over a time range into download
// jobs, one per partition file the remote serves but the local tree
// lacks. The Runner downloads jobs with bounded concurrency, converts
// each zip container to the configured storage format through the
// codecs, and writes the result atomically. Partitions the remote never
// published are logged and skipped; the archive has holes.
package backfill
