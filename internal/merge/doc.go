// Package merge builds canonical datasets from partition contents.
//
// Partitions decode in parallel worker tasks; deduplication and the full
// stable sort run single-threaded after all workers finish. Partition-local
// record order is never trusted.
package merge
