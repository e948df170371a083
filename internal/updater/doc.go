// Package updater keeps series current by streaming live feed records
// into the store.
//
// Each Updater owns one series. It resumes from the stored tail,
// deduplicates feed replays against a bounded window of recently seen
// keys, buffers survivors in a growable ring, and appends them in
// sorted batches under the per-series lock. A feed record that skips
// past the last accepted key by more than one identity step (or one
// interval unit for keyless series) stops the updater with
// model.ErrContinuityBreak; the contiguous prefix is flushed first.
// Transient feed failures flush the buffer, then reconnect with
// jittered exponential backoff from the last flushed key, bounded by
// MaxReconnects.
//
// State changes and flushes are published as Events on a non-blocking
// channel: idle, streaming, flushing, stopped.
package updater
