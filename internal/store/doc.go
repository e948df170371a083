// Package store persists canonical datasets and hands out per-series
// write locks.
//
// Two implementations share the Store interface: FileStore keeps one
// artifact per series in the local data tree and PGStore mirrors records
// into PostgreSQL for SQL consumers. Writers must hold the series lock
// from Locks while replacing or appending; artifact replacement is atomic
// so readers outside the lock never observe a half-written file.
package store
