package model

import "errors"

// Error taxonomy shared across the engine. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can match categories with errors.Is.
var (
	// ErrNotFound: no partitions or feed data exist for the requested scope.
	// Non-retriable, surfaced to the caller.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable: transient remote failure. Retriable with backoff,
	// bounded attempts.
	ErrUnavailable = errors.New("unavailable")

	// ErrDecodeFailure: a single partition is corrupt. Isolated, excluded
	// from the merge, reported; never aborts the whole operation.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrContinuityBreak: the historical/live boundary does not line up.
	// Surfaced, never silently patched.
	ErrContinuityBreak = errors.New("continuity break")

	// ErrLockContention: another merge or flush holds the series.
	ErrLockContention = errors.New("lock contention")
)

// IsNotFound reports whether err is the not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetriable reports whether the failed operation may be retried with
// backoff.
func IsRetriable(err error) bool { return errors.Is(err, ErrUnavailable) }
