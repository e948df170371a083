// Package continuity determines the maximal contiguous coverage of a
// requested range from partition metadata and reports the gaps.
//
// Validation is pure: it never touches file contents, only range metadata,
// so callers can re-run it cheaply before and after a download attempt.
package continuity
