package feed

import (
	"context"

	"github.com/quantfall/binance-data/internal/model"
)

// ContinuationPoint is the key of the last persisted record, from which a
// feed resumes without gaps or duplicates. The zero Time with a NoID ID
// subscribes from the live edge.
type ContinuationPoint struct {
	Time int64 // ordering key, microseconds since epoch
	ID   int64 // identity key, model.NoID when absent
}

// StartNow returns a continuation point subscribing from the live edge.
func StartNow() ContinuationPoint {
	return ContinuationPoint{ID: model.NoID}
}

// ResumeAfter returns a continuation point resuming just after rec.
func ResumeAfter(rec model.Record) ContinuationPoint {
	return ContinuationPoint{Time: rec.Time, ID: rec.ID}
}

// Live reports whether the point means "start from now".
func (cp ContinuationPoint) Live() bool {
	return cp.Time == 0 && cp.ID == model.NoID
}

// Feed subscribes to live records for a series.
type Feed interface {
	Subscribe(ctx context.Context, series model.Series, from ContinuationPoint) (Stream, error)
}

// Streamable reports whether a live feed exists for the series.
func Streamable(series model.Series) bool {
	return checkStreamable(series) == nil
}

// Stream is a possibly-infinite record sequence. Next blocks until a
// record arrives, the context is cancelled, or the feed fails.
type Stream interface {
	Next(ctx context.Context) (model.Record, error)
	Close() error
}
