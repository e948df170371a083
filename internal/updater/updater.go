package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/quantfall/binance-data/internal/feed"
	"github.com/quantfall/binance-data/internal/model"
	"github.com/quantfall/binance-data/internal/store"
)

const (
	eventBufferSize   = 64
	initialBufferSize = 256
	finalFlushTimeout = 5 * time.Second
)

// Config holds updater tuning parameters.
type Config struct {
	BatchSize          int           // records buffered before a flush (default: 1000)
	FlushInterval      time.Duration // max time between flushes (default: 1s)
	DedupWindow        int           // recently seen keys kept for replay absorption (default: 8192)
	ReconnectBaseDelay time.Duration // first reconnect backoff (default: 1s)
	ReconnectMaxDelay  time.Duration // backoff cap (default: 60s)
	MaxReconnects      int           // consecutive reconnect attempts before giving up (default: 10)
}

// BreakInfo describes a continuity break between the last accepted key
// and the first feed record beyond it.
type BreakInfo struct {
	LastTime int64 // ordering key of the last accepted record
	LastID   int64 // identity key, model.NoID when the series has none
	NextTime int64 // ordering key of the record past the hole
	NextID   int64
}

// Event reports an updater state change. LastFlushedKey is the max
// ordering key among persisted records, 0 before the first flush.
// Break is set only on the Stopped event that a continuity break causes.
type Event struct {
	State          model.UpdaterState
	LastFlushedKey int64
	Break          *BreakInfo
}

// Updater keeps one series current by streaming feed records into the
// store. It resumes from the stored tail, deduplicates replays against
// a bounded window, appends in batches under the series lock, and stops
// with model.ErrContinuityBreak when the feed skips past the tail.
type Updater struct {
	cfg    Config
	series model.Series
	feed   feed.Feed
	store  store.Store
	locks  *store.Locks
	logger *slog.Logger

	buf         *RecordBuffer
	events      chan Event
	flushNotify chan struct{}

	hasID bool
	unit  model.Interval

	// Owned by the ingest goroutine while a stream is live; read by Run
	// only after the stream goroutine has exited.
	lastSeen  continuationKey
	seen      *dedupWindow
	breakInfo *BreakInfo

	// Counters, safe to read concurrently via Stats.
	received       atomic.Int64
	dropped        atomic.Int64
	flushed        atomic.Int64
	reconnects     atomic.Int64
	lastFlushedKey atomic.Int64
}

type continuationKey struct {
	time  int64
	id    int64
	valid bool
}

// New creates an updater for a single series. Zero config fields fall
// back to defaults.
func New(cfg Config, series model.Series, fd feed.Feed, st store.Store, locks *store.Locks, logger *slog.Logger) *Updater {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 8192
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 60 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Updater{
		cfg:         cfg,
		series:      series,
		feed:        fd,
		store:       st,
		locks:       locks,
		logger:      logger,
		buf:         NewRecordBuffer(initialBufferSize),
		events:      make(chan Event, eventBufferSize),
		flushNotify: make(chan struct{}, 1),
		hasID:       series.HasIdentity(),
		unit:        series.Unit(),
		seen:        newDedupWindow(cfg.DedupWindow),
	}
}

// Events returns the state change stream. The channel is closed when
// Run returns. Slow consumers lose events rather than stalling flushes.
func (u *Updater) Events() <-chan Event {
	return u.events
}

// LastFlushedKey returns the max ordering key among persisted records.
func (u *Updater) LastFlushedKey() int64 {
	return u.lastFlushedKey.Load()
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Received       int64 // records accepted from the feed
	Flushed        int64 // records appended to the store
	Dropped        int64 // replays and stale keys discarded
	Reconnects     int64 // reconnect attempts across the updater's life
	LastFlushedKey int64
}

// Stats returns current counters. Safe to call from any goroutine.
func (u *Updater) Stats() Stats {
	return Stats{
		Received:       u.received.Load(),
		Flushed:        u.flushed.Load(),
		Dropped:        u.dropped.Load(),
		Reconnects:     u.reconnects.Load(),
		LastFlushedKey: u.lastFlushedKey.Load(),
	}
}

// Run streams the series until the context is cancelled, reconnect
// attempts are exhausted, or a continuity break is detected. Buffered
// records are flushed best-effort before returning.
func (u *Updater) Run(ctx context.Context) error {
	defer close(u.events)

	u.publish(Event{State: model.UpdaterIdle})

	tail, ok, err := u.store.Tail(ctx, u.series)
	if err != nil {
		u.publish(Event{State: model.UpdaterStopped})
		return fmt.Errorf("updater %s: read tail: %w", u.series, err)
	}

	from := feed.StartNow()
	if ok {
		from = feed.ResumeAfter(tail)
		u.lastSeen = continuationKey{time: tail.Time, id: tail.ID, valid: true}
		u.lastFlushedKey.Store(tail.Time)
	}

	u.logger.Info("updater starting",
		"series", u.series.String(),
		"resume", ok,
		"last_key", u.lastFlushedKey.Load(),
	)

	attempts := 0
	backoff := u.cfg.ReconnectBaseDelay

	for {
		stream, err := u.feed.Subscribe(ctx, u.series, from)
		if err != nil {
			if ctx.Err() != nil {
				u.stop(nil)
				return nil
			}
			if !model.IsRetriable(err) {
				u.stop(nil)
				return fmt.Errorf("updater %s: subscribe: %w", u.series, err)
			}
			attempts++
			u.reconnects.Add(1)
			if attempts > u.cfg.MaxReconnects {
				u.stop(nil)
				return fmt.Errorf("updater %s: reconnect attempts exhausted: %w", u.series, err)
			}
			if !u.wait(ctx, attempts, backoff) {
				u.stop(nil)
				return nil
			}
			backoff = nextBackoff(backoff, u.cfg.ReconnectMaxDelay)
			continue
		}

		u.publish(Event{State: model.UpdaterStreaming, LastFlushedKey: u.lastFlushedKey.Load()})

		before := u.received.Load()
		err = u.consume(ctx, stream)
		stream.Close()

		switch {
		case ctx.Err() != nil:
			u.stop(nil)
			return nil

		case errors.Is(err, model.ErrContinuityBreak):
			// The buffer holds only the contiguous prefix; persist it
			// before surfacing the break.
			u.stop(u.breakInfo)
			return fmt.Errorf("updater %s: %w", u.series, err)

		case model.IsRetriable(err):
			// Flush before reconnecting so the resume point is persisted.
			if ferr := u.flush(ctx); ferr != nil {
				u.stop(nil)
				return fmt.Errorf("updater %s: %w", u.series, ferr)
			}
			if u.received.Load() > before {
				attempts = 0
				backoff = u.cfg.ReconnectBaseDelay
			}
			attempts++
			u.reconnects.Add(1)
			if attempts > u.cfg.MaxReconnects {
				u.stop(nil)
				return fmt.Errorf("updater %s: reconnect attempts exhausted: %w", u.series, err)
			}
			u.logger.Warn("feed disconnected",
				"series", u.series.String(),
				"attempt", attempts,
				"error", err,
			)
			if !u.wait(ctx, attempts, backoff) {
				u.stop(nil)
				return nil
			}
			backoff = nextBackoff(backoff, u.cfg.ReconnectMaxDelay)
			from = u.resumePoint(from)

		default:
			u.stop(nil)
			return fmt.Errorf("updater %s: %w", u.series, err)
		}
	}
}

// consume drains one stream, flushing on batch size and on the interval
// tick. Returns the stream error, the flush error, or ctx.Err().
func (u *Updater) consume(ctx context.Context, stream feed.Stream) error {
	ticker := time.NewTicker(u.cfg.FlushInterval)
	defer ticker.Stop()

	sctx, cancel := context.WithCancel(ctx)

	// errs is buffered so the goroutine can exit without a reader; the
	// deferred join keeps ingest state single-threaded for the caller.
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			rec, err := stream.Next(sctx)
			if err != nil {
				errs <- err
				return
			}
			if err := u.ingest(rec); err != nil {
				errs <- err
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-u.flushNotify:
			if err := u.flush(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := u.flush(ctx); err != nil {
				return err
			}
		}
	}
}

// ingest accepts one feed record: replays are dropped against the dedup
// window, stale keys are dropped, and a key jumping past the last
// accepted one raises model.ErrContinuityBreak. Runs on the stream
// goroutine.
func (u *Updater) ingest(rec model.Record) error {
	key := rec.Time
	if u.hasID {
		key = rec.ID
	}

	if !u.seen.observe(key) {
		u.dropped.Add(1)
		return nil
	}

	if u.lastSeen.valid {
		last := u.lastSeen.time
		cur := rec.Time
		if u.hasID {
			last = u.lastSeen.id
			cur = rec.ID
		}
		if cur <= last {
			u.dropped.Add(1)
			return nil
		}
		if u.gapExceeded(rec) {
			u.breakInfo = &BreakInfo{
				LastTime: u.lastSeen.time,
				LastID:   u.lastSeen.id,
				NextTime: rec.Time,
				NextID:   rec.ID,
			}
			return fmt.Errorf("record %d/%d skips past %d/%d: %w",
				rec.Time, rec.ID, u.lastSeen.time, u.lastSeen.id, model.ErrContinuityBreak)
		}
	}

	u.lastSeen = continuationKey{time: rec.Time, id: rec.ID, valid: true}
	u.received.Add(1)
	u.buf.Send(rec)

	if u.buf.Len() >= u.cfg.BatchSize {
		select {
		case u.flushNotify <- struct{}{}:
		default:
		}
	}
	return nil
}

// gapExceeded reports whether rec leaves a hole after the last accepted
// key: more than one identity step for keyed series, more than one
// interval unit otherwise. Identity wins when present because quiet
// markets legitimately stretch time between consecutive trades.
func (u *Updater) gapExceeded(rec model.Record) bool {
	if u.hasID {
		return rec.ID > u.lastSeen.id+1
	}
	return rec.Time > u.unit.Advance(u.lastSeen.time)
}

// flush drains the buffer and, when anything was written, announces the
// return to streaming with the advanced key.
func (u *Updater) flush(ctx context.Context) error {
	flushed, err := u.drain(ctx)
	if err != nil {
		return err
	}
	if flushed {
		u.publish(Event{State: model.UpdaterStreaming, LastFlushedKey: u.lastFlushedKey.Load()})
	}
	return nil
}

// drain appends buffered records under the series lock. The terminal
// path calls it directly so no Streaming event follows the final flush.
func (u *Updater) drain(ctx context.Context) (bool, error) {
	records := u.buf.DrainTo(0)
	if len(records) == 0 {
		return false, nil
	}

	u.publish(Event{State: model.UpdaterFlushing, LastFlushedKey: u.lastFlushedKey.Load()})
	start := time.Now()

	slices.SortStableFunc(records, model.Record.Compare)

	release, err := u.locks.Acquire(u.series)
	if err != nil {
		return false, fmt.Errorf("flush: %w", err)
	}
	defer release()

	if err := u.store.Append(ctx, u.series, records); err != nil {
		return false, fmt.Errorf("flush %s: %w", u.series, err)
	}

	last := records[len(records)-1].Time
	u.lastFlushedKey.Store(last)
	u.flushed.Add(int64(len(records)))

	u.logger.Debug("flushed records",
		"series", u.series.String(),
		"count", len(records),
		"last_key", last,
		"duration", time.Since(start),
	)
	return true, nil
}

// stop flushes best-effort and publishes the terminal event.
func (u *Updater) stop(brk *BreakInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	if _, err := u.drain(ctx); err != nil {
		u.logger.Error("final flush failed",
			"series", u.series.String(),
			"error", err,
		)
	}

	u.publish(Event{State: model.UpdaterStopped, LastFlushedKey: u.lastFlushedKey.Load(), Break: brk})
	u.logger.Info("updater stopped",
		"series", u.series.String(),
		"received", u.received.Load(),
		"flushed", u.flushed.Load(),
		"dropped", u.dropped.Load(),
		"last_key", u.lastFlushedKey.Load(),
	)
}

// resumePoint returns where the next subscription should pick up after
// a reconnect, preferring the last accepted record over the original
// starting point.
func (u *Updater) resumePoint(orig feed.ContinuationPoint) feed.ContinuationPoint {
	if u.lastSeen.valid {
		return feed.ContinuationPoint{Time: u.lastSeen.time, ID: u.lastSeen.id}
	}
	return orig
}

// wait sleeps for the jittered backoff, returning false on cancellation.
func (u *Updater) wait(ctx context.Context, attempt int, backoff time.Duration) bool {
	// Add jitter: backoff * (0.5 to 1.5)
	jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
	u.logger.Debug("reconnect backoff",
		"series", u.series.String(),
		"attempt", attempt,
		"backoff", jitter,
	)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jitter):
		return true
	}
}

func nextBackoff(backoff, max time.Duration) time.Duration {
	backoff *= 2
	if backoff > max {
		backoff = max
	}
	return backoff
}

// publish delivers an event without blocking; full channels drop.
func (u *Updater) publish(ev Event) {
	select {
	case u.events <- ev:
	default:
	}
}

// dedupWindow is a fixed-size set of recently seen keys. Observing a
// key evicts the oldest once the window is full.
type dedupWindow struct {
	seen map[int64]struct{}
	ring []int64
	next int
	full bool
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		seen: make(map[int64]struct{}, size),
		ring: make([]int64, size),
	}
}

// observe records key and reports whether it was new.
func (w *dedupWindow) observe(key int64) bool {
	if _, dup := w.seen[key]; dup {
		return false
	}
	if w.full {
		delete(w.seen, w.ring[w.next])
	}
	w.seen[key] = struct{}{}
	w.ring[w.next] = key
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
	return true
}
