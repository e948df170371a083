package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantfall/binance-data/internal/feed"
	"github.com/quantfall/binance-data/internal/model"
	"github.com/quantfall/binance-data/internal/store"
)

const testBase = int64(1_700_000_000_000_000) // microseconds

func aggSeries() model.Series {
	return model.Series{
		Market:   model.MarketSpot,
		DataType: model.DataTypeAggTrades,
		Symbol:   "BTCUSDT",
	}
}

func klineSeries() model.Series {
	return model.Series{
		Market:   model.MarketSpot,
		DataType: model.DataTypeKlines,
		Symbol:   "BTCUSDT",
		Interval: model.Interval1m,
	}
}

func aggRec(id, ts int64) model.Record {
	return model.Record{
		Time:    ts,
		ID:      id,
		Payload: []byte(fmt.Sprintf("%d,100.0,0.5", id)),
	}
}

func klineRec(ts int64) model.Record {
	return model.Record{
		Time:    ts,
		ID:      model.NoID,
		Payload: []byte("100.0,101.0,99.0,100.5"),
	}
}

// memStore is an in-memory Store for driving the updater.
type memStore struct {
	mu      sync.Mutex
	records map[string][]model.Record
	appends int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]model.Record)}
}

func (m *memStore) Load(ctx context.Context, series model.Series) (*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[series.String()]
	if len(recs) == 0 {
		return nil, fmt.Errorf("series %s: %w", series, model.ErrNotFound)
	}
	return &model.Dataset{
		Series:  series,
		Records: append([]model.Record(nil), recs...),
	}, nil
}

func (m *memStore) Replace(ctx context.Context, ds *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ds.Series.String()] = append([]model.Record(nil), ds.Records...)
	return nil
}

func (m *memStore) Append(ctx context.Context, series model.Series, records []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	key := series.String()
	m.records[key] = append(m.records[key], records...)
	return nil
}

func (m *memStore) Tail(ctx context.Context, series model.Series) (model.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[series.String()]
	if len(recs) == 0 {
		return model.Record{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (m *memStore) stored(series model.Series) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Record(nil), m.records[series.String()]...)
}

func (m *memStore) seed(t *testing.T, series model.Series, records ...model.Record) {
	t.Helper()
	if err := m.Append(context.Background(), series, records); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	m.mu.Lock()
	m.appends = 0
	m.mu.Unlock()
}

type streamItem struct {
	rec model.Record
	err error
}

// fakeStream delivers scripted records and errors. Sends block until the
// updater consumes them, so tests sequence ingestion deterministically.
type fakeStream struct {
	items chan streamItem
	done  chan struct{}
	once  sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		items: make(chan streamItem),
		done:  make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) (model.Record, error) {
	select {
	case <-ctx.Done():
		return model.Record{}, ctx.Err()
	case <-s.done:
		return model.Record{}, model.ErrUnavailable
	case it := <-s.items:
		return it.rec, it.err
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) emit(t *testing.T, recs ...model.Record) {
	t.Helper()
	for _, rec := range recs {
		select {
		case s.items <- streamItem{rec: rec}:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out emitting record id=%d time=%d", rec.ID, rec.Time)
		}
	}
}

func (s *fakeStream) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case s.items <- streamItem{err: err}:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out emitting stream error")
	}
}

// fakeFeed hands out scripted streams, keeping the last one for
// repeated subscribes.
type fakeFeed struct {
	mu      sync.Mutex
	calls   []feed.ContinuationPoint
	streams []*fakeStream
}

func (f *fakeFeed) Subscribe(ctx context.Context, series model.Series, from feed.ContinuationPoint) (feed.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, from)
	if len(f.streams) == 0 {
		return nil, fmt.Errorf("feed down: %w", model.ErrUnavailable)
	}
	st := f.streams[0]
	if len(f.streams) > 1 {
		f.streams = f.streams[1:]
	}
	return st, nil
}

func (f *fakeFeed) subscribes() []feed.ContinuationPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feed.ContinuationPoint(nil), f.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startUpdater(t *testing.T, cfg Config, series model.Series, fd feed.Feed, st store.Store, locks *store.Locks) (*Updater, context.CancelFunc, chan error) {
	t.Helper()
	if locks == nil {
		locks = store.NewLocks()
	}
	u := New(cfg, series, fd, st, locks, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errc := make(chan error, 1)
	go func() { errc <- u.Run(ctx) }()
	return u, cancel, errc
}

func waitErr(t *testing.T, errc chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("updater did not stop")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func drainEvents(u *Updater) []Event {
	var events []Event
	for ev := range u.Events() {
		events = append(events, ev)
	}
	return events
}

func assertIDs(t *testing.T, records []model.Record, want ...int64) {
	t.Helper()
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.ID != want[i] {
			t.Errorf("record %d: id = %d, want %d", i, rec.ID, want[i])
		}
	}
}

func TestUpdaterFlushesOnBatchSize(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 3, FlushInterval: time.Hour}

	u, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	stream.emit(t,
		aggRec(1, testBase),
		aggRec(2, testBase+1_000_000),
		aggRec(3, testBase+2_000_000),
	)
	waitFor(t, "batch flush", func() bool { return len(st.stored(series)) == 3 })

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertIDs(t, st.stored(series), 1, 2, 3)
	if got, want := u.LastFlushedKey(), testBase+2_000_000; got != want {
		t.Errorf("LastFlushedKey = %d, want %d", got, want)
	}

	events := drainEvents(u)
	if len(events) < 4 {
		t.Fatalf("got %d events, want at least 4", len(events))
	}
	if events[0].State != model.UpdaterIdle {
		t.Errorf("first event state = %q, want %q", events[0].State, model.UpdaterIdle)
	}
	if events[1].State != model.UpdaterStreaming {
		t.Errorf("second event state = %q, want %q", events[1].State, model.UpdaterStreaming)
	}
	var flushed bool
	for _, ev := range events {
		if ev.State == model.UpdaterFlushing {
			flushed = true
		}
	}
	if !flushed {
		t.Error("no flushing event published")
	}
	last := events[len(events)-1]
	if last.State != model.UpdaterStopped {
		t.Errorf("last event state = %q, want %q", last.State, model.UpdaterStopped)
	}
	if last.LastFlushedKey != testBase+2_000_000 {
		t.Errorf("stopped event key = %d, want %d", last.LastFlushedKey, testBase+2_000_000)
	}
	if last.Break != nil {
		t.Errorf("stopped event break = %+v, want nil", last.Break)
	}
}

func TestUpdaterFlushesOnInterval(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 1000, FlushInterval: 20 * time.Millisecond}

	_, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	stream.emit(t, aggRec(1, testBase))
	waitFor(t, "interval flush", func() bool { return len(st.stored(series)) == 1 })

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertIDs(t, st.stored(series), 1)
}

func TestUpdaterStartsAtLiveEdgeWhenEmpty(t *testing.T) {
	series := aggSeries()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}

	_, cancel, errc := startUpdater(t, Config{}, series, fd, newMemStore(), nil)

	waitFor(t, "subscribe", func() bool { return len(fd.subscribes()) == 1 })
	if from := fd.subscribes()[0]; !from.Live() {
		t.Errorf("subscribed from %+v, want live edge", from)
	}

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestUpdaterResumesFromStoredTail(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	st.seed(t, series, aggRec(10, testBase))

	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 2, FlushInterval: time.Hour}

	_, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	waitFor(t, "subscribe", func() bool { return len(fd.subscribes()) == 1 })
	from := fd.subscribes()[0]
	if from.Time != testBase || from.ID != 10 {
		t.Errorf("subscribed from time=%d id=%d, want time=%d id=10", from.Time, from.ID, testBase)
	}

	stream.emit(t,
		aggRec(11, testBase+1_000_000),
		aggRec(12, testBase+2_000_000),
	)
	waitFor(t, "flush", func() bool { return len(st.stored(series)) == 3 })

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertIDs(t, st.stored(series), 10, 11, 12)
}

func TestUpdaterDropsReplayedRecords(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	st.seed(t, series, aggRec(10, testBase))

	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 2, FlushInterval: time.Hour}

	u, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	stream.emit(t,
		aggRec(11, testBase+1_000_000),
		aggRec(11, testBase+1_000_000), // replay
		aggRec(10, testBase),           // stale
		aggRec(12, testBase+2_000_000),
	)
	waitFor(t, "flush", func() bool { return len(st.stored(series)) == 3 })

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertIDs(t, st.stored(series), 10, 11, 12)
	if got := u.Stats().Dropped; got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestUpdaterContinuityBreakOnFirstRecord(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	st.seed(t, series, aggRec(10, testBase))

	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}

	u, _, errc := startUpdater(t, Config{}, series, fd, st, nil)

	stream.emit(t, aggRec(15, testBase+5_000_000))

	err := waitErr(t, errc)
	if !errors.Is(err, model.ErrContinuityBreak) {
		t.Fatalf("Run error = %v, want continuity break", err)
	}

	assertIDs(t, st.stored(series), 10)

	events := drainEvents(u)
	last := events[len(events)-1]
	if last.State != model.UpdaterStopped {
		t.Fatalf("last event state = %q, want %q", last.State, model.UpdaterStopped)
	}
	if last.Break == nil {
		t.Fatal("stopped event has no break info")
	}
	if last.Break.LastID != 10 || last.Break.NextID != 15 {
		t.Errorf("break = last id %d next id %d, want 10 and 15", last.Break.LastID, last.Break.NextID)
	}
}

func TestUpdaterMidStreamBreakFlushesPrefix(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour}

	u, _, errc := startUpdater(t, cfg, series, fd, st, nil)

	stream.emit(t,
		aggRec(1, testBase),
		aggRec(2, testBase+1_000_000),
		aggRec(9, testBase+2_000_000),
	)

	err := waitErr(t, errc)
	if !errors.Is(err, model.ErrContinuityBreak) {
		t.Fatalf("Run error = %v, want continuity break", err)
	}

	// The contiguous prefix must be persisted before stopping.
	assertIDs(t, st.stored(series), 1, 2)

	events := drainEvents(u)
	last := events[len(events)-1]
	if last.Break == nil {
		t.Fatal("stopped event has no break info")
	}
	if last.Break.LastID != 2 || last.Break.NextID != 9 {
		t.Errorf("break = last id %d next id %d, want 2 and 9", last.Break.LastID, last.Break.NextID)
	}
	if last.LastFlushedKey != testBase+1_000_000 {
		t.Errorf("stopped event key = %d, want %d", last.LastFlushedKey, testBase+1_000_000)
	}
}

func TestUpdaterKeylessGapDetection(t *testing.T) {
	unit := int64(60_000_000) // 1m in microseconds

	t.Run("one unit ahead is contiguous", func(t *testing.T) {
		series := klineSeries()
		st := newMemStore()
		st.seed(t, series, klineRec(testBase))

		stream := newFakeStream()
		fd := &fakeFeed{streams: []*fakeStream{stream}}
		cfg := Config{BatchSize: 1, FlushInterval: time.Hour}

		_, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

		stream.emit(t, klineRec(testBase+unit))
		waitFor(t, "flush", func() bool { return len(st.stored(series)) == 2 })

		cancel()
		if err := waitErr(t, errc); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	})

	t.Run("two units ahead breaks", func(t *testing.T) {
		series := klineSeries()
		st := newMemStore()
		st.seed(t, series, klineRec(testBase))

		stream := newFakeStream()
		fd := &fakeFeed{streams: []*fakeStream{stream}}

		u, _, errc := startUpdater(t, Config{}, series, fd, st, nil)

		stream.emit(t, klineRec(testBase+2*unit))

		err := waitErr(t, errc)
		if !errors.Is(err, model.ErrContinuityBreak) {
			t.Fatalf("Run error = %v, want continuity break", err)
		}

		events := drainEvents(u)
		last := events[len(events)-1]
		if last.Break == nil {
			t.Fatal("stopped event has no break info")
		}
		if last.Break.LastTime != testBase || last.Break.NextTime != testBase+2*unit {
			t.Errorf("break = last %d next %d, want %d and %d",
				last.Break.LastTime, last.Break.NextTime, testBase, testBase+2*unit)
		}
	})
}

func TestUpdaterReconnectsAndResumes(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	first := newFakeStream()
	second := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{first, second}}
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour, ReconnectBaseDelay: time.Millisecond}

	_, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	first.emit(t, aggRec(1, testBase))
	first.fail(t, fmt.Errorf("read: %w", model.ErrUnavailable))

	// Buffered records are flushed before the reconnect, so the new
	// subscription resumes from a persisted key.
	waitFor(t, "disconnect flush", func() bool { return len(st.stored(series)) == 1 })
	waitFor(t, "resubscribe", func() bool { return len(fd.subscribes()) == 2 })

	from := fd.subscribes()[1]
	if from.Time != testBase || from.ID != 1 {
		t.Errorf("resubscribed from time=%d id=%d, want time=%d id=1", from.Time, from.ID, testBase)
	}

	second.emit(t, aggRec(2, testBase+1_000_000))

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertIDs(t, st.stored(series), 1, 2)
}

func TestUpdaterReconnectAttemptsExhausted(t *testing.T) {
	series := aggSeries()
	fd := &fakeFeed{} // every subscribe fails as unavailable
	cfg := Config{MaxReconnects: 2, ReconnectBaseDelay: time.Millisecond}

	u, _, errc := startUpdater(t, cfg, series, fd, newMemStore(), nil)

	err := waitErr(t, errc)
	if !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("Run error = %v, want unavailable", err)
	}
	if got := len(fd.subscribes()); got != 3 {
		t.Errorf("subscribe attempts = %d, want 3", got)
	}

	events := drainEvents(u)
	if last := events[len(events)-1]; last.State != model.UpdaterStopped {
		t.Errorf("last event state = %q, want %q", last.State, model.UpdaterStopped)
	}
}

func TestUpdaterLockContentionSurfaces(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 1, FlushInterval: time.Hour}

	locks := store.NewLocks()
	release, err := locks.Acquire(series)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer release()

	_, _, errc := startUpdater(t, cfg, series, fd, st, locks)

	stream.emit(t, aggRec(1, testBase))

	runErr := waitErr(t, errc)
	if !errors.Is(runErr, model.ErrLockContention) {
		t.Fatalf("Run error = %v, want lock contention", runErr)
	}
	if got := len(st.stored(series)); got != 0 {
		t.Errorf("store has %d records, want 0", got)
	}
}

func TestUpdaterStopFlushesBuffered(t *testing.T) {
	series := aggSeries()
	st := newMemStore()
	stream := newFakeStream()
	fd := &fakeFeed{streams: []*fakeStream{stream}}
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour}

	u, cancel, errc := startUpdater(t, cfg, series, fd, st, nil)

	stream.emit(t,
		aggRec(1, testBase),
		aggRec(2, testBase+1_000_000),
	)
	waitFor(t, "records buffered", func() bool { return u.buf.Len() == 2 })

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertIDs(t, st.stored(series), 1, 2)

	events := drainEvents(u)
	last := events[len(events)-1]
	if last.State != model.UpdaterStopped {
		t.Errorf("last event state = %q, want %q", last.State, model.UpdaterStopped)
	}
	if last.LastFlushedKey != testBase+1_000_000 {
		t.Errorf("stopped event key = %d, want %d", last.LastFlushedKey, testBase+1_000_000)
	}
}

func TestDedupWindowEviction(t *testing.T) {
	w := newDedupWindow(2)

	if !w.observe(1) {
		t.Error("first observe(1) = false, want true")
	}
	if w.observe(1) {
		t.Error("repeat observe(1) = true, want false")
	}
	if !w.observe(2) {
		t.Error("observe(2) = false, want true")
	}
	if !w.observe(3) {
		t.Error("observe(3) = false, want true")
	}
	// 1 was evicted when 3 entered the two-slot window.
	if !w.observe(1) {
		t.Error("observe(1) after eviction = false, want true")
	}
	if w.observe(3) {
		t.Error("observe(3) still in window = true, want false")
	}
}

func TestRecordBufferOrderAcrossGrowth(t *testing.T) {
	b := NewRecordBuffer(10)

	for id := int64(1); id <= 5; id++ {
		if !b.Send(aggRec(id, testBase+id)) {
			t.Fatalf("Send(%d) = false", id)
		}
	}
	assertIDs(t, b.DrainTo(4), 1, 2, 3, 4)

	// Wrap the ring, then grow while wrapped.
	for id := int64(6); id <= 11; id++ {
		if !b.Send(aggRec(id, testBase+id)) {
			t.Fatalf("Send(%d) = false", id)
		}
	}
	if b.Cap() <= 10 {
		t.Errorf("Cap() = %d, want growth beyond 10", b.Cap())
	}

	assertIDs(t, b.DrainTo(0), 5, 6, 7, 8, 9, 10, 11)
	if b.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", b.Len())
	}
}

func TestRecordBufferClose(t *testing.T) {
	b := NewRecordBuffer(4)
	if !b.Send(aggRec(1, testBase)) {
		t.Fatal("Send before close = false")
	}
	b.Close()
	if b.Send(aggRec(2, testBase+1)) {
		t.Error("Send after close = true, want false")
	}
	assertIDs(t, b.DrainTo(0), 1)
}
