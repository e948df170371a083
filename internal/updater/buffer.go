package updater

import (
	"sync"

	"github.com/quantfall/binance-data/internal/model"
)

// RecordBuffer is a thread-safe ring buffer that doubles its capacity
// when it reaches 70% full, so a slow flush never blocks feed ingestion.
type RecordBuffer struct {
	mu       sync.Mutex
	buf      []model.Record
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool
}

// NewRecordBuffer creates a buffer with the given initial capacity.
func NewRecordBuffer(initialCapacity int) *RecordBuffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &RecordBuffer{
		buf:      make([]model.Record, initialCapacity),
		capacity: initialCapacity,
	}
}

// Send adds a record to the buffer, growing it at 70% capacity.
// Returns false if the buffer is closed.
func (b *RecordBuffer) Send(rec model.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = rec
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	return true
}

// DrainTo removes up to max records in arrival order; max <= 0 drains
// everything.
func (b *RecordBuffer) DrainTo(max int) []model.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]model.Record, n)
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = model.Record{} // clear reference for GC
		b.head = (b.head + 1) % b.capacity
		b.count--
	}
	return result
}

// Len returns the current number of buffered records.
func (b *RecordBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *RecordBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Close marks the buffer closed. After closing, Send returns false;
// buffered records remain drainable.
func (b *RecordBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// grow doubles the capacity. Must be called with the lock held.
func (b *RecordBuffer) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]model.Record, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
}
