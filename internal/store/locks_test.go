package store

import (
	"errors"
	"testing"

	"github.com/quantfall/binance-data/internal/model"
)

func lockSeries(symbol string) model.Series {
	return model.Series{Market: model.MarketSpot, DataType: model.DataTypeAggTrades, Symbol: symbol}
}

func TestLocksSecondAcquireFails(t *testing.T) {
	locks := NewLocks()
	s := lockSeries("BTCUSDT")

	release, err := locks.Acquire(s)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !locks.Held(s) {
		t.Error("Held = false while lock is taken")
	}

	if _, err := locks.Acquire(s); !errors.Is(err, model.ErrLockContention) {
		t.Errorf("second Acquire error = %v, want ErrLockContention", err)
	}

	release()
	if locks.Held(s) {
		t.Error("Held = true after release")
	}

	release2, err := locks.Acquire(s)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}

	// A stale release from the first acquisition must not free the new
	// holder.
	release()
	if !locks.Held(s) {
		t.Error("stale release freed the current holder")
	}
	release2()
}

func TestLocksIndependentSeries(t *testing.T) {
	locks := NewLocks()

	r1, err := locks.Acquire(lockSeries("BTCUSDT"))
	if err != nil {
		t.Fatalf("Acquire BTCUSDT failed: %v", err)
	}
	defer r1()

	r2, err := locks.Acquire(lockSeries("ETHUSDT"))
	if err != nil {
		t.Fatalf("Acquire ETHUSDT failed: %v", err)
	}
	defer r2()

	if !locks.Held(lockSeries("BTCUSDT")) || !locks.Held(lockSeries("ETHUSDT")) {
		t.Error("both series should be held")
	}
}
