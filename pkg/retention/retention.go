// Package retention tracks the oldest commit timestamp at which historical
// reads remain guaranteed valid. Every read below the floor fails with
// ferrors.OutOfRetention instead of silently returning stale or
// already-compacted data.
package retention

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/flux/pkg/document"
)

// Validator holds the current retention floor and advances it on a ticker
// driven by the log's last committed timestamp.
type Validator struct {
	window document.Timestamp // floor = lastCommitted - window, never negative
	floor  uint64             // atomic
}

// NewValidator builds a Validator with the given retention window, expressed
// in timestamp units (the commit clock, not wall time).
func NewValidator(window document.Timestamp) *Validator {
	return &Validator{window: window}
}

// Floor returns the current retention floor: reads at or after this
// timestamp are guaranteed valid.
func (v *Validator) Floor() document.Timestamp {
	return document.Timestamp(atomic.LoadUint64(&v.floor))
}

// Advance recomputes the floor from the latest committed timestamp. The
// floor only ever moves forward — a lower candidate is ignored so a
// temporarily stale caller can't un-expire history.
func (v *Validator) Advance(lastCommitted document.Timestamp) {
	var candidate document.Timestamp
	if lastCommitted > v.window {
		candidate = lastCommitted - v.window
	}
	for {
		cur := atomic.LoadUint64(&v.floor)
		if uint64(candidate) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&v.floor, cur, uint64(candidate)) {
			return
		}
	}
}

// Valid reports whether a read at ts is still within the retention window.
func (v *Validator) Valid(ts document.Timestamp) bool {
	return ts >= v.Floor()
}

// LastCommittedFunc reports the log's most recent commit timestamp, used by
// Worker to drive Advance without importing pkg/persistence.
type LastCommittedFunc func() document.Timestamp

// Worker periodically advances a Validator's floor, mirroring the
// ticker-driven sampling loop used elsewhere in this codebase for
// background maintenance tasks.
type Worker struct {
	validator   *Validator
	lastCommitted LastCommittedFunc
	interval    time.Duration
	stopCh      chan struct{}
}

func NewWorker(validator *Validator, lastCommitted LastCommittedFunc, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Worker{validator: validator, lastCommitted: lastCommitted, interval: interval, stopCh: make(chan struct{})}
}

func (w *Worker) Start() {
	ticker := time.NewTicker(w.interval)
	go func() {
		w.validator.Advance(w.lastCommitted())
		for {
			select {
			case <-ticker.C:
				w.validator.Advance(w.lastCommitted())
			case <-w.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (w *Worker) Stop() { close(w.stopCh) }
