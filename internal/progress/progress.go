// Package progress tracks sync throughput and projects the remaining time.
//
// The projection uses a moving window of the most recent batch durations, so it
// adapts when the source slows down (cold cache, vacuum) or speeds up. The
// total it divides by is an estimate refreshed on a timer, so it may lag the
// real table size; counters are never clamped, only the derived display values.
package progress

import (
	"time"
)

// WindowSize is the number of recent batch durations averaged for the ETA.
const WindowSize = 10

// Tracker accumulates per-batch timings. It is owned by a single goroutine.
type Tracker struct {
	batchSize int
	total     int64
	fetched   int64
	batches   int
	window    []time.Duration
}

// Snapshot is a point-in-time view of the tracker for logging and events.
type Snapshot struct {
	Batches   int           `json:"batches"`
	Fetched   int64         `json:"fetched"`
	Total     int64         `json:"total"`
	Percent   float64       `json:"percent"`
	MeanBatch time.Duration `json:"mean_batch"`
	Remaining time.Duration `json:"remaining"`
}

// NewTracker creates a tracker for the given page size.
func NewTracker(batchSize int) *Tracker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Tracker{
		batchSize: batchSize,
		window:    make([]time.Duration, 0, WindowSize+1),
	}
}

// SetTotal replaces the total estimate.
func (t *Tracker) SetTotal(total int64) {
	t.total = total
}

// Resume seeds the fetched counter, e.g. after restarting from a checkpoint.
func (t *Tracker) Resume(fetched int64) {
	t.fetched = fetched
}

// Record adds a completed batch of n rows that took d.
func (t *Tracker) Record(d time.Duration, n int) {
	t.batches++
	t.fetched += int64(n)
	t.window = append(t.window, d)
	if len(t.window) > WindowSize {
		t.window = t.window[1:]
	}
}

// Total returns the current total estimate.
func (t *Tracker) Total() int64 { return t.total }

// Fetched returns the number of rows processed so far.
func (t *Tracker) Fetched() int64 { return t.fetched }

// Batches returns the number of recorded batches.
func (t *Tracker) Batches() int { return t.batches }

// Mean returns the average duration over the window, or zero before the first batch.
func (t *Tracker) Mean() time.Duration {
	if len(t.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.window {
		sum += d
	}
	return sum / time.Duration(len(t.window))
}

// Remaining projects the time left: mean(window) * (total - fetched) / batchSize.
// It is zero when no batch has completed or the estimate has been overrun.
func (t *Tracker) Remaining() time.Duration {
	rows := t.total - t.fetched
	if rows <= 0 {
		return 0
	}
	mean := t.Mean()
	if mean == 0 {
		return 0
	}
	return time.Duration(float64(mean) * float64(rows) / float64(t.batchSize))
}

// Percent returns fetched/total as a percentage clamped to [0, 100].
func (t *Tracker) Percent() float64 {
	if t.total <= 0 {
		return 0
	}
	pct := float64(t.fetched) / float64(t.total) * 100
	return min(max(pct, 0), 100)
}

// Snapshot captures the current state.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Batches:   t.batches,
		Fetched:   t.fetched,
		Total:     t.total,
		Percent:   t.Percent(),
		MeanBatch: t.Mean(),
		Remaining: t.Remaining(),
	}
}
