package xymodem

import (
	"sync"
	"time"
)

// ProgressTracker turns per-block notifications into throttled byte/rate
// progress callbacks.
type ProgressTracker struct {
	mu sync.Mutex

	filename string
	blocks   int
	bytes    int64
	total    int64
	start    time.Time
	last     time.Time
	lastSent int64

	callback func(string, int64, int64, float64)
	interval time.Duration
	now      func() time.Time
}

// NewProgressTracker creates a tracker invoking callback at most once per interval.
func NewProgressTracker(callback func(string, int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{
		callback: callback,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins tracking a new file. total is 0 when unknown.
func (pt *ProgressTracker) Start(filename string, total int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.filename = filename
	pt.total = total
	pt.blocks = 0
	pt.bytes = 0
	pt.start = pt.now()
	pt.last = pt.start
	pt.lastSent = 0
}

// Block records one more block of n payload bytes.
func (pt *ProgressTracker) Block(n int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.blocks++
	pt.bytes += int64(n)
	if pt.total > 0 && pt.bytes > pt.total {
		// Final block padding
		pt.bytes = pt.total
	}

	now := pt.now()
	elapsed := now.Sub(pt.last)
	if elapsed < pt.interval {
		return
	}

	rate := float64(pt.bytes-pt.lastSent) / elapsed.Seconds()
	if pt.callback != nil {
		pt.callback(pt.filename, pt.bytes, pt.total, rate)
	}
	pt.last = now
	pt.lastSent = pt.bytes
}

// Complete emits a final update and returns the elapsed time.
func (pt *ProgressTracker) Complete() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	duration := pt.now().Sub(pt.start)
	if pt.callback != nil {
		pt.callback(pt.filename, pt.bytes, pt.total, 0)
	}
	return duration
}

// Stats returns the current counters and average rate.
func (pt *ProgressTracker) Stats() (blocks int, transferred int64, rate float64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if secs := pt.now().Sub(pt.start).Seconds(); secs > 0 {
		rate = float64(pt.bytes) / secs
	}
	return pt.blocks, pt.bytes, rate
}
