// Package anomaly implements real-time statistical anomaly detection over
// latency, error-rate, and traffic metrics, with per-category detection
// method sets and a cooldown-gated alert emission rule.
package anomaly

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Point is a single observed metric value.
type Point struct {
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
}

// Buffer is a thread-safe, size- and TTL-bounded time series for one
// metric, backed by a double-ended queue so both push and eviction from
// either end are O(1).
type Buffer struct {
	mu       sync.RWMutex
	data     deque.Deque[Point]
	maxSize  int
	ttl      time.Duration
}

// NewBuffer constructs an empty Buffer with the given retention bounds.
func NewBuffer(maxSize int, ttl time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Buffer{maxSize: maxSize, ttl: ttl}
}

// Add appends a new observation, evicting anything now over capacity or
// past its TTL.
func (b *Buffer) Add(p Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data.PushBack(p)
	for b.data.Len() > b.maxSize {
		b.data.PopFront()
	}
	cutoff := time.Now().Add(-b.ttl)
	for b.data.Len() > 0 && b.data.Front().Timestamp.Before(cutoff) {
		b.data.PopFront()
	}
}

// Values returns all retained values, oldest first. If since > 0 it is
// limited to observations within that duration of now.
func (b *Buffer) Values(since time.Duration) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}

	out := make([]float64, 0, b.data.Len())
	for i := 0; i < b.data.Len(); i++ {
		p := b.data.At(i)
		if since > 0 && p.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, p.Value)
	}
	return out
}

// Timestamps mirrors Values but returns the observation times, used by the
// trend detector's linear regression.
func (b *Buffer) Timestamps(since time.Duration) []time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}

	out := make([]time.Time, 0, b.data.Len())
	for i := 0; i < b.data.Len(); i++ {
		p := b.data.At(i)
		if since > 0 && p.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, p.Timestamp)
	}
	return out
}

// Len reports the number of retained observations.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Len()
}
