package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks the pipeline counters consumed by the server-event source's
// SERVERSTATISTICS and the Prometheus exporter.
type Stats struct {
	applied atomic.Uint64
	dropped atomic.Uint64

	mu       sync.Mutex
	emaRate  float64
	lastTick time.Time
}

func newStats() *Stats { return &Stats{} }

// RecordApplied updates the 1-second EMA of applied-delta rate.
func (s *Stats) RecordApplied(now time.Time) {
	s.applied.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTick.IsZero() {
		s.lastTick = now
		return
	}
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	if dt <= 0 {
		return
	}
	const alpha = 0.3
	inst := 1.0 / dt
	s.emaRate = alpha*inst + (1-alpha)*s.emaRate
}

// RecordDropped increments the ingress-overflow drop counter.
func (s *Stats) RecordDropped() { s.dropped.Add(1) }

// DeltaRate returns the current EMA of applied deltas per second.
func (s *Stats) DeltaRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emaRate
}

// Applied returns the total number of deltas applied to the store.
func (s *Stats) Applied() uint64 { return s.applied.Load() }

// Dropped returns the total number of deltas dropped by ingress overflow
// or the interception chain.
func (s *Stats) Dropped() uint64 { return s.dropped.Load() }
