package nstat

import (
	"sync"
	"time"
)

// RunStats summarizes the repeats executed by a Harness.
type RunStats struct {
	Repeats          int64
	Converged        int64
	TimedOut         int64
	Canceled         int64
	SourceFailures   int64
	TrafficFailures  int64
	SamplingFailures int64
	LastElapsed      time.Duration
}

// Failed returns the number of repeats that did not converge.
func (s RunStats) Failed() int64 {
	return s.Repeats - s.Converged
}

// statsTracker provides thread-safe run statistics tracking.
type statsTracker struct {
	mu    sync.RWMutex
	stats RunStats
}

func (s *statsTracker) recordResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Repeats++
	s.stats.SamplingFailures += int64(r.SamplingFailures)
	switch r.Outcome {
	case Converged:
		s.stats.Converged++
		s.stats.LastElapsed = r.Elapsed
	case TimedOut:
		s.stats.TimedOut++
	case Canceled:
		s.stats.Canceled++
	case SourceUnavailable:
		s.stats.SourceFailures++
	}
}

func (s *statsTracker) recordTrafficFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Repeats++
	s.stats.TrafficFailures++
}

func (s *statsTracker) snapshot() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
