package metrics

import (
	"sync"
	"time"
)

// SampleStore stores concurrency samples in a ring buffer.
//
// It provides:
// - Efficient O(1) append and bounded memory usage
// - Thread-safe access from multiple goroutines
//
// When the buffer is full the oldest samples are discarded.
type SampleStore struct {
	samples    []Sample
	head       int // Next write position
	count      int
	maxSamples int
	mu         sync.RWMutex

	// For interval calculation
	lastElapsed    time.Duration
	lastIterations int64
}

// NewSampleStore creates a new sample store.
//
// For a 1-hour test with 1-second samples, use maxSamples=3600.
func NewSampleStore(maxSamples int) *SampleStore {
	if maxSamples <= 0 {
		maxSamples = 3600
	}

	return &SampleStore{
		samples:    make([]Sample, maxSamples),
		maxSamples: maxSamples,
	}
}

// Add appends a sample, filling its interval fields from the cumulative
// iteration count.
func (s *SampleStore) Add(sample Sample, iterations int64) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample.Iterations = iterations
	sample.IntervalIterations = iterations - s.lastIterations

	interval := (sample.Elapsed - s.lastElapsed).Seconds()
	if interval > 0 {
		sample.IntervalRate = float64(sample.IntervalIterations) / interval
	}

	s.samples[s.head] = sample
	s.head = (s.head + 1) % s.maxSamples
	if s.count < s.maxSamples {
		s.count++
	}

	s.lastElapsed = sample.Elapsed
	s.lastIterations = iterations

	return sample
}

// All returns a copy of all samples in chronological order.
func (s *SampleStore) All() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	result := make([]Sample, s.count)
	start := 0
	if s.count == s.maxSamples {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		result[i] = s.samples[(start+i)%s.maxSamples]
	}

	return result
}

// Latest returns the most recent sample.
func (s *SampleStore) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return Sample{}, false
	}
	idx := (s.head - 1 + s.maxSamples) % s.maxSamples
	return s.samples[idx], true
}

// Count returns the current number of samples stored.
func (s *SampleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
