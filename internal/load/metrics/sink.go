// Package metrics aggregates iteration results into run summaries.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Observer receives every recorded result and sample as it arrives.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveIteration(r *IterationResult)
	ObserveSample(s Sample)
}

// SinkConfig contains configuration for the sink.
type SinkConfig struct {
	// MaxSamples is the maximum number of concurrency samples to retain (default: 3600)
	MaxSamples int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultSinkConfig returns the default configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		MaxSamples:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// Sink accumulates iteration results from many VUs.
//
// Aggregation is order independent: counters are sums, the duration
// histogram is a multiset and checks are reported sorted by name, so
// recording the same results in any order yields the same Summary.
//
// # Thread Safety
//
// Sink is safe for concurrent use. Counters use atomic operations, the
// histogram and the check table are mutex protected.
type Sink struct {
	config SinkConfig

	durationHist   *hdrhistogram.Histogram
	durationHistMu sync.Mutex

	started   atomic.Int64
	success   atomic.Int64
	failure   atomic.Int64
	cancelled atomic.Int64
	bytes     atomic.Int64

	// Checks and failure reasons by name
	tableMu sync.Mutex
	checks  map[string]*CheckStats
	reasons map[string]int64

	samples *SampleStore

	clampMu       sync.Mutex
	clampCount    int64
	clampPeak     int
	clampCeiling  int
	observers     []Observer
	finalizeOnce  sync.Once
	finalized     atomic.Bool
	final         *Summary
	droppedAfterF atomic.Int64
}

// NewSink creates a sink with default configuration.
func NewSink(observers ...Observer) *Sink {
	return NewSinkWithConfig(DefaultSinkConfig(), observers...)
}

// NewSinkWithConfig creates a sink with custom configuration.
func NewSinkWithConfig(config SinkConfig, observers ...Observer) *Sink {
	def := DefaultSinkConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	return &Sink{
		config:       config,
		durationHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:       make(map[string]*CheckStats),
		reasons:      make(map[string]int64),
		samples:      NewSampleStore(config.MaxSamples),
		observers:    observers,
	}
}

// MarkStarted counts the start of an iteration.
func (s *Sink) MarkStarted() {
	if s.finalized.Load() {
		return
	}
	s.started.Add(1)
}

// Record aggregates one iteration result.
//
// Results arriving after Finalize are dropped and Record returns false.
func (s *Sink) Record(r *IterationResult) bool {
	if r == nil {
		return false
	}
	if s.finalized.Load() {
		s.droppedAfterF.Add(1)
		return false
	}

	switch r.Outcome {
	case OutcomeSuccess:
		s.success.Add(1)
	case OutcomeCancelled:
		s.cancelled.Add(1)
	default:
		s.failure.Add(1)
	}
	s.bytes.Add(r.BytesReceived)

	// Cancelled iterations did not run to completion, so their duration
	// would skew the distribution.
	if r.Outcome != OutcomeCancelled {
		micros := r.Duration.Microseconds()
		if micros < s.config.HistogramMin {
			micros = s.config.HistogramMin
		}
		if micros > s.config.HistogramMax {
			micros = s.config.HistogramMax
		}

		// HDR histogram RecordValue is NOT thread-safe
		s.durationHistMu.Lock()
		_ = s.durationHist.RecordValue(micros)
		s.durationHistMu.Unlock()
	}

	if len(r.Checks) > 0 || (r.Outcome == OutcomeFailure && r.Reason != "") {
		s.tableMu.Lock()
		for _, c := range r.Checks {
			stats, ok := s.checks[c.Name]
			if !ok {
				stats = &CheckStats{Name: c.Name}
				s.checks[c.Name] = stats
			}
			if c.Passed {
				stats.Passes++
			} else {
				stats.Fails++
			}
		}
		if r.Outcome == OutcomeFailure && r.Reason != "" {
			s.reasons[r.Reason]++
		}
		s.tableMu.Unlock()
	}

	for _, o := range s.observers {
		o.ObserveIteration(r)
	}
	return true
}

// RecordSample stores a concurrency sample and returns it with its
// iteration fields filled in.
func (s *Sink) RecordSample(sample Sample) Sample {
	finished := s.success.Load() + s.failure.Load() + s.cancelled.Load()
	sample = s.samples.Add(sample, finished)

	for _, o := range s.observers {
		o.ObserveSample(sample)
	}
	return sample
}

// RecordClamp notes that the schedule requested more VUs than the ceiling.
func (s *Sink) RecordClamp(requested, ceiling int) {
	s.clampMu.Lock()
	defer s.clampMu.Unlock()

	s.clampCount++
	s.clampCeiling = ceiling
	if requested > s.clampPeak {
		s.clampPeak = requested
	}
}

// LatestSample returns the most recent concurrency sample.
func (s *Sink) LatestSample() (Sample, bool) {
	return s.samples.Latest()
}

// Snapshot returns a point-in-time copy of the aggregate.
//
// Once the sink is finalized it returns the frozen summary.
func (s *Sink) Snapshot() *Summary {
	if s.finalized.Load() {
		return s.final
	}
	return s.build(false)
}

// Finalize freezes the aggregate and returns it. Calling it again returns
// the same summary.
func (s *Sink) Finalize() *Summary {
	s.finalizeOnce.Do(func() {
		s.final = s.build(true)
		s.finalized.Store(true)
	})
	return s.final
}

// Finalized reports whether Finalize has been called.
func (s *Sink) Finalized() bool {
	return s.finalized.Load()
}

// Dropped returns the number of results that arrived after Finalize.
func (s *Sink) Dropped() int64 {
	return s.droppedAfterF.Load()
}

func (s *Sink) build(final bool) *Summary {
	success := s.success.Load()
	failure := s.failure.Load()

	summary := &Summary{
		Iterations: IterationCounts{
			Started:   s.started.Load(),
			Completed: success + failure,
			Success:   success,
			Failure:   failure,
			Cancelled: s.cancelled.Load(),
		},
		BytesReceived: s.bytes.Load(),
		Samples:       s.samples.All(),
		Final:         final,
	}

	s.durationHistMu.Lock()
	summary.Duration = durationStats(s.durationHist)
	s.durationHistMu.Unlock()

	s.tableMu.Lock()
	if len(s.reasons) > 0 {
		summary.FailureReasons = make(map[string]int64, len(s.reasons))
		for k, v := range s.reasons {
			summary.FailureReasons[k] = v
		}
	}
	for _, c := range s.checks {
		summary.Checks = append(summary.Checks, *c)
	}
	s.tableMu.Unlock()

	sort.Slice(summary.Checks, func(i, j int) bool {
		return summary.Checks[i].Name < summary.Checks[j].Name
	})

	s.clampMu.Lock()
	if s.clampCount > 0 {
		summary.Warnings = append(summary.Warnings, Warning{
			Kind: WarningPoolExhausted,
			Message: fmt.Sprintf("schedule requested up to %d VUs but maxVUs is %d; target was clamped",
				s.clampPeak, s.clampCeiling),
			Count: s.clampCount,
		})
	}
	s.clampMu.Unlock()

	return summary
}

func durationStats(h *hdrhistogram.Histogram) DurationStats {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

	return DurationStats{
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   us(int64(h.Mean())),
		StdDev: us(int64(h.StdDev())),
		P50:    us(h.ValueAtQuantile(50)),
		P90:    us(h.ValueAtQuantile(90)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}
