package metrics

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/load/schedule"
)

// Outcome is how an iteration ended.
type Outcome string

const (
	// OutcomeSuccess means the workload returned normally and reported no failure
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure covers workload errors, panics, timeouts and
	// workload-reported failures
	OutcomeFailure Outcome = "failure"

	// OutcomeCancelled means the iteration was interrupted by forced shutdown
	OutcomeCancelled Outcome = "cancelled"
)

// Failure reasons recorded alongside OutcomeFailure.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"
	ReasonStatus  = "status"
	ReasonCheck   = "check"
)

// CheckResult is the result of one named check in one iteration.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// IterationResult is produced once per iteration by a VU.
type IterationResult struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	Outcome       Outcome       `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	Checks        []CheckResult `json:"checks,omitempty"`
	BytesReceived int64         `json:"bytesReceived"`
	Err           error         `json:"-"`
}

// Sample is one concurrency-over-time observation.
//
// The run controller fills the VU fields; the sink fills the iteration
// fields from its counters when the sample is recorded.
type Sample struct {
	Elapsed   time.Duration  `json:"elapsed"`
	Stage     int            `json:"stage"`
	Phase     schedule.Phase `json:"phase"`
	Requested int            `json:"requested"`
	Target    int            `json:"target"`
	LiveVUs   int            `json:"liveVUs"`
	ActiveVUs int            `json:"activeVUs"`

	Iterations         int64   `json:"iterations"`
	IntervalIterations int64   `json:"intervalIterations"`
	IntervalRate       float64 `json:"intervalRate"`
}

// Summary is the aggregate of every recorded result.
type Summary struct {
	Iterations     IterationCounts  `json:"iterations"`
	FailureReasons map[string]int64 `json:"failureReasons,omitempty"`
	Checks         []CheckStats     `json:"checks,omitempty"`
	Duration       DurationStats    `json:"iterationDuration"`
	BytesReceived  int64            `json:"bytesReceived"`
	Samples        []Sample         `json:"samples,omitempty"`
	Warnings       []Warning        `json:"warnings,omitempty"`
	Final          bool             `json:"final"`
}

// IterationCounts counts iterations by outcome.
type IterationCounts struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Success   int64 `json:"success"`
	Failure   int64 `json:"failure"`
	Cancelled int64 `json:"cancelled"`
}

// FailureRate is failures over completed iterations. Cancelled iterations
// are excluded.
func (c IterationCounts) FailureRate() float64 {
	if c.Completed == 0 {
		return 0
	}
	return float64(c.Failure) / float64(c.Completed)
}

// CheckStats counts passes and fails of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// PassRate returns the fraction of evaluations that passed.
func (c CheckStats) PassRate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// CheckPassRate returns the pass rate across every check.
func (s *Summary) CheckPassRate() float64 {
	var passes, total int64
	for _, c := range s.Checks {
		passes += c.Passes
		total += c.Passes + c.Fails
	}
	if total == 0 {
		return 0
	}
	return float64(passes) / float64(total)
}

// DurationStats contains iteration duration statistics.
type DurationStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Warning is a non-fatal condition surfaced in the report.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// WarningPoolExhausted is raised when the schedule asked for more than maxVUs.
const WarningPoolExhausted = "pool-exhausted"
