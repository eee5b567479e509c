package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/schedule"
)

// Report contains the complete results of one run.
type Report struct {
	// Run metadata
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     time.Time        `json:"endTime"`
	Duration    time.Duration    `json:"duration"`
	Stages      []schedule.Stage `json:"stages"`

	// Final aggregate from the metrics sink
	Summary *metrics.Summary `json:"summary"`

	VUs VUStats `json:"vus"`

	// Aborted is set when the run was cancelled before the schedule finished
	Aborted bool `json:"aborted"`

	// Threshold evaluation
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	Warnings []metrics.Warning `json:"warnings,omitempty"`
}

// VUStats summarizes pool activity over the run.
type VUStats struct {
	Max     int `json:"max"`
	Spawned int `json:"spawned"`
	Peak    int `json:"peak"`

	// Forced is the number of VUs cancelled after the shutdown grace period
	Forced int `json:"forced"`
}

// IterationRate returns completed iterations per second over the run.
func (r *Report) IterationRate() float64 {
	if r.Summary == nil || r.Duration <= 0 {
		return 0
	}
	return float64(r.Summary.Iterations.Completed) / r.Duration.Seconds()
}

// FailedThresholds returns the thresholds that did not pass.
func (r *Report) FailedThresholds() []ThresholdResult {
	var failed []ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}
