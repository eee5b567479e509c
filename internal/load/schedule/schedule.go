// Package schedule computes target VU concurrency over time from an ordered
// list of stages.
//
// Each stage ramps linearly from the previous stage's target (0 before the
// first stage) to its own target over its duration:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
//
// A zero-duration stage is an instant jump to its target. Once the elapsed
// time reaches the sum of all durations the target is 0 and the schedule is
// done.
package schedule

import (
	"fmt"
	"time"
)

// Phase classifies the stage the schedule is currently in.
type Phase string

const (
	// PhaseInit is reported before the first evaluation
	PhaseInit Phase = "init"

	// PhaseRampUp is a stage whose target is above the previous one
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is a stage that holds the previous target
	PhaseSteady Phase = "steady"

	// PhaseRampDown is a stage whose target is below the previous one
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone is reported once every stage has elapsed
	PhaseDone Phase = "done"
)

// Stage is one timed segment of the schedule.
type Stage struct {
	// Duration of this stage; zero means an instant jump
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Step is the scheduler's answer for one instant of the run.
type Step struct {
	Elapsed time.Duration

	// StageIndex is the stage containing Elapsed, -1 once done
	StageIndex int
	StageName  string

	// Requested is the interpolated target before the maxVUs ceiling
	Requested int

	// Target is Requested clamped to [0, maxVUs]
	Target int

	Phase Phase
	Done  bool
}

// Schedule is an immutable, validated sequence of stages.
type Schedule struct {
	stages []Stage
	total  time.Duration
	maxVUs int
}

// New validates stages and builds a Schedule.
//
// maxVUs is the ceiling applied to Step.Target; zero or less disables it.
// The stages are copied, so later changes to the slice do not affect the
// schedule.
func New(stages []Stage, maxVUs int) (*Schedule, error) {
	s := &Schedule{
		stages: make([]Stage, len(stages)),
		maxVUs: maxVUs,
	}

	for i, stage := range stages {
		if stage.Duration < 0 {
			return nil, fmt.Errorf("stage %d: duration cannot be negative (%s)", i+1, stage.Duration)
		}
		if stage.Target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative (%d)", i+1, stage.Target)
		}
		s.stages[i] = stage
		s.total += stage.Duration
	}

	return s, nil
}

// Stages returns a copy of the stages.
func (s *Schedule) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// Len returns the number of stages.
func (s *Schedule) Len() int {
	return len(s.stages)
}

// TotalDuration is the sum of all stage durations.
func (s *Schedule) TotalDuration() time.Duration {
	return s.total
}

// MaxVUs returns the ceiling the schedule clamps to.
func (s *Schedule) MaxVUs() int {
	return s.maxVUs
}

// PeakTarget returns the highest stage target, before clamping.
func (s *Schedule) PeakTarget() int {
	peak := 0
	for _, stage := range s.stages {
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	return peak
}

// TargetAt returns the clamped target concurrency at elapsed.
func (s *Schedule) TargetAt(elapsed time.Duration) int {
	return s.StepAt(elapsed).Target
}

// StepAt evaluates the schedule at elapsed.
func (s *Schedule) StepAt(elapsed time.Duration) Step {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range s.stages {
		if stage.Duration == 0 {
			// The final jump holds its target for the instant it lands on.
			if i == len(s.stages)-1 && elapsed == stageStart {
				return Step{
					Elapsed:    elapsed,
					StageIndex: i,
					StageName:  stage.Name,
					Requested:  stage.Target,
					Target:     s.clamp(stage.Target),
					Phase:      phaseOf(prevTarget, stage.Target),
				}
			}
			prevTarget = stage.Target
			continue
		}

		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			value := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			requested := int(value + 0.5)

			return Step{
				Elapsed:    elapsed,
				StageIndex: i,
				StageName:  stage.Name,
				Requested:  requested,
				Target:     s.clamp(requested),
				Phase:      phaseOf(prevTarget, stage.Target),
			}
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return Step{
		Elapsed:    elapsed,
		StageIndex: -1,
		Phase:      PhaseDone,
		Done:       true,
	}
}

// Progress returns how far elapsed is through the schedule (0.0 to 1.0).
func (s *Schedule) Progress(elapsed time.Duration) float64 {
	if s.total == 0 {
		return 1.0
	}
	p := float64(elapsed) / float64(s.total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (s *Schedule) clamp(v int) int {
	if v < 0 {
		return 0
	}
	if s.maxVUs > 0 && v > s.maxVUs {
		return s.maxVUs
	}
	return v
}

func phaseOf(from, to int) Phase {
	switch {
	case to > from:
		return PhaseRampUp
	case to < from:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}
