// Package engine provides the run controller for staged load tests.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/schedule"
	"github.com/wesleyorama2/stampede/internal/load/workload"
)

// Engine drives one staged run at a time.
//
// It coordinates:
//   - Re-evaluating the stage schedule on every tick
//   - Reconciling the VU pool toward the scheduled target
//   - Sampling concurrency over time
//   - Graceful shutdown, finalization and threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	e, _ := engine.New(cfg, nil)
//	report, _ := e.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", report.Passed)
type Engine struct {
	config   *config.TestConfig
	workload workload.Workload
	schedule *schedule.Schedule
	pacing   *load.Pacing

	clock     schedule.Clock
	logger    *zap.Logger
	observers []metrics.Observer

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	pool      *load.Pool
	sink      *metrics.Sink
	step      schedule.Step
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving the tick loop (default: real clock).
func WithClock(c schedule.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithObserver adds an observer that receives every iteration result and
// concurrency sample.
func WithObserver(o metrics.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// New creates an engine for cfg.
//
// When wl is nil the HTTP workload described by cfg.Workload is used.
// Configuration problems are reported here, before any VU is spawned; the
// error wraps a *config.ValidationErrors when validation failed.
func New(cfg *config.TestConfig, wl workload.Workload, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("invalid configuration: config is nil")
	}

	var err error
	if wl == nil {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateRun()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyDefaults(cfg)

	stages, err := cfg.ScheduleStages()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sched, err := schedule.New(stages, cfg.Options.MaxVUs)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pacing, err := pacingFromConfig(cfg.Options.Pacing)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if wl == nil {
		wl, err = workload.NewHTTP(cfg.Workload, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	e := &Engine{
		config:   cfg,
		workload: wl,
		schedule: sched,
		pacing:   pacing,
		clock:    schedule.RealClock(),
		logger:   zap.NewNop(),
		step:     schedule.Step{Phase: schedule.PhaseInit},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func pacingFromConfig(pc *config.PacingConfig) (*load.Pacing, error) {
	if pc == nil || pc.Type == "" || pc.Type == string(load.PacingNone) {
		return nil, nil
	}

	p := &load.Pacing{Type: load.PacingType(pc.Type)}
	var err error
	switch p.Type {
	case load.PacingConstant:
		if p.Duration, err = config.ParseDurationString(pc.Duration); err != nil {
			return nil, fmt.Errorf("pacing duration: %w", err)
		}
	case load.PacingRandom:
		if p.Min, err = config.ParseDurationString(pc.Min); err != nil {
			return nil, fmt.Errorf("pacing min: %w", err)
		}
		if p.Max, err = config.ParseDurationString(pc.Max); err != nil {
			return nil, fmt.Errorf("pacing max: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown pacing type %q", pc.Type)
	}
	return p, nil
}

// Run executes the schedule and returns the final report.
//
// Cancelling ctx aborts the run: the remaining stages are skipped and the
// pool is shut down gracefully, so a report is still returned with Aborted
// set. Only one Run may be active per engine.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = e.clock.Now()
	start := e.startTime

	opts := e.config.Options
	sink := metrics.NewSinkWithConfig(e.sinkConfig(), e.observers...)

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	// In-flight iterations survive ctx cancellation until the grace period
	// expires; the pool cancels them itself.
	pool := load.NewPool(context.WithoutCancel(ctx), load.PoolConfig{
		MaxVUs:           opts.MaxVUs,
		IterationTimeout: opts.IterationTimeout.GetDuration(config.DefaultIterationTimeout),
		Pacing:           e.pacing,
		Limiter:          limiter,
		Logger:           e.logger,
	}, e.workload, sink)

	e.pool = pool
	e.sink = sink
	e.step = schedule.Step{Phase: schedule.PhaseInit}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.New().String()
	log := e.logger.With(zap.String("run", runID), zap.String("name", e.config.Name))
	log.Info("run started",
		zap.Int("stages", e.schedule.Len()),
		zap.Duration("duration", e.schedule.TotalDuration()),
		zap.Int("maxVUs", opts.MaxVUs))

	tick := opts.TickInterval.GetDuration(config.DefaultTickInterval)
	sampleInterval := opts.SampleInterval.GetDuration(config.DefaultSampleInterval)

	ticker := e.clock.NewTicker(tick)
	defer ticker.Stop()

	r := &reconciler{engine: e, pool: pool, sink: sink, log: log, lastStage: -2}

	step := r.reconcile(0)
	r.sample(step)
	lastSample := time.Duration(0)
	aborted := false

loop:
	for !step.Done {
		select {
		case <-ctx.Done():
			aborted = true
			log.Warn("run aborted", zap.Error(ctx.Err()))
			break loop
		case <-ticker.C():
			elapsed := e.clock.Now().Sub(start)
			step = r.reconcile(elapsed)
			if elapsed-lastSample >= sampleInterval {
				r.sample(step)
				lastSample = elapsed
			}
		}
	}

	grace := opts.ShutdownGrace.GetDuration(config.DefaultShutdownGrace)
	shutdown := pool.Shutdown(grace)
	if !shutdown.Graceful {
		log.Warn("forced cancellation of in-flight iterations", zap.Int("vus", shutdown.Forced))
	}

	end := e.clock.Now()
	final := step
	final.Elapsed = end.Sub(start)
	final.Done = true
	final.Phase = schedule.PhaseDone
	final.Requested, final.Target = 0, 0
	r.sample(final)

	e.mu.Lock()
	e.step = final
	e.mu.Unlock()

	summary := sink.Finalize()
	report := &Report{
		ID:          runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Stages:      e.schedule.Stages(),
		Summary:     summary,
		VUs: VUStats{
			Max:     opts.MaxVUs,
			Spawned: pool.Spawned(),
			Peak:    pool.Peak(),
			Forced:  shutdown.Forced,
		},
		Aborted:  aborted,
		Warnings: summary.Warnings,
	}
	report.Thresholds = evaluateThresholds(e.config.Thresholds, report)
	report.Passed = true
	for _, tr := range report.Thresholds {
		if !tr.Passed {
			report.Passed = false
			break
		}
	}

	log.Info("run finished",
		zap.Duration("duration", report.Duration),
		zap.Int64("iterations", summary.Iterations.Completed),
		zap.Int64("failures", summary.Iterations.Failure),
		zap.Int64("cancelled", summary.Iterations.Cancelled),
		zap.Bool("passed", report.Passed))

	return report, nil
}

func (e *Engine) sinkConfig() metrics.SinkConfig {
	c := metrics.DefaultSinkConfig()
	sampleInterval := e.config.Options.SampleInterval.GetDuration(config.DefaultSampleInterval)
	// One sample per interval plus the initial and final ones
	if n := int(e.schedule.TotalDuration()/sampleInterval) + 2; n > c.MaxSamples {
		c.MaxSamples = n
	}
	return c
}

// reconciler applies schedule steps to the pool for one run.
type reconciler struct {
	engine    *Engine
	pool      *load.Pool
	sink      *metrics.Sink
	log       *zap.Logger
	lastStage int
	warned    int
}

func (r *reconciler) reconcile(elapsed time.Duration) schedule.Step {
	step := r.engine.schedule.StepAt(elapsed)

	if step.StageIndex != r.lastStage {
		if step.Done {
			r.log.Info("schedule complete", zap.Duration("elapsed", elapsed))
		} else {
			r.log.Info("stage started",
				zap.Int("stage", step.StageIndex),
				zap.String("name", step.StageName),
				zap.String("phase", string(step.Phase)),
				zap.Duration("elapsed", elapsed))
		}
		r.lastStage = step.StageIndex
	}

	rec := r.pool.Reconcile(step.Requested)
	if rec.Clamped {
		r.sink.RecordClamp(rec.Requested, r.engine.config.Options.MaxVUs)
		// Log once per stage
		if r.warned != step.StageIndex+1 {
			r.log.Warn("target exceeds maxVUs, clamping",
				zap.Int("requested", rec.Requested),
				zap.Int("maxVUs", r.engine.config.Options.MaxVUs),
				zap.Int("stage", step.StageIndex))
			r.warned = step.StageIndex + 1
		}
	}

	r.engine.mu.Lock()
	r.engine.step = step
	r.engine.mu.Unlock()

	return step
}

func (r *reconciler) sample(step schedule.Step) {
	r.sink.RecordSample(metrics.Sample{
		Elapsed:   step.Elapsed,
		Stage:     step.StageIndex,
		Phase:     step.Phase,
		Requested: step.Requested,
		Target:    step.Target,
		LiveVUs:   r.pool.Live(),
		ActiveVUs: r.pool.Active(),
	})
}

// RunState is a point-in-time view of a run in progress.
type RunState struct {
	Running    bool           `json:"running"`
	Elapsed    time.Duration  `json:"elapsed"`
	Progress   float64        `json:"progress"`
	StageIndex int            `json:"stageIndex"`
	StageName  string         `json:"stageName,omitempty"`
	Phase      schedule.Phase `json:"phase"`
	Target     int            `json:"target"`
	LiveVUs    int            `json:"liveVUs"`
	ActiveVUs  int            `json:"activeVUs"`
	Iterations int64          `json:"iterations"`
	Failures   int64          `json:"failures"`
}

// Stats returns the state of the current (or last) run.
func (e *Engine) Stats() RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := RunState{
		Running:    e.running,
		StageIndex: e.step.StageIndex,
		StageName:  e.step.StageName,
		Phase:      e.step.Phase,
		Target:     e.step.Target,
	}
	if e.startTime.IsZero() {
		return state
	}

	if e.running {
		state.Elapsed = e.clock.Now().Sub(e.startTime)
	} else {
		state.Elapsed = e.step.Elapsed
	}
	state.Progress = e.schedule.Progress(state.Elapsed)

	if e.pool != nil {
		state.LiveVUs = e.pool.Live()
		state.ActiveVUs = e.pool.Active()
	}
	if e.sink != nil {
		snap := e.sink.Snapshot()
		state.Iterations = snap.Iterations.Completed
		state.Failures = snap.Iterations.Failure
	}
	return state
}

// Snapshot returns the current metrics aggregate, or nil before the first run.
func (e *Engine) Snapshot() *metrics.Summary {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()

	if sink == nil {
		return nil
	}
	return sink.Snapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Progress returns the schedule progress (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	return e.Stats().Progress
}

// Schedule returns the stage schedule.
func (e *Engine) Schedule() *schedule.Schedule {
	return e.schedule
}

// Config returns the test configuration with defaults applied.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}
