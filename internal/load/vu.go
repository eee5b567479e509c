// Package load runs virtual users against a workload.
//
// A Pool owns every VU goroutine. The run controller in the engine package
// calls Reconcile with the scheduled target on each tick and Shutdown once
// the schedule is done; the pool spawns, drains and cancels VUs accordingly.
package load

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/workload"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateSpawning indicates the VU was created but its goroutine has not started iterating.
	VUStateSpawning VUState = iota
	// VUStateRunning indicates the VU is looping iterations.
	VUStateRunning
	// VUStateDraining indicates the VU will stop after its current iteration.
	VUStateDraining
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateSpawning:
		return "spawning"
	case VUStateRunning:
		return "running"
	case VUStateDraining:
		return "draining"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PacingType is the strategy used between iterations of the same VU.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing controls the wait between iterations.
type Pacing struct {
	Type     PacingType
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Next returns how long to wait before the next iteration.
func (p *Pacing) Next() time.Duration {
	if p == nil {
		return 0
	}
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// VirtualUser is a single simulated user looping the workload.
//
// VUs are created and owned by a Pool. A stop request is only observed
// between iterations; an in-flight iteration is interrupted only by the
// pool's hard cancellation.
type VirtualUser struct {
	// Unique identifier for this VU, assigned in spawn order starting at 1
	ID int

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Stop signal
	stopCh   chan struct{}
	stopOnce sync.Once

	// Done signal (closed when the VU goroutine exits)
	doneCh chan struct{}

	iteration atomic.Int64
	busy      atomic.Bool
}

func newVirtualUser(id int) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iteration returns the number of iterations started by this VU.
func (vu *VirtualUser) Iteration() int64 {
	return vu.iteration.Load()
}

// Busy reports whether an iteration is in flight.
func (vu *VirtualUser) Busy() bool {
	return vu.busy.Load()
}

// Done returns a channel closed when the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// requestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) requestStop() {
	vu.stopOnce.Do(func() {
		if !vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateDraining)) {
			vu.state.CompareAndSwap(int32(VUStateSpawning), int32(VUStateDraining))
		}
		close(vu.stopCh)
	})
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.doneCh)
}

// run loops iterations until a stop is requested or ctx is cancelled.
//
// ctx is the pool's hard context; cancelling it interrupts the in-flight
// iteration, which is then recorded as cancelled.
func (vu *VirtualUser) run(ctx context.Context, p *Pool) {
	vu.state.CompareAndSwap(int32(VUStateSpawning), int32(VUStateRunning))

	// Waits between iterations end early on a stop request.
	softCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-vu.stopCh:
			cancel()
		case <-softCtx.Done():
		}
	}()

	for {
		if vu.stopRequested() || ctx.Err() != nil {
			return
		}

		if p.cfg.Limiter != nil {
			if err := p.cfg.Limiter.Wait(softCtx); err != nil {
				return
			}
			if vu.stopRequested() {
				return
			}
		}

		result := vu.runIteration(ctx, p)
		p.sink.Record(result)
		if result.Outcome == metrics.OutcomeCancelled {
			return
		}

		if wait := p.cfg.Pacing.Next(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-softCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

type callResult struct {
	resp     *workload.Response
	err      error
	panicked bool
}

// runIteration executes one workload call and classifies its outcome.
func (vu *VirtualUser) runIteration(ctx context.Context, p *Pool) *metrics.IterationResult {
	iter := vu.iteration.Add(1)
	vu.busy.Store(true)
	defer vu.busy.Store(false)

	p.sink.MarkStarted()
	start := time.Now()

	var iterCtx context.Context
	var cancel context.CancelFunc
	if p.cfg.IterationTimeout > 0 {
		iterCtx, cancel = context.WithTimeout(ctx, p.cfg.IterationTimeout)
	} else {
		iterCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	iterCtx = workload.ContextWithVU(iterCtx, workload.VUInfo{ID: vu.ID, Iteration: iter})

	// The call runs in its own goroutine so a workload that ignores its
	// context cannot hold the VU past cancellation.
	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callResult{err: fmt.Errorf("workload panic: %v", r), panicked: true}
			}
		}()
		resp, err := p.workload.Execute(iterCtx)
		ch <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-ch:
	case <-iterCtx.Done():
		res = callResult{err: iterCtx.Err()}
	}

	result := &metrics.IterationResult{
		VUID:      vu.ID,
		Iteration: iter,
		StartedAt: start,
		Duration:  time.Since(start),
		Err:       res.err,
	}
	if res.resp != nil {
		result.BytesReceived = res.resp.Bytes
	}

	switch {
	case ctx.Err() != nil && res.err != nil:
		result.Outcome = metrics.OutcomeCancelled
		return result
	case res.panicked:
		result.Outcome = metrics.OutcomeFailure
		result.Reason = metrics.ReasonPanic
		p.logger.Warn("workload panicked", zap.Int("vu", vu.ID), zap.Error(res.err))
	case res.err != nil && (iterCtx.Err() == context.DeadlineExceeded || isTimeout(res.err)):
		result.Outcome = metrics.OutcomeFailure
		result.Reason = metrics.ReasonTimeout
	case res.err != nil:
		result.Outcome = metrics.OutcomeFailure
		result.Reason = metrics.ReasonError
	case res.resp != nil && res.resp.Failed:
		result.Outcome = metrics.OutcomeFailure
		result.Reason = res.resp.Reason
		if result.Reason == "" {
			result.Reason = metrics.ReasonError
		}
	default:
		result.Outcome = metrics.OutcomeSuccess
	}

	checks := p.workload.Checks()
	if len(checks) > 0 {
		aborted := false
		result.Checks = make([]metrics.CheckResult, 0, len(checks))
		for _, c := range checks {
			passed := res.resp != nil && evalCheck(c, res.resp)
			result.Checks = append(result.Checks, metrics.CheckResult{Name: c.Name, Passed: passed})
			if !passed && c.AbortOnFail {
				aborted = true
			}
		}
		if aborted && result.Outcome == metrics.OutcomeSuccess {
			result.Outcome = metrics.OutcomeFailure
			result.Reason = metrics.ReasonCheck
		}
	}

	return result
}

// isTimeout reports whether err is a deadline or a transport timeout, such
// as the one http.Client returns when its own Timeout fires first.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// evalCheck runs a check predicate, treating a panic as a failed check.
func evalCheck(c workload.Check, resp *workload.Response) (passed bool) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
		}
	}()
	return c.Fn(resp)
}
