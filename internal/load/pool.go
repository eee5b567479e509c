package load

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/workload"
)

// PoolConfig contains configuration for a Pool.
type PoolConfig struct {
	// MaxVUs is the hard ceiling on VU goroutines alive at once, counting
	// VUs that are still draining. Zero means no ceiling.
	MaxVUs int

	// IterationTimeout is the per-iteration deadline (0 = none)
	IterationTimeout time.Duration

	// Pacing controls the wait between iterations of one VU (optional)
	Pacing *Pacing

	// Limiter caps the global iteration start rate (optional)
	Limiter *rate.Limiter

	// Logger receives pool events (default: no-op)
	Logger *zap.Logger
}

// Reconciliation reports what a Reconcile call did.
type Reconciliation struct {
	// Requested is the target passed to Reconcile
	Requested int `json:"requested"`

	// Target is the requested value after clamping to MaxVUs
	Target int `json:"target"`

	// Clamped is set when Requested exceeded MaxVUs
	Clamped bool `json:"clamped"`

	// Spawned and Drained count VUs started and asked to stop by this call
	Spawned int `json:"spawned"`
	Drained int `json:"drained"`

	// Deferred counts VUs that could not be spawned yet because draining
	// VUs still occupy the ceiling
	Deferred int `json:"deferred"`

	// Live is the number of running VUs after the call
	Live int `json:"live"`
}

// ShutdownResult reports how the pool stopped.
type ShutdownResult struct {
	// Graceful is true when every VU finished within the grace period
	Graceful bool `json:"graceful"`

	// Forced is the number of VUs cancelled after the grace period
	Forced int `json:"forced"`

	// Elapsed is how long Shutdown took
	Elapsed time.Duration `json:"elapsed"`
}

// Pool manages the set of live Virtual Users.
//
// It provides:
// - Reconcile to grow or shrink toward a target count
// - A hard ceiling on concurrently alive VU goroutines
// - Graceful shutdown with forced cancellation after a grace period
//
// VUs are drained most-recently-spawned first.
type Pool struct {
	cfg      PoolConfig
	workload workload.Workload
	sink     *metrics.Sink
	logger   *zap.Logger

	// Hard cancellation for in-flight iterations
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	live     []*VirtualUser // running VUs in spawn order
	draining map[int]*VirtualUser
	nextID   int
	closed   bool

	active  atomic.Int64 // VU goroutines alive
	spawned atomic.Int64
	peak    atomic.Int64
	forced  atomic.Int64

	wg sync.WaitGroup
}

// NewPool creates a pool whose VUs run wl and report into sink.
//
// Cancelling ctx force-cancels every in-flight iteration.
func NewPool(ctx context.Context, cfg PoolConfig, wl workload.Workload, sink *metrics.Sink) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		cfg:      cfg,
		workload: wl,
		sink:     sink,
		logger:   cfg.Logger,
		ctx:      poolCtx,
		cancel:   cancel,
		draining: make(map[int]*VirtualUser),
	}
}

// Reconcile moves the pool toward target live VUs.
//
// It is idempotent: calling it again with the same target and no VU exits in
// between changes nothing. Growth spawns new VUs that start iterating
// immediately, up to the ceiling; any shortfall is retried on the next call.
// Shrinking asks the most recently spawned VUs to stop after their current
// iteration.
func (p *Pool) Reconcile(target int) Reconciliation {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := Reconciliation{Requested: target}
	if target < 0 {
		target = 0
	}
	if p.cfg.MaxVUs > 0 && target > p.cfg.MaxVUs {
		target = p.cfg.MaxVUs
		rec.Clamped = true
	}
	rec.Target = target

	if p.closed {
		rec.Live = len(p.live)
		return rec
	}

	live := len(p.live)
	switch {
	case target > live:
		want := target - live
		n := want
		if p.cfg.MaxVUs > 0 {
			room := p.cfg.MaxVUs - int(p.active.Load())
			if room < n {
				n = room
			}
			if n < 0 {
				n = 0
			}
		}
		for i := 0; i < n; i++ {
			p.spawnLocked()
		}
		rec.Spawned = n
		rec.Deferred = want - n

	case target < live:
		excess := live - target
		for i := 0; i < excess; i++ {
			vu := p.live[len(p.live)-1]
			p.live = p.live[:len(p.live)-1]
			p.draining[vu.ID] = vu
			vu.requestStop()
		}
		rec.Drained = excess
	}

	rec.Live = len(p.live)
	return rec
}

// spawnLocked starts a new VU. p.mu must be held.
func (p *Pool) spawnLocked() {
	p.nextID++
	vu := newVirtualUser(p.nextID)
	p.live = append(p.live, vu)

	active := p.active.Add(1)
	p.spawned.Add(1)
	for {
		peak := p.peak.Load()
		if active <= peak || p.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(vu)
		vu.run(p.ctx, p)
	}()
}

// release removes an exited VU from the pool's bookkeeping.
func (p *Pool) release(vu *VirtualUser) {
	p.mu.Lock()
	if _, ok := p.draining[vu.ID]; ok {
		delete(p.draining, vu.ID)
	} else {
		for i, v := range p.live {
			if v == vu {
				p.live = append(p.live[:i], p.live[i+1:]...)
				break
			}
		}
	}
	p.active.Add(-1)
	p.mu.Unlock()

	vu.markStopped()
}

// Shutdown drains every VU and waits up to grace for in-flight iterations.
// VUs still busy after grace are force-cancelled; their iterations are
// recorded as cancelled. Shutdown returns once every VU goroutine has exited.
//
// After Shutdown, Reconcile no longer spawns VUs.
func (p *Pool) Shutdown(grace time.Duration) ShutdownResult {
	start := time.Now()

	p.mu.Lock()
	p.closed = true
	for i := len(p.live) - 1; i >= 0; i-- {
		vu := p.live[i]
		p.draining[vu.ID] = vu
		vu.requestStop()
	}
	p.live = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	result := ShutdownResult{Graceful: true}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		result.Graceful = false
		result.Forced = p.Active()
		p.forced.Add(int64(result.Forced))
		p.logger.Warn("shutdown grace period expired, cancelling in-flight iterations",
			zap.Duration("grace", grace),
			zap.Int("vus", result.Forced))
		p.cancel()
		<-done
	}

	p.cancel()
	result.Elapsed = time.Since(start)
	return result
}

// Live returns the number of running (non-draining) VUs.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Draining returns the number of VUs finishing their last iteration.
func (p *Pool) Draining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.draining)
}

// Active returns the number of VU goroutines alive, including draining ones.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Spawned returns the total number of VUs ever spawned.
func (p *Pool) Spawned() int {
	return int(p.spawned.Load())
}

// Peak returns the highest number of VU goroutines alive at once.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Forced returns the number of VUs cancelled by Shutdown.
func (p *Pool) Forced() int {
	return int(p.forced.Load())
}

// VUs returns the running VUs in spawn order.
func (p *Pool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*VirtualUser, len(p.live))
	copy(out, p.live)
	return out
}
