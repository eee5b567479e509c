package load_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/workload"
)

// gate is a workload whose iterations block until the gate is opened.
type gate struct {
	open        chan struct{}
	once        sync.Once
	cooperative bool
	calls       atomic.Int64
}

func newGate(cooperative bool) *gate {
	return &gate{open: make(chan struct{}), cooperative: cooperative}
}

func (g *gate) Open() { g.once.Do(func() { close(g.open) }) }

func (g *gate) Execute(ctx context.Context) (*workload.Response, error) {
	g.calls.Add(1)
	if g.cooperative {
		select {
		case <-g.open:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-g.open
	}
	time.Sleep(time.Millisecond)
	return &workload.Response{Status: 200, Bytes: 10}, nil
}

func (g *gate) Checks() []workload.Check { return nil }

func quick(status int, err error) workload.Workload {
	return workload.Func(func(ctx context.Context) (*workload.Response, error) {
		time.Sleep(time.Millisecond)
		if err != nil {
			return nil, err
		}
		return &workload.Response{Status: status, Bytes: 1}, nil
	})
}

func newPool(t *testing.T, cfg load.PoolConfig, wl workload.Workload) (*load.Pool, *metrics.Sink) {
	t.Helper()
	sink := metrics.NewSink()
	pool := load.NewPool(context.Background(), cfg, wl, sink)
	return pool, sink
}

func TestPool_ReconcileGrowAndShrink(t *testing.T) {
	pool, _ := newPool(t, load.PoolConfig{MaxVUs: 100}, quick(200, nil))
	defer pool.Shutdown(time.Second)

	rec := pool.Reconcile(5)
	assert.Equal(t, 5, rec.Spawned)
	assert.Equal(t, 5, rec.Live)
	assert.False(t, rec.Clamped)

	// Idempotent
	rec = pool.Reconcile(5)
	assert.Equal(t, 0, rec.Spawned)
	assert.Equal(t, 0, rec.Drained)
	assert.Equal(t, 5, rec.Live)

	rec = pool.Reconcile(2)
	assert.Equal(t, 3, rec.Drained)
	assert.Equal(t, 2, rec.Live)
	assert.Equal(t, 2, pool.Live())

	require.Eventually(t, func() bool { return pool.Active() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, pool.Spawned())
	assert.Equal(t, 5, pool.Peak())
}

func TestPool_DrainsMostRecentFirst(t *testing.T) {
	pool, _ := newPool(t, load.PoolConfig{}, quick(200, nil))
	defer pool.Shutdown(time.Second)

	pool.Reconcile(4)
	pool.Reconcile(2)

	vus := pool.VUs()
	require.Len(t, vus, 2)
	assert.Equal(t, 1, vus[0].ID)
	assert.Equal(t, 2, vus[1].ID)
}

func TestPool_ClampsToMaxVUs(t *testing.T) {
	pool, _ := newPool(t, load.PoolConfig{MaxVUs: 10}, quick(200, nil))
	defer pool.Shutdown(time.Second)

	rec := pool.Reconcile(15)
	assert.True(t, rec.Clamped)
	assert.Equal(t, 15, rec.Requested)
	assert.Equal(t, 10, rec.Target)
	assert.Equal(t, 10, rec.Live)
}

func TestPool_NeverExceedsCeiling(t *testing.T) {
	const maxVUs = 10
	g := newGate(true)
	pool, _ := newPool(t, load.PoolConfig{MaxVUs: maxVUs}, g)

	var exceeded atomic.Bool
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if pool.Active() > maxVUs {
				exceeded.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	// Oscillate while VUs are blocked mid-iteration so draining VUs pile up
	for i := 0; i < 20; i++ {
		pool.Reconcile(maxVUs + 5)
		pool.Reconcile(i % 3)
	}
	g.Open()
	for i := 0; i < 20; i++ {
		pool.Reconcile(maxVUs + 5)
		time.Sleep(time.Millisecond)
		pool.Reconcile(0)
	}

	pool.Shutdown(2 * time.Second)
	close(stop)
	wg.Wait()

	assert.False(t, exceeded.Load(), "active VUs exceeded maxVUs")
	assert.LessOrEqual(t, pool.Peak(), maxVUs)
}

func TestPool_DrainingCountsTowardCeiling(t *testing.T) {
	g := newGate(true)
	pool, _ := newPool(t, load.PoolConfig{MaxVUs: 2}, g)
	defer pool.Shutdown(time.Second)

	pool.Reconcile(2)
	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)

	rec := pool.Reconcile(0)
	assert.Equal(t, 2, rec.Drained)
	assert.Equal(t, 2, pool.Draining())

	rec = pool.Reconcile(2)
	assert.Equal(t, 0, rec.Spawned)
	assert.Equal(t, 2, rec.Deferred)
	assert.Equal(t, 2, pool.Active())

	g.Open()
	require.Eventually(t, func() bool { return pool.Active() == 0 }, time.Second, time.Millisecond)

	rec = pool.Reconcile(2)
	assert.Equal(t, 2, rec.Spawned)
	assert.Equal(t, 4, pool.Spawned())
}

func TestPool_DrainingVUFinishesIteration(t *testing.T) {
	g := newGate(true)
	pool, sink := newPool(t, load.PoolConfig{}, g)

	pool.Reconcile(1)
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	vu := pool.VUs()[0]
	pool.Reconcile(0)
	assert.Equal(t, load.VUStateDraining, vu.State())
	assert.True(t, vu.Busy())

	g.Open()
	select {
	case <-vu.Done():
	case <-time.After(time.Second):
		t.Fatal("draining VU did not stop")
	}
	assert.Equal(t, load.VUStateStopped, vu.State())

	pool.Shutdown(time.Second)
	summary := sink.Finalize()
	assert.Equal(t, int64(1), summary.Iterations.Started)
	assert.Equal(t, int64(1), summary.Iterations.Success)
	assert.Equal(t, int64(0), summary.Iterations.Cancelled)
}

func TestPool_ShutdownForcesCancellation(t *testing.T) {
	// Ignores its context entirely
	g := newGate(false)
	defer g.Open()

	pool, sink := newPool(t, load.PoolConfig{}, g)
	pool.Reconcile(3)
	require.Eventually(t, func() bool { return g.calls.Load() == 3 }, time.Second, time.Millisecond)

	start := time.Now()
	res := pool.Shutdown(50 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, res.Graceful)
	assert.Equal(t, 3, res.Forced)
	assert.Equal(t, 3, pool.Forced())
	assert.Equal(t, 0, pool.Active())

	summary := sink.Finalize()
	assert.Equal(t, int64(3), summary.Iterations.Started)
	assert.Equal(t, int64(3), summary.Iterations.Cancelled)
	assert.Equal(t, int64(0), summary.Iterations.Failure)
}

func TestPool_ShutdownGraceful(t *testing.T) {
	pool, sink := newPool(t, load.PoolConfig{}, quick(200, nil))
	pool.Reconcile(4)
	time.Sleep(20 * time.Millisecond)

	res := pool.Shutdown(time.Second)
	assert.True(t, res.Graceful)
	assert.Equal(t, 0, res.Forced)

	summary := sink.Finalize()
	assert.Equal(t, int64(0), summary.Iterations.Cancelled)
	assert.Equal(t, summary.Iterations.Started, summary.Iterations.Success)

	// No spawning after shutdown
	rec := pool.Reconcile(4)
	assert.Equal(t, 0, rec.Spawned)
	assert.Equal(t, 0, pool.Active())
}

func TestPool_AlwaysErrorWorkload(t *testing.T) {
	pool, sink := newPool(t, load.PoolConfig{}, quick(0, errors.New("connection refused")))
	pool.Reconcile(3)
	time.Sleep(30 * time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	require.Greater(t, summary.Iterations.Started, int64(0))
	assert.Equal(t, summary.Iterations.Started, summary.Iterations.Failure)
	assert.Equal(t, int64(0), summary.Iterations.Success)
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonError])
}

func TestPool_IterationTimeout(t *testing.T) {
	g := newGate(true)
	defer g.Open()

	pool, sink := newPool(t, load.PoolConfig{IterationTimeout: 20 * time.Millisecond}, g)
	pool.Reconcile(1)
	require.Eventually(t, func() bool {
		return sink.Snapshot().Iterations.Failure >= 2
	}, 2*time.Second, 5*time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonTimeout])
}

type transportTimeout struct{}

func (transportTimeout) Error() string { return "i/o timeout" }
func (transportTimeout) Timeout() bool { return true }
func (transportTimeout) Temporary() bool { return true }

func TestPool_TransportTimeoutIsTimeout(t *testing.T) {
	err := fmt.Errorf("Get \"http://localhost\": %w", transportTimeout{})
	pool, sink := newPool(t, load.PoolConfig{IterationTimeout: time.Minute}, quick(0, err))
	pool.Reconcile(2)
	require.Eventually(t, func() bool {
		return sink.Snapshot().Iterations.Failure >= 4
	}, 2*time.Second, 5*time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonTimeout])
	assert.Zero(t, summary.FailureReasons[metrics.ReasonError])
}

func TestPool_TimeoutNonCooperativeWorkload(t *testing.T) {
	g := newGate(false)
	defer g.Open()

	pool, sink := newPool(t, load.PoolConfig{IterationTimeout: 20 * time.Millisecond}, g)
	pool.Reconcile(1)
	require.Eventually(t, func() bool {
		return sink.Snapshot().Iterations.Failure >= 1
	}, 2*time.Second, 5*time.Millisecond)
	pool.Shutdown(time.Second)

	assert.Equal(t, int64(0), sink.Finalize().Iterations.Success)
}

func TestPool_PanicIsFailure(t *testing.T) {
	wl := workload.Func(func(ctx context.Context) (*workload.Response, error) {
		time.Sleep(time.Millisecond)
		panic("boom")
	})
	pool, sink := newPool(t, load.PoolConfig{}, wl)
	pool.Reconcile(2)
	time.Sleep(20 * time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	require.Greater(t, summary.Iterations.Failure, int64(0))
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonPanic])
	assert.Equal(t, int64(0), summary.Iterations.Success)
}

func TestPool_StatusFailureAndChecks(t *testing.T) {
	wl := workload.WithChecks(
		workload.Func(func(ctx context.Context) (*workload.Response, error) {
			time.Sleep(time.Millisecond)
			return &workload.Response{Status: 503, Failed: true, Reason: metrics.ReasonStatus}, nil
		}),
		workload.StatusIs(200),
	)
	pool, sink := newPool(t, load.PoolConfig{}, wl)
	pool.Reconcile(1)
	time.Sleep(20 * time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	require.Len(t, summary.Checks, 1)
	assert.Equal(t, "is status 200", summary.Checks[0].Name)
	assert.Equal(t, int64(0), summary.Checks[0].Passes)
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonStatus])
}

func TestPool_ChecksAreObservational(t *testing.T) {
	wl := workload.WithChecks(quick(200, nil), workload.Check{
		Name: "never",
		Fn:   func(*workload.Response) bool { return false },
	})
	pool, sink := newPool(t, load.PoolConfig{}, wl)
	pool.Reconcile(1)
	time.Sleep(20 * time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	assert.Equal(t, int64(0), summary.Iterations.Failure)
	require.Len(t, summary.Checks, 1)
	assert.Greater(t, summary.Checks[0].Fails, int64(0))
}

func TestPool_AbortOnFailCheck(t *testing.T) {
	wl := workload.WithChecks(quick(200, nil), workload.Check{
		Name:        "strict",
		Fn:          func(*workload.Response) bool { return false },
		AbortOnFail: true,
	})
	pool, sink := newPool(t, load.PoolConfig{}, wl)
	pool.Reconcile(1)
	time.Sleep(20 * time.Millisecond)
	pool.Shutdown(time.Second)

	summary := sink.Finalize()
	require.Greater(t, summary.Iterations.Failure, int64(0))
	assert.Equal(t, int64(0), summary.Iterations.Success)
	assert.Equal(t, summary.Iterations.Failure, summary.FailureReasons[metrics.ReasonCheck])
}

func TestPool_RateLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(50), 1)
	pool, sink := newPool(t, load.PoolConfig{Limiter: limiter}, quick(200, nil))
	pool.Reconcile(5)
	time.Sleep(200 * time.Millisecond)
	pool.Shutdown(time.Second)

	// ~10 iterations in 200ms at 50/s regardless of the 5 VUs
	started := sink.Finalize().Iterations.Started
	assert.LessOrEqual(t, started, int64(20))
	assert.Greater(t, started, int64(0))
}

func TestPool_VUInfoInContext(t *testing.T) {
	var seen sync.Map
	wl := workload.Func(func(ctx context.Context) (*workload.Response, error) {
		info, ok := workload.VUFromContext(ctx)
		if ok {
			seen.Store(info.ID, info.Iteration)
		}
		time.Sleep(time.Millisecond)
		return &workload.Response{}, nil
	})
	pool, _ := newPool(t, load.PoolConfig{}, wl)
	pool.Reconcile(2)
	time.Sleep(20 * time.Millisecond)
	pool.Shutdown(time.Second)

	_, ok1 := seen.Load(1)
	_, ok2 := seen.Load(2)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestPool_ParentContextCancel(t *testing.T) {
	g := newGate(true)
	defer g.Open()

	ctx, cancel := context.WithCancel(context.Background())
	sink := metrics.NewSink()
	pool := load.NewPool(ctx, load.PoolConfig{}, g, sink)
	pool.Reconcile(2)
	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return pool.Active() == 0 }, time.Second, time.Millisecond)
	pool.Shutdown(time.Second)

	assert.Equal(t, int64(2), sink.Finalize().Iterations.Cancelled)
}

func TestPacing_Next(t *testing.T) {
	var nilPacing *load.Pacing
	assert.Equal(t, time.Duration(0), nilPacing.Next())

	constant := &load.Pacing{Type: load.PacingConstant, Duration: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, constant.Next())

	random := &load.Pacing{Type: load.PacingRandom, Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := random.Next()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}

	assert.Equal(t, time.Duration(0), (&load.Pacing{Type: load.PacingNone}).Next())
}

func TestVUState_String(t *testing.T) {
	assert.Equal(t, "spawning", load.VUStateSpawning.String())
	assert.Equal(t, "running", load.VUStateRunning.String())
	assert.Equal(t, "draining", load.VUStateDraining.String())
	assert.Equal(t, "stopped", load.VUStateStopped.String())
	assert.Equal(t, "unknown", load.VUState(42).String())
}
