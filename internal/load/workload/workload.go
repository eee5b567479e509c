// Package workload defines the unit of work a virtual user executes once per
// iteration, plus a configurable HTTP implementation.
package workload

import (
	"context"
	"net/http"
	"time"
)

// Response is what a workload reports back for one iteration.
type Response struct {
	// Status is the protocol status code, if any
	Status int

	// Headers are the response headers, if any
	Headers http.Header

	// Body is the response payload
	Body []byte

	// Latency is the time spent inside the workload call
	Latency time.Duration

	// Bytes is the number of payload bytes received
	Bytes int64

	// Failed marks the iteration as failed even though Execute returned no error
	Failed bool

	// Reason is the failure reason when Failed is set
	Reason string
}

// Check is a named predicate evaluated against every response.
type Check struct {
	Name string
	Fn   func(*Response) bool

	// AbortOnFail turns a failed check into a failed iteration
	AbortOnFail bool
}

// Workload is the opaque unit of work a VU invokes per iteration.
//
// Execute must honour ctx: the caller cancels it on iteration timeout and on
// forced shutdown. Implementations must be safe for concurrent use by many VUs.
type Workload interface {
	Execute(ctx context.Context) (*Response, error)
	Checks() []Check
}

// Func adapts a plain function to the Workload interface.
type Func func(ctx context.Context) (*Response, error)

// Execute calls f(ctx).
func (f Func) Execute(ctx context.Context) (*Response, error) {
	return f(ctx)
}

// Checks returns no checks.
func (f Func) Checks() []Check {
	return nil
}

type withChecks struct {
	Workload
	checks []Check
}

func (w *withChecks) Checks() []Check {
	return append(w.Workload.Checks(), w.checks...)
}

// WithChecks returns w with additional checks attached.
func WithChecks(w Workload, checks ...Check) Workload {
	return &withChecks{Workload: w, checks: checks}
}

type vuKey struct{}

// VUInfo identifies the VU and iteration a workload call belongs to.
type VUInfo struct {
	ID        int
	Iteration int64
}

// ContextWithVU attaches VU information to ctx.
func ContextWithVU(ctx context.Context, info VUInfo) context.Context {
	return context.WithValue(ctx, vuKey{}, info)
}

// VUFromContext returns the VU information attached to ctx.
func VUFromContext(ctx context.Context) (VUInfo, bool) {
	info, ok := ctx.Value(vuKey{}).(VUInfo)
	return info, ok
}
