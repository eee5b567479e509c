package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporter_ObserveIteration(t *testing.T) {
	p := NewPrometheusExporter()

	p.ObserveIteration(&IterationResult{
		Outcome:  OutcomeSuccess,
		Duration: 10 * time.Millisecond,
		Checks:   []CheckResult{{Name: "is status 200", Passed: true}},
	})
	p.ObserveIteration(&IterationResult{Outcome: OutcomeFailure, Reason: ReasonTimeout})
	p.ObserveIteration(&IterationResult{Outcome: OutcomeCancelled})

	assert.Equal(t, float64(1), testutil.ToFloat64(p.Iterations.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Iterations.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Iterations.WithLabelValues("cancelled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Failures.WithLabelValues(ReasonTimeout)))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Checks.WithLabelValues("is status 200", "true")))
}

func TestPrometheusExporter_ObserveSample(t *testing.T) {
	p := NewPrometheusExporter()
	p.ObserveSample(Sample{LiveVUs: 7, Target: 9, Stage: 2})

	assert.Equal(t, float64(7), testutil.ToFloat64(p.LiveVUs))
	assert.Equal(t, float64(9), testutil.ToFloat64(p.TargetVUs))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.Stage))
}

func TestPrometheusExporter_WiredToSink(t *testing.T) {
	p := NewPrometheusExporter()
	sink := NewSink(p)

	sink.Record(&IterationResult{Outcome: OutcomeSuccess, Duration: time.Millisecond})
	sink.RecordSample(Sample{LiveVUs: 3})

	assert.Equal(t, float64(1), testutil.ToFloat64(p.Iterations.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(p.LiveVUs))
}

func TestPrometheusExporter_Handler(t *testing.T) {
	p := NewPrometheusExporter()
	p.ObserveIteration(&IterationResult{Outcome: OutcomeSuccess, Duration: time.Millisecond})

	server := httptest.NewServer(p.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stampede_iterations_total")
	assert.Contains(t, string(body), "stampede_iteration_duration_seconds")
}
