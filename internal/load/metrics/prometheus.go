package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter mirrors live run metrics into a Prometheus registry.
// It implements Observer.
type PrometheusExporter struct {
	Iterations *prometheus.CounterVec
	Failures   *prometheus.CounterVec
	Checks     *prometheus.CounterVec
	Duration   prometheus.Histogram
	LiveVUs    prometheus.Gauge
	TargetVUs  prometheus.Gauge
	Stage      prometheus.Gauge
	registry   *prometheus.Registry
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter() *PrometheusExporter {
	registry := prometheus.NewRegistry()

	p := &PrometheusExporter{
		Iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_iterations_total",
				Help: "Total number of finished iterations",
			},
			[]string{"outcome"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_iteration_failures_total",
				Help: "Total number of failed iterations by reason",
			},
			[]string{"reason"},
		),
		Checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_checks_total",
				Help: "Total number of check evaluations",
			},
			[]string{"check", "passed"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stampede_iteration_duration_seconds",
				Help:    "Iteration duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		LiveVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_vus",
			Help: "Number of live virtual users",
		}),
		TargetVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_vus_target",
			Help: "Scheduled virtual user target",
		}),
		Stage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_stage",
			Help: "Index of the current stage",
		}),
		registry: registry,
	}

	registry.MustRegister(p.Iterations)
	registry.MustRegister(p.Failures)
	registry.MustRegister(p.Checks)
	registry.MustRegister(p.Duration)
	registry.MustRegister(p.LiveVUs)
	registry.MustRegister(p.TargetVUs)
	registry.MustRegister(p.Stage)

	return p
}

// ObserveIteration implements Observer.
func (p *PrometheusExporter) ObserveIteration(r *IterationResult) {
	p.Iterations.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == OutcomeFailure && r.Reason != "" {
		p.Failures.WithLabelValues(r.Reason).Inc()
	}
	if r.Outcome != OutcomeCancelled {
		p.Duration.Observe(r.Duration.Seconds())
	}
	for _, c := range r.Checks {
		p.Checks.WithLabelValues(c.Name, strconv.FormatBool(c.Passed)).Inc()
	}
}

// ObserveSample implements Observer.
func (p *PrometheusExporter) ObserveSample(s Sample) {
	p.LiveVUs.Set(float64(s.LiveVUs))
	p.TargetVUs.Set(float64(s.Target))
	p.Stage.Set(float64(s.Stage))
}

// Registry returns the underlying registry.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns the Prometheus metrics handler
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
