package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// evaluateThresholds evaluates all configured thresholds against the report.
func evaluateThresholds(t *config.ThresholdsConfig, report *Report) []ThresholdResult {
	if t == nil {
		return nil
	}

	var results []ThresholdResult
	for _, expr := range t.IterationDuration {
		results = append(results, evaluateDurationThreshold(expr, report.Summary.Duration))
	}
	for _, expr := range t.IterationsFailed {
		results = append(results, evaluateRateThreshold("iterations_failed", expr, report.Summary.Iterations.FailureRate()))
	}
	for _, expr := range t.Checks {
		results = append(results, evaluateRateThreshold("checks", expr, report.Summary.CheckPassRate()))
	}
	for _, expr := range t.Iterations {
		results = append(results, evaluateIterationsThreshold(expr, report))
	}
	return results
}

// evaluateDurationThreshold evaluates a duration threshold expression.
func evaluateDurationThreshold(expr string, stats metrics.DurationStats) ThresholdResult {
	result := ThresholdResult{
		Metric:     "iteration_duration",
		Expression: expr,
	}

	// Parse expression like "p95 < 500ms"
	metric, op, valueStr, err := config.ParseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	var actualValue time.Duration
	switch metric {
	case "min":
		actualValue = stats.Min
	case "max":
		actualValue = stats.Max
	case "avg":
		actualValue = stats.Mean
	case "med", "p50":
		actualValue = stats.P50
	case "p90":
		actualValue = stats.P90
	case "p95":
		actualValue = stats.P95
	case "p99":
		actualValue = stats.P99
	default:
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	thresholdValue, err := config.ParseDurationString(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actualValue.String()
	result.Passed = compareValues(float64(actualValue), op, float64(thresholdValue))

	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actualValue, op, thresholdValue)
	}

	return result
}

// evaluateRateThreshold evaluates a "rate <op> x" expression against rate.
func evaluateRateThreshold(name, expr string, rate float64) ThresholdResult {
	result := ThresholdResult{
		Metric:     name,
		Expression: expr,
	}

	metric, op, valueStr, err := config.ParseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	if metric != "rate" {
		result.Message = fmt.Sprintf("%s only supports 'rate' metric, got: %s", name, metric)
		return result
	}

	thresholdValue, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.4f", rate)
	result.Passed = compareValues(rate, op, thresholdValue)

	if !result.Passed {
		result.Message = fmt.Sprintf("rate is %.4f, threshold: %s %.4f", rate, op, thresholdValue)
	}

	return result
}

// evaluateIterationsThreshold evaluates an iteration count/rate threshold expression.
func evaluateIterationsThreshold(expr string, report *Report) ThresholdResult {
	result := ThresholdResult{
		Metric:     "iterations",
		Expression: expr,
	}

	// Parse expression like "count > 1000" or "rate > 100"
	metric, op, valueStr, err := config.ParseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	thresholdValue, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actualValue float64
	switch metric {
	case "count":
		actualValue = float64(report.Summary.Iterations.Completed)
	case "rate":
		actualValue = report.IterationRate()
	default:
		result.Message = fmt.Sprintf("iterations only supports 'count' or 'rate' metrics, got: %s", metric)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actualValue)
	result.Passed = compareValues(actualValue, op, thresholdValue)

	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", metric, actualValue, op, thresholdValue)
	}

	return result
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
