package workload

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/load/config"
)

// BuildChecks turns declarative check configuration into predicates.
//
// Regular expressions, durations and schemas are compiled up front so a bad
// check fails the run before any VU is spawned.
func BuildChecks(cfgs []config.CheckConfig) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, cfg := range cfgs {
		fn, err := buildCheck(cfg)
		if err != nil {
			return nil, fmt.Errorf("check %d (%s): %w", i, cfg.Name, err)
		}
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("check_%d", i)
		}
		checks = append(checks, Check{Name: name, Fn: fn, AbortOnFail: cfg.AbortOnFail})
	}
	return checks, nil
}

func buildCheck(cfg config.CheckConfig) (func(*Response) bool, error) {
	cond := cfg.Condition
	if cond == "" {
		cond = "eq"
	}

	switch cfg.Type {
	case "status":
		want, err := strconv.ParseFloat(cfg.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("status value %q is not a number", cfg.Value)
		}
		cmp, err := numericComparison(cond)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			return cmp(float64(r.Status), want)
		}, nil

	case "duration":
		want, err := config.ParseDurationString(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration value: %w", err)
		}
		cmp, err := numericComparison(cond)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			return cmp(float64(r.Latency), float64(want))
		}, nil

	case "body":
		match, err := stringComparison(cond, cfg.Value)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			return match(string(r.Body), true)
		}, nil

	case "header":
		if cfg.Path == "" {
			return nil, fmt.Errorf("header check requires a path")
		}
		match, err := stringComparison(cond, cfg.Value)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			values := r.Headers.Values(cfg.Path)
			if len(values) == 0 {
				return match("", false)
			}
			return match(strings.Join(values, ", "), true)
		}, nil

	case "jsonpath":
		if cfg.Path == "" {
			return nil, fmt.Errorf("jsonpath check requires a path")
		}
		match, err := stringComparison(cond, cfg.Value)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			value, err := ExtractJSON(r.Body, cfg.Path)
			if err != nil {
				return match("", false)
			}
			return match(value, true)
		}, nil

	case "jsonschema":
		schema, err := compileSchema(cfg.Schema)
		if err != nil {
			return nil, err
		}
		return func(r *Response) bool {
			return validateJSON(schema, r.Body)
		}, nil

	default:
		return nil, fmt.Errorf("unknown check type %q", cfg.Type)
	}
}

func numericComparison(cond string) (func(actual, want float64) bool, error) {
	switch cond {
	case "eq":
		return func(a, w float64) bool { return a == w }, nil
	case "ne":
		return func(a, w float64) bool { return a != w }, nil
	case "gt":
		return func(a, w float64) bool { return a > w }, nil
	case "gte":
		return func(a, w float64) bool { return a >= w }, nil
	case "lt":
		return func(a, w float64) bool { return a < w }, nil
	case "lte":
		return func(a, w float64) bool { return a <= w }, nil
	default:
		return nil, fmt.Errorf("condition %q is not valid for numeric checks", cond)
	}
}

// stringComparison returns a matcher over (value, present).
func stringComparison(cond, want string) (func(value string, present bool) bool, error) {
	switch cond {
	case "exists":
		return func(_ string, present bool) bool { return present }, nil
	case "eq":
		return func(v string, present bool) bool { return present && v == want }, nil
	case "ne":
		return func(v string, present bool) bool { return !present || v != want }, nil
	case "contains":
		return func(v string, present bool) bool { return present && strings.Contains(v, want) }, nil
	case "matches":
		re, err := regexp.Compile(want)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression: %w", err)
		}
		return func(v string, present bool) bool { return present && re.MatchString(v) }, nil
	case "gt", "gte", "lt", "lte":
		w, err := strconv.ParseFloat(want, 64)
		if err != nil {
			return nil, fmt.Errorf("condition %q requires a numeric value", cond)
		}
		cmp, _ := numericComparison(cond)
		return func(v string, present bool) bool {
			if !present {
				return false
			}
			a, err := strconv.ParseFloat(v, 64)
			return err == nil && cmp(a, w)
		}, nil
	default:
		return nil, fmt.Errorf("unknown condition %q", cond)
	}
}

// StatusIs checks the response status code.
func StatusIs(code int) Check {
	return Check{
		Name: fmt.Sprintf("is status %d", code),
		Fn:   func(r *Response) bool { return r.Status == code },
	}
}
