package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether a field has at least one error.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

var (
	validMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	validCheckTypes = map[string]bool{
		"status": true, "body": true, "header": true, "duration": true,
		"jsonpath": true, "jsonschema": true,
	}

	validConditions = map[string]bool{
		"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
		"contains": true, "matches": true, "exists": true,
	}

	thresholdRe = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*([^<>=!\s].*)$`)
)

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
// An empty stage list is valid and describes a zero-length run.
func (c *TestConfig) Validate() error {
	return c.validate(true)
}

// ValidateRun validates everything except the workload section, for runs
// whose workload is supplied programmatically.
func (c *TestConfig) ValidateRun() error {
	return c.validate(false)
}

func (c *TestConfig) validate(withWorkload bool) error {
	errs := &ValidationErrors{}

	for i := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), &c.Stages[i], errs)
	}

	validateOptions(&c.Options, errs)
	if withWorkload {
		validateWorkload(&c.Workload, errs)
		validateHTTP(&c.HTTP, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateOptions validates run-wide options.
func validateOptions(o *Options, errs *ValidationErrors) {
	if o.MaxVUs < 0 {
		errs.Add("options.maxVUs", "maxVUs cannot be negative")
	}
	if o.TickInterval < 0 {
		errs.Add("options.tickInterval", "tickInterval cannot be negative")
	}
	if o.ShutdownGrace < 0 {
		errs.Add("options.shutdownGrace", "shutdownGrace cannot be negative")
	}
	if o.IterationTimeout < 0 {
		errs.Add("options.iterationTimeout", "iterationTimeout cannot be negative")
	}
	if o.SampleInterval < 0 {
		errs.Add("options.sampleInterval", "sampleInterval cannot be negative")
	}
	if o.RPS < 0 {
		errs.Add("options.rps", "rps cannot be negative")
	}
	if o.Pacing != nil {
		validatePacing("options.pacing", o.Pacing, errs)
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if _, err := ParseDurationString(pacing.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Min); err != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", err))
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Max); err != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", err))
		}

		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := ParseDurationString(pacing.Min)
			maxDur, _ := ParseDurationString(pacing.Max)
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}
	}
}

// validateWorkload validates the request and its checks.
func validateWorkload(w *WorkloadConfig, errs *ValidationErrors) {
	method := strings.ToUpper(w.Method)
	if method != "" && !validMethods[method] {
		errs.Add("workload.method", fmt.Sprintf("invalid HTTP method: %s", w.Method))
	}

	if w.URL == "" {
		errs.Add("workload.url", "url is required")
	} else if u, err := url.Parse(w.URL); err != nil {
		errs.Add("workload.url", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("workload.url", fmt.Sprintf("unsupported URL scheme: %q", u.Scheme))
	}

	for i, status := range w.ExpectedStatuses {
		if status < 100 || status > 599 {
			errs.Add(fmt.Sprintf("workload.expectedStatuses[%d]", i), fmt.Sprintf("invalid HTTP status: %d", status))
		}
	}

	seen := make(map[string]bool)
	for i := range w.Checks {
		check := &w.Checks[i]
		prefix := fmt.Sprintf("workload.checks[%d]", i)
		validateCheck(prefix, check, errs)
		if check.Name != "" {
			if seen[check.Name] {
				errs.Add(prefix+".name", fmt.Sprintf("duplicate check name: %s", check.Name))
			}
			seen[check.Name] = true
		}
	}
}

// validateCheck validates a check configuration.
func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	if check.Type == "" {
		errs.Add(prefix+".type", "type is required")
	} else if !validCheckTypes[check.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", check.Type))
	}

	if check.Condition != "" && !validConditions[check.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("invalid condition: %s", check.Condition))
	}

	switch check.Type {
	case "header", "jsonpath":
		if check.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("path is required for %s checks", check.Type))
		}
	case "jsonschema":
		if check.Schema == "" {
			errs.Add(prefix+".schema", "schema is required for jsonschema checks")
		}
	case "duration":
		if _, err := ParseDurationString(check.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid duration: %v", err))
		}
	}

	if check.Condition == "matches" {
		if _, err := regexp.Compile(check.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid pattern: %v", err))
		}
	}
}

// validateHTTP validates transport settings.
func validateHTTP(s *HTTPSettings, errs *ValidationErrors) {
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("http.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.Timeout < 0 {
		errs.Add("http.timeout", "cannot be negative")
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	groups := []struct {
		field   string
		exprs   []string
		metrics []string
	}{
		{"thresholds.iteration_duration", t.IterationDuration, []string{"min", "max", "avg", "med", "p50", "p90", "p95", "p99"}},
		{"thresholds.iterations_failed", t.IterationsFailed, []string{"rate"}},
		{"thresholds.checks", t.Checks, []string{"rate"}},
		{"thresholds.iterations", t.Iterations, []string{"count", "rate"}},
	}

	for _, g := range groups {
		for i, expr := range g.exprs {
			if err := validateThresholdExpression(expr, g.metrics); err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", g.field, i), err.Error())
			}
		}
	}
}

// validateThresholdExpression validates a threshold expression such as
// "p95 < 500ms" or "rate < 0.01" against the metrics its group supports.
func validateThresholdExpression(expr string, metrics []string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return fmt.Errorf("threshold must look like '<metric> <op> <value>', got %q", expr)
	}

	for _, metric := range metrics {
		if m[1] == metric {
			return nil
		}
	}
	return fmt.Errorf("unsupported metric %q (want one of %s)", m[1], strings.Join(metrics, ", "))
}

// ParseThresholdExpression splits an expression like "p95 < 500ms" into
// its metric, operator and value.
func ParseThresholdExpression(expr string) (metric, op, value string, err error) {
	m := thresholdRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return m[1], m[2], strings.TrimSpace(m[3]), nil
}
