// Package output provides console and JSON output for staged load runs.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Cursor control for the live display
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	LiveVUs   int
	ActiveVUs int
	TargetVUs int

	Iterations  int64
	Failures    int64
	FailureRate float64
	Rate        float64 // iterations per second over the last sample interval

	DurationP95 time.Duration
	DurationAvg time.Duration

	Phase       string
	Stage       int // 1-indexed
	TotalStages int
}

type palette struct {
	title  *color.Color
	bold   *color.Color
	dim    *color.Color
	value  *color.Color
	good   *color.Color
	warn   *color.Color
	bad    *color.Color
	phase  *color.Color
	timing *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		title:  color.New(color.FgCyan),
		bold:   color.New(color.Bold),
		dim:    color.New(color.Faint),
		value:  color.New(color.FgCyan),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed),
		phase:  color.New(color.FgMagenta),
		timing: color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{p.title, p.bold, p.dim, p.value, p.good, p.warn, p.bad, p.phase, p.timing} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Console manages live console output during a run.
type Console struct {
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &Console{
		writer: config.Writer,
		isTTY:  isTTY,
		quiet:  config.Quiet,
		colors: newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name string, stages int, total time.Duration, maxVUs int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.title.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running", name))
	c.writeln(c.colors.dim.Sprintf("%d stages, %s, maxVUs %d", stages, formatDuration(total), maxVUs))
	c.writeln(c.colors.title.Sprint(line))
	c.writeln("")
}

// Progress renders stats: in place on a terminal, as one line otherwise.
func (c *Console) Progress(stats *LiveStats) {
	if c.isTTY {
		c.Update(stats)
	} else {
		c.PrintNonInteractiveUpdate(stats)
	}
}

// Update redraws the live display with new statistics.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.good.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.bold.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	phaseInfo := stats.Phase
	if stats.TotalStages > 0 && stats.Stage > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.Phase, stats.Stage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.value.Sprint(stats.LiveVUs), stats.TargetVUs)
	iters := fmt.Sprintf("Iterations:  %s", c.colors.value.Sprint(formatNumber(stats.Iterations)))
	lines = append(lines, c.formatBoxRow(vus, iters, boxWidth))

	errColor := c.rateColor(stats.FailureRate)
	rate := fmt.Sprintf("Rate:    %s", c.colors.good.Sprintf("%.1f/s", stats.Rate))
	fails := fmt.Sprintf("Failures:    %s (%s)",
		errColor.Sprint(stats.Failures),
		errColor.Sprintf("%.1f%%", stats.FailureRate*100))
	lines = append(lines, c.formatBoxRow(rate, fails, boxWidth))

	p95 := fmt.Sprintf("P95:     %s", c.colors.timing.Sprint(formatDurationShort(stats.DurationP95)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.timing.Sprint(formatDurationShort(stats.DurationAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg, boxWidth))

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) rateColor(failureRate float64) *color.Color {
	switch {
	case failureRate > 0.05:
		return c.colors.bad
	case failureRate > 0.01:
		return c.colors.warn
	default:
		return c.colors.good
	}
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - len([]rune(stripANSI(left)))
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - len([]rune(stripANSI(right)))
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update for pipes and CI logs.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Stage: %s | VUs: %d/%d | Iterations: %d | Rate: %.1f/s | Failures: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.Phase,
		stats.LiveVUs,
		stats.TargetVUs,
		stats.Iterations,
		stats.Rate,
		stats.Failures,
		stats.FailureRate*100,
		formatDurationShort(stats.DurationP95)))
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(report *engine.Report) {
	if report == nil {
		return
	}

	if c.quiet {
		if report.Passed {
			c.writeln(c.colors.good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.good.Sprint("Completed ✓")
	switch {
	case !report.Passed:
		status = c.colors.bad.Sprint("Failed ✗")
	case report.Aborted:
		status = c.colors.warn.Sprint("Aborted")
	}

	c.writeln("")
	c.writeln(c.colors.title.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.bold.Sprint(report.Name), status))
	c.writeln(c.colors.title.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.value.Sprint(formatDuration(report.Duration))))

	s := report.Summary
	if s != nil {
		it := s.Iterations
		c.writeln(fmt.Sprintf("Iterations:    %s (%s/s)",
			c.colors.value.Sprint(formatNumber(it.Completed)),
			c.colors.value.Sprintf("%.1f", report.IterationRate())))

		successRate := 1.0 - it.FailureRate()
		successColor := c.colors.good
		if successRate < 0.99 {
			successColor = c.colors.warn
		}
		if successRate < 0.95 {
			successColor = c.colors.bad
		}
		c.writeln(fmt.Sprintf("Success Rate:  %s", successColor.Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Outcomes:      success %d, failure %d, cancelled %d", it.Success, it.Failure, it.Cancelled))
		c.writeln(fmt.Sprintf("Data Received: %s", formatBytes(s.BytesReceived)))
	}
	c.writeln(fmt.Sprintf("VUs:           peak %d / max %d, spawned %d", report.VUs.Peak, report.VUs.Max, report.VUs.Spawned))
	if report.VUs.Forced > 0 {
		c.writeln(c.colors.warn.Sprintf("Forced:        %d in-flight iterations cancelled after the shutdown grace period", report.VUs.Forced))
	}
	c.writeln("")

	if s != nil && s.Duration.Count > 0 {
		c.writeln(c.colors.bold.Sprint("Iteration Duration:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(s.Duration.Min)))
		c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(s.Duration.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(s.Duration.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(s.Duration.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(s.Duration.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(s.Duration.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(s.Duration.Max)))
		c.writeln("")
	}

	if s != nil && len(s.FailureReasons) > 0 {
		c.writeln(c.colors.bold.Sprint("Failures:"))
		reasons := make([]string, 0, len(s.FailureReasons))
		for reason := range s.FailureReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			c.writeln(fmt.Sprintf("  %-10s %d", reason, s.FailureReasons[reason]))
		}
		c.writeln("")
	}

	if s != nil && len(s.Checks) > 0 {
		c.writeln(c.colors.bold.Sprint("Checks:"))
		for _, check := range s.Checks {
			c.writeln(fmt.Sprintf("  %s %s %s (%d/%d)",
				c.icon(check.Fails == 0),
				check.Name,
				c.rateColor(1-check.PassRate()).Sprintf("%.2f%%", check.PassRate()*100),
				check.Passes, check.Passes+check.Fails))
		}
		c.writeln("")
	}

	if len(report.Warnings) > 0 {
		c.writeln(c.colors.bold.Sprint("Warnings:"))
		for _, w := range report.Warnings {
			c.writeln(fmt.Sprintf("  %s %s (x%d)", c.colors.warn.Sprint("⚠"), w.Message, w.Count))
		}
		c.writeln("")
	}

	if len(report.Thresholds) > 0 {
		c.writeln(c.colors.bold.Sprint("Thresholds:"))
		for _, t := range report.Thresholds {
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", c.icon(t.Passed), t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln(c.colors.dim.Sprintf("      %s", t.Message))
			}
		}
		c.writeln("")
	}
}

func (c *Console) icon(ok bool) string {
	if ok {
		return c.colors.good.Sprint("✓")
	}
	return c.colors.bad.Sprint("✗")
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromRun builds LiveStats from the engine's run state and metrics snapshot.
func StatsFromRun(state engine.RunState, snapshot *metrics.Summary, totalStages int, total time.Duration) *LiveStats {
	stats := &LiveStats{
		Progress:    state.Progress,
		Elapsed:     state.Elapsed,
		LiveVUs:     state.LiveVUs,
		ActiveVUs:   state.ActiveVUs,
		TargetVUs:   state.Target,
		Iterations:  state.Iterations,
		Failures:    state.Failures,
		Phase:       string(state.Phase),
		TotalStages: totalStages,
	}
	if state.StageIndex >= 0 && state.StageIndex < totalStages {
		stats.Stage = state.StageIndex + 1
	}
	if total > state.Elapsed {
		stats.Remaining = total - state.Elapsed
	}

	if snapshot != nil {
		stats.FailureRate = snapshot.Iterations.FailureRate()
		stats.DurationP95 = snapshot.Duration.P95
		stats.DurationAvg = snapshot.Duration.Mean
		if n := len(snapshot.Samples); n > 0 {
			stats.Rate = snapshot.Samples[n-1].IntervalRate
		}
	}
	return stats
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes formats bytes to human-readable string
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}
	return result.String()
}
