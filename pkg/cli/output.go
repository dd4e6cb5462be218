package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/dispatch"
	"github.com/devicelab-dev/axrunner/pkg/telemetry/sqlitesink"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Commands slower than this are flagged in the live output.
const slowThreshold = 500 * time.Millisecond

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printFlowStart(w io.Writer, idx, total int, res *FlowResult) {
	fmt.Fprintf(w, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), idx+1, total, color(colorReset),
		color(colorBold), res.Name, color(colorReset), res.File)
	fmt.Fprintln(w, strings.Repeat("─", 60))
}

func printCommand(w io.Writer, res CommandResult) {
	out := res.Outcome
	var mark, markColor string
	switch out.Status {
	case dispatch.StatusFastPathSuccess:
		mark, markColor = "✓", colorGreen
	case dispatch.StatusDeferredToSlowPath:
		mark, markColor = "→", colorYellow
	default:
		mark, markColor = "✗", colorRed
	}

	dur := formatDuration(out.Duration)
	if out.Duration >= slowThreshold {
		dur = color(colorYellow) + dur + " slow" + color(colorReset)
	} else {
		dur = color(colorGray) + dur + color(colorReset)
	}
	fmt.Fprintf(w, "    %s%s%s %s (%s)\n", color(markColor), mark, color(colorReset), res.Command.Text, dur)

	if out.Match != nil && out.Match.Found && out.Match.Element != nil {
		el := out.Match.Element
		fmt.Fprintf(w, "      %s%s %q via %s, %.0f%%%s\n",
			color(colorDim), el.Role, el.Label(), out.Match.MatchedAttribute, out.Match.Confidence, color(colorReset))
	}
	if out.Status != dispatch.StatusFastPathSuccess {
		fmt.Fprintf(w, "      %s%s: %s%s\n", color(colorGray), out.Reason, out.Detail, color(colorReset))
		if out.Hint != "" {
			fmt.Fprintf(w, "      %shint: %s%s\n", color(colorGray), out.Hint, color(colorReset))
		}
	}
}

func printSummary(w io.Writer, results []FlowResult, total time.Duration) {
	var fast, deferred, failed, failedFlows int
	for i := range results {
		f, d, x := results[i].Counts()
		fast += f
		deferred += d
		failed += x
		if x > 0 {
			failedFlows++
		}
	}

	fmt.Fprintln(w)
	if fast > 0 {
		fmt.Fprintf(w, "  %s%d commands on the fast path%s (%s)\n", color(colorGreen), fast, color(colorReset), formatDuration(total))
	}
	if deferred > 0 {
		fmt.Fprintf(w, "  %s%d commands deferred%s\n", color(colorYellow), deferred, color(colorReset))
	}
	if failed > 0 {
		fmt.Fprintf(w, "  %s%d commands failing%s\n", color(colorRed), failed, color(colorReset))
	}
	fmt.Fprintln(w)

	tableWidth := 92
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-42s %6s %8s %6s %6s %6s %10s\n", "Flow", "Status", "Commands", "Fast", "Defer", "Fail", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for i := range results {
		fr := &results[i]
		f, d, x := fr.Counts()
		status, statusColor := "✓ PASS", color(colorGreen)
		if x > 0 {
			status, statusColor = "✗ FAIL", color(colorRed)
		} else if d > 0 {
			status, statusColor = "→ DEFER", color(colorYellow)
		}

		// Truncate name if too long
		name := fr.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}

		fmt.Fprintf(w, "  %-42s %s%6s%s %8d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			len(fr.Commands), f, d, x, formatDuration(fr.Duration))
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", len(results)-failedFlows, len(results))
	statusColor := color(colorGreen)
	if failedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(w, "  %s%-42s%s %s%6s%s %8d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		fast+deferred+failed, fast, deferred, failed,
		formatDuration(total))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

func printStats(w io.Writer, stats []sqlitesink.OperationStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "  no telemetry recorded")
		return
	}
	fmt.Fprintf(w, "  %-12s %8s %8s %10s %10s\n", "Operation", "Count", "Success", "Avg", "Max")
	fmt.Fprintln(w, strings.Repeat("─", 54))
	for _, st := range stats {
		rate := 0.0
		if st.Count > 0 {
			rate = 100 * float64(st.Successes) / float64(st.Count)
		}
		fmt.Fprintf(w, "  %-12s %8d %7.0f%% %10s %10s\n",
			st.Operation, st.Count, rate, formatDuration(st.AvgDuration), formatDuration(st.MaxDuration))
	}
}

// formatDuration formats a duration to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
