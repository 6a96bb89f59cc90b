package display

import (
	"fmt"
	"strings"

	"chant/internal/metrics"
)

func FormatRunMetrics(rm *metrics.RunMetrics) string {
	if rm == nil {
		return "No metrics available."
	}
	var sb strings.Builder
	sb.WriteString("Execution metrics:\n")
	sb.WriteString(fmt.Sprintf("- Total: %d ms  (paused=%v, failed=%d)\n", rm.DurationMs, rm.Paused, rm.Failed()))
	for _, s := range rm.Steps {
		status := okStyle.Render("ok")
		switch {
		case !s.Success:
			status = errStyle.Render("err")
		case s.Demo:
			status = warnStyle.Render("demo")
		}
		sb.WriteString(fmt.Sprintf("    * %2d %-9s %-18s %5d ms  [%s]\n", s.Index+1, s.Type, s.ElementID, s.DurationMs, status))
		if s.Err != "" {
			sb.WriteString(dimStyle.Render("         "+s.Err) + "\n")
		}
	}
	return sb.String()
}
