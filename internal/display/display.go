package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chant/internal/engine"
	"chant/internal/registry"
)

const maxValueLength = 60

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

func FormatSteps(actionID string, steps []registry.Step, cached bool) string {
	var sb strings.Builder
	source := "generated"
	if cached {
		source = "cached"
	}
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Steps for %s", actionID)))
	sb.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)", source)))
	sb.WriteString("\n")
	for i, st := range steps {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, describeStep(st)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func describeStep(st registry.Step) string {
	target := st.ElementID
	if target == "" {
		target = "#" + st.DomID
	}
	switch st.Type {
	case registry.StepSetValue:
		return fmt.Sprintf("setValue %s = %q", target, truncate(st.Value))
	case registry.StepWait:
		return fmt.Sprintf("wait %d ms", st.Delay)
	case registry.StepNavigate:
		return "navigate " + st.URL
	default:
		return fmt.Sprintf("%s %s", st.Type, target)
	}
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > maxValueLength {
		return s[:maxValueLength] + "..."
	}
	return s
}

func FormatExecutionState(st engine.ExecutionState) string {
	status := string(st.Status)
	switch st.Status {
	case engine.ExecCompleted:
		status = okStyle.Render(status)
	case engine.ExecPaused:
		status = warnStyle.Render(status)
	case engine.ExecExecuting:
		status = busyStyle.Render(status)
	default:
		status = dimStyle.Render(status)
	}

	var sb strings.Builder
	sb.WriteString("execution: " + status)
	if st.ActionID != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", st.ActionID))
	}
	if st.IsDemoMode {
		sb.WriteString(warnStyle.Render(" demo"))
	}
	if st.Status == engine.ExecExecuting {
		sb.WriteString(dimStyle.Render(fmt.Sprintf(" step %d, %d pending", st.CurrentActionIndex+1, len(st.PendingActions))))
	}
	if w := st.WaitingForElement; w != nil {
		sb.WriteString(fmt.Sprintf("\n  waiting for %s: %s", w.Label, w.Reason))
		sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  %d step(s) pending. Say \"continue\" to resume or \"cancel\" to stop.", len(st.PendingActions))))
	}
	return sb.String()
}

func FormatListenerState(st engine.ListenerState) string {
	s := "listener: " + string(st.Status)
	if st.Transcript != "" {
		s += fmt.Sprintf(" %q", st.Transcript)
	}
	return dimStyle.Render(s)
}

// FormatEvent renders the events a console user needs to see. State changes
// return "" and are rendered through the state formatters instead.
func FormatEvent(ev engine.Event) string {
	switch p := ev.Payload.(type) {
	case engine.NoMatchWarning:
		return warnStyle.Render(fmt.Sprintf("No action matched %q.", p.Transcript))
	case engine.NoElementsWarning:
		return warnStyle.Render(fmt.Sprintf("Action %s has no elements on this page.", p.ActionID))
	case engine.NoActionsWarning:
		return warnStyle.Render(fmt.Sprintf("No actions are available on %s.", p.Route))
	case engine.NoStepsWarning:
		return warnStyle.Render(fmt.Sprintf("Could not work out any steps for %s.", p.ActionID))
	case engine.BusyWarning:
		return warnStyle.Render(fmt.Sprintf("Still busy with %s (%s); finish or cancel it first.", p.ActiveActionID, p.Status))
	case engine.ErrorEvent:
		return errStyle.Render(fmt.Sprintf("Error during %s: %s", p.Stage, p.Message))
	case engine.UserInfoDisplay:
		return FormatUserInfo(p)
	case engine.ActionCompleted:
		return FormatSteps(p.ActionID, p.Steps, p.Cached) + "\n" + okStyle.Render("Action completed.")
	}
	return ""
}

func FormatUserInfo(p engine.UserInfoDisplay) string {
	if p.Error != "" {
		return errStyle.Render(fmt.Sprintf("%s: %s", p.ActionID, p.Error))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(p.ResultText))
	for _, line := range p.UserInfo {
		sb.WriteString("\n  - " + line)
	}
	return sb.String()
}
