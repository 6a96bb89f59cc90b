package display

import (
	"fmt"
	"strings"

	"chant/internal/cache"
	"chant/internal/registry"
)

func FormatCacheRecords(recs []cache.Record) string {
	if len(recs) == 0 {
		return dimStyle.Render("Cache is empty.")
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%d cached action(s)", len(recs))))
	for _, r := range recs {
		sb.WriteString(fmt.Sprintf("\n%s  %s\n", r.Key, dimStyle.Render(fmt.Sprintf("runs=%d updated=%s", r.SuccessfulExecutions, r.UpdatedAt.Format("2006-01-02 15:04")))))
		if r.Transcript != "" {
			sb.WriteString(fmt.Sprintf("  from %q\n", r.Transcript))
		}
		for i, st := range r.Steps {
			target := st.StableID
			if st.IsVariable {
				target = "<variable " + st.Selector + ">"
			} else if target != "" {
				target = "#" + target
			}
			line := fmt.Sprintf("%s %s", st.Type, target)
			if st.Type == registry.StepSetValue {
				line += fmt.Sprintf(" = %q", truncate(st.Value))
			}
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, strings.TrimSpace(line)))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatActions(actions []registry.Action, route string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Actions (route %s)", route)))
	for _, a := range actions {
		scope := "global"
		if a.Route != "" {
			scope = a.Route
		}
		kind := "steps"
		if a.Exec != nil {
			kind = "info"
		}
		sb.WriteString(fmt.Sprintf("\n  %-20s %s %s", a.ID, dimStyle.Render(fmt.Sprintf("[%s, %s]", scope, kind)), strings.Join(a.Triggers, " | ")))
	}
	return sb.String()
}
