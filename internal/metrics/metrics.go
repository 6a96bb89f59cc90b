package metrics

import "time"

type StepMetrics struct {
	Index      int       `json:"index"`
	Type       string    `json:"type"`
	ElementID  string    `json:"element_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Demo       bool      `json:"demo,omitempty"`
	Err        string    `json:"err,omitempty"`
}

type RunMetrics struct {
	ActionID   string        `json:"action_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	DurationMs int64         `json:"duration_ms"`
	Paused     bool          `json:"paused"`
	Steps      []StepMetrics `json:"steps"`
}

// Compute derived fields for a step.
func (s *StepMetrics) Finalize() {
	s.DurationMs = s.End.Sub(s.Start).Milliseconds()
}

func (r *RunMetrics) Finalize() {
	r.DurationMs = r.End.Sub(r.Start).Milliseconds()
}

// Failed counts the steps that were skipped because of an error.
func (r *RunMetrics) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if !s.Success {
			n++
		}
	}
	return n
}
