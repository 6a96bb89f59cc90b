// Package dispatcher runs generated steps against the live page one at a
// time, pausing when a required form field still needs input.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chant/internal/metrics"
	"chant/internal/registry"
)

var (
	// ErrMissingDemoHandler aborts a demo run that would otherwise mutate
	// persistent state for real.
	ErrMissingDemoHandler = errors.New("element affects persistent state but has no demo handler")
	ErrElementNotFound    = errors.New("element not found")
)

const (
	reasonValidationFailed = "Field validation failed"
	reasonNextRequired     = "Next required field needs input"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
)

// Surface is the page the steps act on.
type Surface interface {
	Lookup(domID string) (registry.Handle, bool)
	Navigate(url string) error
}

type PauseInfo struct {
	ElementID string `json:"elementId"`
	Label     string `json:"label"`
	Reason    string `json:"reason"`
}

type Run struct {
	ActionID             string
	Steps                []registry.Step
	PauseOnRequiredField bool
	DemoMode             bool
	// OnStep, when set, is called before each step with its index in Steps.
	OnStep func(index int, step registry.Step)
}

type Outcome struct {
	Status Status
	Pause  *PauseInfo
	// PausedAt is the index in Run.Steps of the step that caused the pause.
	PausedAt int
	// Pending is the untouched suffix after the pausing step.
	Pending  []registry.Step
	Executed []registry.Step
	Metrics  *metrics.RunMetrics
}

type Options struct {
	StepDelay    time.Duration
	ReadyTimeout time.Duration
	// SkipFieldsFilledLater suppresses the next-required pause when a later
	// step of the same run writes that field.
	SkipFieldsFilledLater bool
}

type Dispatcher struct {
	reg     *registry.Registry
	surface Surface
	log     *slog.Logger
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(reg *registry.Registry, surface Surface, log *slog.Logger, opts Options) *Dispatcher {
	return &Dispatcher{reg: reg, surface: surface, log: log, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the steps in order. A failing step is logged and skipped; only
// a demo-mode configuration error or context cancellation stops the run early
// with an error.
func (d *Dispatcher) Execute(ctx context.Context, run Run) (Outcome, error) {
	rm := &metrics.RunMetrics{ActionID: run.ActionID, Start: time.Now()}
	out := Outcome{Status: StatusCompleted, Metrics: rm}
	defer func() {
		rm.End = time.Now()
		rm.Paused = out.Status == StatusPaused
		rm.Finalize()
	}()

	for i, st := range run.Steps {
		if i > 0 {
			if err := d.sleep(ctx, d.opts.StepDelay); err != nil {
				out.Pending = append([]registry.Step(nil), run.Steps[i:]...)
				return out, err
			}
		}
		if run.OnStep != nil {
			run.OnStep(i, st)
		}

		sm := metrics.StepMetrics{Index: i, Type: string(st.Type), ElementID: st.ElementID, Start: time.Now()}
		res, err := d.safeStep(ctx, run, i, st)
		sm.End = time.Now()
		sm.Finalize()
		sm.Success = err == nil
		sm.Demo = res.demo
		if err != nil {
			sm.Err = err.Error()
		}
		rm.Steps = append(rm.Steps, sm)

		if errors.Is(err, ErrMissingDemoHandler) {
			d.log.Error("Demo run blocked.", "action_id", run.ActionID, "step", i, "element_id", st.ElementID, "error", err)
			return out, err
		}
		if err != nil {
			d.log.Warn("Step failed; continuing.", "action_id", run.ActionID, "step", i, "type", st.Type, "element_id", st.ElementID, "error", err)
			continue
		}
		out.Executed = append(out.Executed, st)

		if res.pause != nil {
			out.Status = StatusPaused
			out.Pause = res.pause
			out.PausedAt = i
			out.Pending = append([]registry.Step{}, run.Steps[i+1:]...)
			d.log.Info("Execution paused.", "action_id", run.ActionID, "step", i, "element_id", res.pause.ElementID, "reason", res.pause.Reason)
			return out, nil
		}
		if res.navigated {
			if rest := len(run.Steps) - i - 1; rest > 0 {
				d.log.Info("Navigation ended the page; remaining steps dropped.", "action_id", run.ActionID, "dropped", rest)
			}
			break
		}
	}
	return out, nil
}

type stepResult struct {
	pause     *PauseInfo
	navigated bool
	demo      bool
}

func (d *Dispatcher) safeStep(ctx context.Context, run Run, i int, st registry.Step) (res stepResult, rerr error) {
	defer func() {
		if rec := recover(); rec != nil {
			rerr = fmt.Errorf("panic in step %d (%s): %v", i, st.Type, rec)
		}
	}()
	return d.runStep(ctx, run, i, st)
}

func (d *Dispatcher) runStep(ctx context.Context, run Run, i int, st registry.Step) (stepResult, error) {
	switch st.Type {
	case registry.StepWait:
		return stepResult{}, d.sleep(ctx, time.Duration(st.Delay)*time.Millisecond)
	case registry.StepNavigate:
		if st.URL == "" {
			return stepResult{}, fmt.Errorf("navigate step without url")
		}
		if err := d.surface.Navigate(st.URL); err != nil {
			return stepResult{}, err
		}
		return stepResult{navigated: true}, nil
	case registry.StepClick, registry.StepSetValue, registry.StepFocus:
	default:
		d.log.Warn("Unknown step type ignored.", "action_id", run.ActionID, "step", i, "type", st.Type)
		return stepResult{}, nil
	}

	el, known := d.owner(run.ActionID, st)
	if run.DemoMode && known && el.AffectsPersistentState {
		if el.DemoHandler == nil {
			return stepResult{}, fmt.Errorf("%w: %s (%s)", ErrMissingDemoHandler, el.ID, labelOf(el))
		}
		d.log.Info("Demo mode: running demo handler instead of the real step.", "action_id", run.ActionID, "element_id", el.ID)
		return stepResult{demo: true}, el.DemoHandler(ctx)
	}

	h, err := d.resolve(ctx, run.ActionID, st, el, known)
	if err != nil {
		return stepResult{}, err
	}

	switch st.Type {
	case registry.StepClick:
		return stepResult{}, h.Click()
	case registry.StepFocus:
		return stepResult{}, h.Focus()
	}

	if err := h.SetValue(st.Value); err != nil {
		return stepResult{}, err
	}
	if !run.PauseOnRequiredField {
		return stepResult{}, nil
	}
	return stepResult{pause: d.checkRequired(run, i, h, el, known)}, nil
}

// owner finds the registration a step targets, by element id or by the
// stable UI id of a bound handle.
func (d *Dispatcher) owner(actionID string, st registry.Step) (registry.Element, bool) {
	if st.ElementID != "" {
		if el, ok := d.reg.Element(actionID, st.ElementID); ok {
			return el, true
		}
	}
	if st.DomID != "" {
		if el, _, ok := d.reg.ElementByStableID(actionID, st.DomID); ok {
			return el, true
		}
	}
	return registry.Element{}, false
}

func (d *Dispatcher) resolve(ctx context.Context, actionID string, st registry.Step, el registry.Element, known bool) (registry.Handle, error) {
	if known {
		if h, ok := d.reg.Handle(actionID, el.ID); ok {
			return h, nil
		}
		// The element may mount after registration; wait once for the page.
		readyCtx, cancel := context.WithTimeout(ctx, d.opts.ReadyTimeout)
		err := d.reg.WaitReady(readyCtx)
		cancel()
		if err == nil {
			if h, ok := d.reg.Handle(actionID, el.ID); ok {
				return h, nil
			}
		}
	}
	if st.DomID != "" && d.surface != nil {
		if h, ok := d.surface.Lookup(st.DomID); ok {
			return h, nil
		}
	}
	id := st.ElementID
	if id == "" {
		id = st.DomID
	}
	return nil, fmt.Errorf("%w: %s", ErrElementNotFound, id)
}

func (d *Dispatcher) checkRequired(run Run, i int, h registry.Handle, el registry.Element, known bool) *PauseInfo {
	if h.Required() {
		if ok, msg := h.Validity(); !ok {
			if msg == "" {
				msg = reasonValidationFailed
			}
			_ = h.Focus()
			id, label := el.ID, labelOf(el)
			if !known {
				id, label = h.StableID(), h.StableID()
			}
			return &PauseInfo{ElementID: id, Label: label, Reason: msg}
		}
	}

	next, ok := h.NextInvalidRequired()
	if !ok || next == h {
		return nil
	}
	nextEl, ok := d.reg.HandleOwner(run.ActionID, next)
	if !ok {
		return nil
	}
	if d.opts.SkipFieldsFilledLater && fillsLater(run.Steps[i+1:], nextEl.ID, next.StableID()) {
		return nil
	}
	_ = next.Focus()
	return &PauseInfo{ElementID: nextEl.ID, Label: labelOf(nextEl), Reason: reasonNextRequired}
}

// fillsLater reports whether a remaining step writes the given element.
func fillsLater(rest []registry.Step, elementID, stableID string) bool {
	for _, st := range rest {
		if st.Type != registry.StepSetValue {
			continue
		}
		if st.ElementID == elementID || (stableID != "" && st.DomID == stableID) {
			return true
		}
	}
	return false
}

func labelOf(el registry.Element) string {
	if el.Label != "" {
		return el.Label
	}
	return el.ID
}
