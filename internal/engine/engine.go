// Package engine drives one utterance at a time through intent resolution,
// step generation and dispatch, and owns the execution and listener state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chant/internal/cache"
	"chant/internal/dispatcher"
	"chant/internal/intent"
	"chant/internal/metrics"
	"chant/internal/planner"
	"chant/internal/registry"
)

var (
	ErrBusy            = errors.New("another action is in progress")
	ErrNotPaused       = errors.New("no paused execution")
	ErrNothingPending  = errors.New("paused execution has no remaining steps")
	ErrNothingToReview = errors.New("no completed action awaiting feedback")
)

const functionTimeout = "Function timeout"

type Options struct {
	InformationalTimeout time.Duration
	QueueSize            int
}

type Engine struct {
	reg        *registry.Registry
	resolver   intent.Resolver
	planner    *planner.Generator
	dispatcher *dispatcher.Dispatcher
	cache      *cache.Service
	log        *slog.Logger
	opts       Options

	stateMu   sync.Mutex
	exec      ExecutionState
	listener  ListenerState
	listening bool
	active    *run
	last      *run

	emitMu       sync.Mutex
	obsMu        sync.RWMutex
	observers    map[int]Observer
	nextObserver int

	// opMu admits one utterance or command at a time.
	opMu  sync.Mutex
	queue chan intent.Utterance
}

// run is one action from generation until it completes.
type run struct {
	action     registry.Action
	transcript string
	demo       bool
	cached     bool
	executed   []registry.Step
	metrics    *metrics.RunMetrics
}

func (r *run) record(out dispatcher.Outcome, offset int) {
	r.executed = append(r.executed, out.Executed...)
	if out.Metrics == nil {
		return
	}
	if r.metrics == nil {
		r.metrics = &metrics.RunMetrics{ActionID: r.action.ID, Start: out.Metrics.Start}
	}
	for _, s := range out.Metrics.Steps {
		s.Index += offset
		r.metrics.Steps = append(r.metrics.Steps, s)
	}
	r.metrics.End = out.Metrics.End
	r.metrics.Paused = out.Metrics.Paused
	r.metrics.Finalize()
}

// New wires an engine. cacheSvc may be nil, in which case confirmed runs are
// not stored.
func New(reg *registry.Registry, resolver intent.Resolver, gen *planner.Generator, disp *dispatcher.Dispatcher, cacheSvc *cache.Service, log *slog.Logger, opts Options) *Engine {
	if opts.InformationalTimeout <= 0 {
		opts.InformationalTimeout = 5 * time.Second
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Engine{
		reg:        reg,
		resolver:   resolver,
		planner:    gen,
		dispatcher: disp,
		cache:      cacheSvc,
		log:        log,
		opts:       opts,
		exec:       ExecutionState{Status: ExecIdle},
		listener:   ListenerState{Status: ListenerIdle},
		observers:  make(map[int]Observer),
		queue:      make(chan intent.Utterance, opts.QueueSize),
	}
}

func (e *Engine) HandleTranscript(ctx context.Context, transcript string) error {
	return e.HandleUtterance(ctx, intent.Utterance{ID: uuid.NewString(), Transcript: transcript})
}

func (e *Engine) HandleAudio(ctx context.Context, audio []byte, mimeType string) error {
	return e.HandleUtterance(ctx, intent.Utterance{ID: uuid.NewString(), Audio: audio, MimeType: mimeType})
}

// HandleUtterance runs the whole pipeline for one utterance. Misses are
// reported as warning events and return nil; ErrBusy is returned when an
// action is already executing or paused.
func (e *Engine) HandleUtterance(ctx context.Context, u intent.Utterance) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.handle(ctx, u)
}

func (e *Engine) handle(ctx context.Context, u intent.Utterance) error {
	log := e.log.With("utterance_id", u.ID)
	e.UpdateListenerState(func(s *ListenerState) {
		s.Status = ListenerAnalyzing
		s.Transcript = u.Transcript
	})
	defer e.settleListener()

	if u.Transcript != "" {
		if handled, err := e.pausedCommand(ctx, u.Transcript); handled {
			return err
		}
	}

	if !e.reg.HasActionsForCurrentRoute() {
		route := e.reg.CurrentRoute()
		log.Warn("No actions available for current route.", "route", route)
		e.notify(EventNoActions, NoActionsWarning{Route: route, Transcript: u.Transcript})
		return nil
	}

	res, err := e.resolver.Resolve(ctx, u)
	if err != nil {
		log.Warn("Intent resolution failed.", "error", err)
		res = intent.Result{Transcript: u.Transcript}
	}
	transcript := res.Transcript
	if transcript == "" {
		transcript = u.Transcript
	}
	if transcript != u.Transcript {
		e.UpdateListenerState(func(s *ListenerState) { s.Transcript = transcript })
		if u.Transcript == "" && transcript != "" {
			if handled, err := e.pausedCommand(ctx, transcript); handled {
				return err
			}
		}
	}

	action, ok := e.reg.Action(res.ActionID)
	if !res.Matched() || !ok {
		log.Info("No action matched.", "transcript", transcript)
		e.notify(EventNoMatch, NoMatchWarning{Transcript: transcript})
		return nil
	}
	log = log.With("action_id", action.ID)

	if st := e.ExecutionState(); st.Status == ExecExecuting || st.Status == ExecPaused {
		log.Warn("Rejecting action while another is in progress.", "active_action_id", st.ActionID, "status", st.Status)
		e.notify(EventBusy, BusyWarning{ActionID: action.ID, ActiveActionID: st.ActionID, Status: st.Status, Transcript: transcript})
		return ErrBusy
	}

	if action.Exec != nil {
		e.runInformational(ctx, action)
		return nil
	}

	if len(e.reg.Elements(action.ID)) == 0 {
		log.Warn("No elements registered for action.")
		e.notify(EventNoElements, NoElementsWarning{ActionID: action.ID, Transcript: transcript})
		return nil
	}

	e.UpdateListenerState(func(s *ListenerState) { s.Status = ListenerPlanning })
	plan, err := e.planner.GenerateSteps(ctx, action.ID, transcript)
	if err != nil {
		log.Error("Step generation failed.", "error", err)
		e.notify(EventError, ErrorEvent{ActionID: action.ID, Stage: "generate", Message: err.Error()})
		return fmt.Errorf("generate steps for %s: %w", action.ID, err)
	}
	if len(plan.Steps) == 0 {
		e.notify(EventNoSteps, NoStepsWarning{ActionID: action.ID, Transcript: transcript})
		return nil
	}
	log.Info("Steps ready.", "steps", len(plan.Steps), "cached", plan.Cached, "demo", res.IsDemoMode)

	r := &run{action: action, transcript: transcript, demo: res.IsDemoMode, cached: plan.Cached}
	e.stateMu.Lock()
	e.active = r
	e.last = nil
	e.stateMu.Unlock()

	e.settleListener()
	e.UpdateExecutionState(func(s *ExecutionState) {
		*s = ExecutionState{
			ActionID:       action.ID,
			Status:         ExecExecuting,
			PendingActions: plan.Steps,
			IsDemoMode:     r.demo,
		}
	})
	return e.dispatch(ctx, r, plan.Steps, 0)
}

// pausedCommand applies resume and cancel words while an execution is paused.
func (e *Engine) pausedCommand(ctx context.Context, transcript string) (bool, error) {
	if e.ExecutionState().Status != ExecPaused {
		return false, nil
	}
	switch {
	case intent.IsResumeCommand(transcript):
		return true, e.resume(ctx)
	case intent.IsCancelCommand(transcript):
		return true, e.cancel()
	}
	return false, nil
}

// dispatch executes steps, which start at offset within the action's plan.
// The dispatch outlives ctx cancellation so a run always reaches its next
// pause or completion.
func (e *Engine) dispatch(ctx context.Context, r *run, steps []registry.Step, offset int) error {
	out, err := e.dispatcher.Execute(context.WithoutCancel(ctx), dispatcher.Run{
		ActionID:             r.action.ID,
		Steps:                steps,
		PauseOnRequiredField: r.action.PauseOnRequiredField,
		DemoMode:             r.demo,
		OnStep: func(i int, _ registry.Step) {
			e.UpdateExecutionState(func(s *ExecutionState) {
				s.CurrentActionIndex = offset + i
				s.PendingActions = steps[i+1:]
			})
		},
	})
	r.record(out, offset)

	if err != nil {
		e.log.Error("Dispatch aborted.", "action_id", r.action.ID, "error", err)
		e.notify(EventError, ErrorEvent{ActionID: r.action.ID, Stage: "dispatch", Message: err.Error()})
		e.stateMu.Lock()
		e.active = nil
		e.stateMu.Unlock()
		e.UpdateExecutionState(func(s *ExecutionState) { *s = ExecutionState{Status: ExecIdle} })
		return fmt.Errorf("dispatch %s: %w", r.action.ID, err)
	}

	if out.Status == dispatcher.StatusPaused {
		at := offset + out.PausedAt
		e.UpdateExecutionState(func(s *ExecutionState) {
			s.Status = ExecPaused
			s.CurrentActionIndex = at
			s.PausedAt = &at
			s.WaitingForElement = out.Pause
			s.PendingActions = out.Pending
		})
		return nil
	}

	e.stateMu.Lock()
	e.active = nil
	e.last = r
	e.stateMu.Unlock()
	e.UpdateExecutionState(func(s *ExecutionState) {
		s.Status = ExecCompleted
		s.PendingActions = nil
		s.PausedAt = nil
		s.WaitingForElement = nil
	})
	e.notify(EventActionCompleted, ActionCompleted{
		ActionID:    r.action.ID,
		Description: r.action.Description,
		Transcript:  r.transcript,
		Steps:       append([]registry.Step(nil), r.executed...),
		Cached:      r.cached,
		Metrics:     r.metrics,
	})
	return nil
}

// Resume continues a paused execution with the steps after the pausing one.
func (e *Engine) Resume(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.resume(ctx)
}

func (e *Engine) resume(ctx context.Context) error {
	st := e.ExecutionState()
	if st.Status != ExecPaused {
		return ErrNotPaused
	}
	if len(st.PendingActions) == 0 {
		return ErrNothingPending
	}
	e.stateMu.Lock()
	r := e.active
	e.stateMu.Unlock()
	if r == nil {
		return ErrNotPaused
	}
	offset := 0
	if st.PausedAt != nil {
		offset = *st.PausedAt + 1
	}
	e.log.Info("Resuming execution.", "action_id", r.action.ID, "from", offset, "steps", len(st.PendingActions))
	e.UpdateExecutionState(func(s *ExecutionState) {
		s.Status = ExecExecuting
		s.WaitingForElement = nil
		s.PausedAt = nil
	})
	return e.dispatch(ctx, r, st.PendingActions, offset)
}

// Cancel abandons a paused execution.
func (e *Engine) Cancel() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.cancel()
}

func (e *Engine) cancel() error {
	if e.ExecutionState().Status != ExecPaused {
		return ErrNotPaused
	}
	e.stateMu.Lock()
	e.active = nil
	e.stateMu.Unlock()
	e.log.Info("Paused execution cancelled.")
	e.UpdateExecutionState(func(s *ExecutionState) { *s = ExecutionState{Status: ExecIdle} })
	return nil
}

// Reset returns a completed execution to idle. Other states are left alone.
func (e *Engine) Reset() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.reset()
}

func (e *Engine) reset() {
	if e.ExecutionState().Status != ExecCompleted {
		return
	}
	e.UpdateExecutionState(func(s *ExecutionState) { *s = ExecutionState{Status: ExecIdle} })
}

// ConfirmSuccess stores the steps of the last completed run for replay. It
// reports whether an entry was written.
func (e *Engine) ConfirmSuccess(ctx context.Context) (bool, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	r := e.takeLast()
	if r == nil {
		return false, ErrNothingToReview
	}
	defer e.reset()
	if e.cache == nil || len(r.executed) == 0 {
		return false, nil
	}
	return e.cache.CacheSuccessfulAction(ctx, r.action, r.executed, r.transcript)
}

// ReportFailure returns the trigger phrases of the last completed action so
// the user can retry with one of them.
func (e *Engine) ReportFailure() (string, []string, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.last == nil {
		return "", nil, ErrNothingToReview
	}
	return e.last.action.ID, append([]string(nil), e.last.action.Triggers...), nil
}

// Retry replays trigger as a fresh transcript, replacing the last run.
func (e *Engine) Retry(ctx context.Context, trigger string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.takeLast()
	e.reset()
	return e.handle(ctx, intent.Utterance{ID: uuid.NewString(), Transcript: trigger})
}

// Dismiss drops the last completed run without caching it.
func (e *Engine) Dismiss() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.takeLast()
	e.reset()
}

func (e *Engine) takeLast() *run {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	r := e.last
	e.last = nil
	return r
}

func (e *Engine) settleListener() {
	e.stateMu.Lock()
	next := ListenerIdle
	if e.listening {
		next = ListenerListening
	}
	unchanged := e.listener.Status == next && e.listener.Transcript == ""
	e.stateMu.Unlock()
	if unchanged {
		return
	}
	e.UpdateListenerState(func(s *ListenerState) {
		s.Status = next
		s.Transcript = ""
	})
}
