package engine

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"chant/internal/dispatcher"
	"chant/internal/metrics"
	"chant/internal/registry"
)

type ExecStatus string

const (
	ExecIdle      ExecStatus = "idle"
	ExecExecuting ExecStatus = "executing"
	ExecPaused    ExecStatus = "paused"
	ExecCompleted ExecStatus = "completed"
)

type ListenerStatus string

const (
	ListenerIdle      ListenerStatus = "idle"
	ListenerListening ListenerStatus = "listening"
	ListenerSpeaking  ListenerStatus = "speaking"
	ListenerAnalyzing ListenerStatus = "analyzing"
	ListenerPlanning  ListenerStatus = "planning"
)

// ExecutionState describes the in-flight action. When Status is paused,
// WaitingForElement is set and PendingActions holds the steps after the one
// that caused the pause.
type ExecutionState struct {
	ActionID           string                `json:"actionId,omitempty"`
	Status             ExecStatus            `json:"status"`
	CurrentActionIndex int                   `json:"currentActionIndex"`
	PendingActions     []registry.Step       `json:"pendingActions"`
	PausedAt           *int                  `json:"pausedAt,omitempty"`
	WaitingForElement  *dispatcher.PauseInfo `json:"waitingForElement,omitempty"`
	IsDemoMode         bool                  `json:"isDemoMode,omitempty"`
}

func (s ExecutionState) clone() ExecutionState {
	c := s
	c.PendingActions = append([]registry.Step(nil), s.PendingActions...)
	if s.PausedAt != nil {
		v := *s.PausedAt
		c.PausedAt = &v
	}
	if s.WaitingForElement != nil {
		w := *s.WaitingForElement
		c.WaitingForElement = &w
	}
	return c
}

type ListenerState struct {
	Status     ListenerStatus `json:"status"`
	Transcript string         `json:"transcript"`
}

type EventType string

const (
	EventExecutionState  EventType = "execution-state-changed"
	EventListenerState   EventType = "voice-listener-state-changed"
	EventNoMatch         EventType = "no-match-warning"
	EventNoElements      EventType = "no-elements-warning"
	EventNoActions       EventType = "no-actions-warning"
	EventNoSteps         EventType = "no-steps-warning"
	EventBusy            EventType = "busy-warning"
	EventActionCompleted EventType = "action-completed"
	EventUserInfo        EventType = "user-info-display"
	EventError           EventType = "error"
)

// Event is a fire-and-forget notification to observers.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

func newEvent(t EventType, payload any) Event {
	return Event{ID: uuid.NewString(), Type: t, At: time.Now(), Payload: payload}
}

type NoMatchWarning struct {
	Transcript string `json:"transcript"`
}

type NoElementsWarning struct {
	ActionID   string `json:"actionId"`
	Transcript string `json:"transcript"`
}

type NoActionsWarning struct {
	Route      string `json:"route"`
	Transcript string `json:"transcript"`
}

type NoStepsWarning struct {
	ActionID   string `json:"actionId"`
	Transcript string `json:"transcript"`
}

type BusyWarning struct {
	ActionID       string     `json:"actionId"`
	ActiveActionID string     `json:"activeActionId"`
	Status         ExecStatus `json:"status"`
	Transcript     string     `json:"transcript"`
}

type ActionCompleted struct {
	ActionID    string              `json:"actionId"`
	Description string              `json:"description"`
	Transcript  string              `json:"transcript"`
	Steps       []registry.Step     `json:"steps"`
	Cached      bool                `json:"cached"`
	Metrics     *metrics.RunMetrics `json:"metrics,omitempty"`
}

type UserInfoDisplay struct {
	ActionID   string   `json:"actionId"`
	ResultText string   `json:"resultText"`
	UserInfo   []string `json:"userInfo"`
	Error      string   `json:"error,omitempty"`
}

type ErrorEvent struct {
	ActionID string `json:"actionId,omitempty"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

type Observer func(Event)

// Subscribe registers fn for every event. Observers run synchronously on the
// goroutine that caused the change and must not call back into methods that
// change engine state.
func (e *Engine) Subscribe(fn Observer) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	e.obsMu.RLock()
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	fns := make([]Observer, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, e.observers[id])
	}
	e.obsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// UpdateExecutionState applies patch to the execution state and broadcasts
// the full result. Changes are applied and announced one at a time.
func (e *Engine) UpdateExecutionState(patch func(*ExecutionState)) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.stateMu.Lock()
	patch(&e.exec)
	snap := e.exec.clone()
	e.stateMu.Unlock()
	e.emit(newEvent(EventExecutionState, snap))
}

func (e *Engine) UpdateListenerState(patch func(*ListenerState)) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.stateMu.Lock()
	patch(&e.listener)
	snap := e.listener
	e.stateMu.Unlock()
	e.emit(newEvent(EventListenerState, snap))
}

func (e *Engine) notify(t EventType, payload any) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.emit(newEvent(t, payload))
}

func (e *Engine) ExecutionState() ExecutionState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.exec.clone()
}

func (e *Engine) ListenerState() ListenerState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.listener
}
