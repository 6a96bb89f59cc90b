package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrDuplicateAction = errors.New("duplicate action")

type Registry struct {
	mu       sync.RWMutex
	actions  map[string]Action
	order    []string
	elements map[string][]Element
	handles  map[string]map[string]Handle
	route    string

	readyMu sync.Mutex
	ready   chan struct{}
}

func New() *Registry {
	return &Registry{
		actions:  make(map[string]Action),
		elements: make(map[string][]Element),
		handles:  make(map[string]map[string]Handle),
		route:    "/",
		ready:    make(chan struct{}),
	}
}

func (r *Registry) RegisterAction(a Action) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("action id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.ID]; exists {
		return fmt.Errorf("%w: action with ID '%s' is already registered", ErrDuplicateAction, a.ID)
	}
	r.actions[a.ID] = a
	r.order = append(r.order, a.ID)
	return nil
}

// UnregisterAction drops the action together with its elements and bound
// handles.
func (r *Registry) UnregisterAction(actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[actionID]; !ok {
		return
	}
	delete(r.actions, actionID)
	delete(r.elements, actionID)
	delete(r.handles, actionID)
	for i, id := range r.order {
		if id == actionID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) UnregisterActions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = make(map[string]Action)
	r.order = nil
	r.elements = make(map[string][]Element)
	r.handles = make(map[string]map[string]Handle)
}

func (r *Registry) Action(actionID string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[actionID]
	return a, ok
}

// Actions returns every registered action in registration order.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.actions[id])
	}
	return out
}

func (r *Registry) SetCurrentRoute(route string) {
	r.mu.Lock()
	r.route = route
	r.mu.Unlock()
}

func (r *Registry) CurrentRoute() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.route
}

// RouteTiers splits the catalog into actions scoped to the current route and
// routeless (global) actions. Actions scoped to other routes are left out.
func (r *Registry) RouteTiers() (routeSpecific, global []Action) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		a := r.actions[id]
		switch {
		case a.Route != "" && a.Route == r.route:
			routeSpecific = append(routeSpecific, a)
		case a.Route == "":
			global = append(global, a)
		}
	}
	return routeSpecific, global
}

func (r *Registry) AvailableActionsForCurrentRoute() []Action {
	routeSpecific, global := r.RouteTiers()
	if len(routeSpecific) > 0 {
		return routeSpecific
	}
	return global
}

func (r *Registry) HasActionsForCurrentRoute() bool {
	return len(r.AvailableActionsForCurrentRoute()) > 0
}

// RegisterElement appends el to the action's element list and returns its id.
func (r *Registry) RegisterElement(actionID string, el Element) string {
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.elements[actionID] = append(r.elements[actionID], el)
	r.mu.Unlock()
	return el.ID
}

func (r *Registry) UnregisterElement(actionID, elementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elements := r.elements[actionID]
	for i, el := range elements {
		if el.ID == elementID {
			r.elements[actionID] = append(elements[:i:i], elements[i+1:]...)
			break
		}
	}
	if hs, ok := r.handles[actionID]; ok {
		delete(hs, elementID)
	}
}

func (r *Registry) Elements(actionID string) []Element {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Element(nil), r.elements[actionID]...)
}

func (r *Registry) Element(actionID, elementID string) (Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, el := range r.elements[actionID] {
		if el.ID == elementID {
			return el, true
		}
	}
	return Element{}, false
}

// BindHandle attaches the live handle of an already declared element.
func (r *Registry) BindHandle(actionID, elementID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.handles[actionID]
	if !ok {
		hs = make(map[string]Handle)
		r.handles[actionID] = hs
	}
	if _, exists := hs[elementID]; exists {
		return
	}
	hs[elementID] = h
}

func (r *Registry) UnbindHandle(actionID, elementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hs, ok := r.handles[actionID]; ok {
		delete(hs, elementID)
	}
}

func (r *Registry) Handle(actionID, elementID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[actionID][elementID]
	return h, ok
}

// HandleOwner finds the element whose bound handle is h.
func (r *Registry) HandleOwner(actionID string, h Handle) (Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, el := range r.elements[actionID] {
		if bound, ok := r.handles[actionID][el.ID]; ok && bound == h {
			return el, true
		}
	}
	return Element{}, false
}

// ElementByStableID finds the element of an action whose live handle carries
// the given stable UI id.
func (r *Registry) ElementByStableID(actionID, stableID string) (Element, Handle, bool) {
	if stableID == "" {
		return Element{}, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, el := range r.elements[actionID] {
		h, ok := r.handles[actionID][el.ID]
		if ok && h.StableID() == stableID {
			return el, h, true
		}
	}
	return Element{}, nil, false
}

// MarkReady releases every WaitReady caller. Calling it twice is harmless.
func (r *Registry) MarkReady() {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
}

func (r *Registry) ResetReady() {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	select {
	case <-r.ready:
		r.ready = make(chan struct{})
	default:
	}
}

func (r *Registry) WaitReady(ctx context.Context) error {
	r.readyMu.Lock()
	ch := r.ready
	r.readyMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type catalogEntry struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	VoiceTriggers []string `json:"voice_triggers"`
	Steps         []string `json:"steps,omitempty"`
}

// PromptCatalog renders the actions for a language model prompt.
func PromptCatalog(actions []Action) string {
	entries := make([]catalogEntry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, catalogEntry{
			ID:            a.ID,
			Description:   a.Description,
			VoiceTriggers: a.Triggers,
			Steps:         a.Steps,
		})
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
