// Package planner turns a resolved action and its transcript into concrete
// UI steps.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"chant/internal/cache"
	"chant/internal/llm_client"
	"chant/internal/registry"
)

var (
	ErrMalformedSteps = errors.New("malformed step output")
	ErrUnknownAction  = errors.New("unknown action")
)

var stepsSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":      map[string]any{"type": "string", "enum": []string{"setValue", "click", "focus", "wait", "navigate"}},
			"elementId": map[string]any{"type": "string"},
			"value":     map[string]any{"type": "string"},
			"url":       map[string]any{"type": "string"},
			"delay":     map[string]any{"type": "integer"},
		},
		"required": []string{"type"},
	},
}

// Plan is the outcome of step generation.
type Plan struct {
	Steps  []registry.Step
	Cached bool
}

type Generator struct {
	reg      *registry.Registry
	cache    *cache.Service
	provider llm_client.Provider
	model    string
	log      *slog.Logger
	now      func() time.Time
}

// New wires a generator. cacheSvc and provider may each be nil: without a
// cache every request is generated, without a provider only cache hits work.
func New(reg *registry.Registry, cacheSvc *cache.Service, provider llm_client.Provider, model string, log *slog.Logger) *Generator {
	return &Generator{reg: reg, cache: cacheSvc, provider: provider, model: model, log: log, now: time.Now}
}

// GenerateSteps consults the cache first and falls back to the language
// model. An empty plan with a nil error means nothing usable was produced.
func (g *Generator) GenerateSteps(ctx context.Context, actionID, transcript string) (Plan, error) {
	action, ok := g.reg.Action(actionID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	if g.cache != nil {
		if steps, hit := g.cache.FindCachedSteps(ctx, action, transcript); hit {
			return Plan{Steps: steps, Cached: true}, nil
		}
	}
	if g.provider == nil {
		return Plan{}, llm_client.ErrNotInitialized
	}

	elements := g.reg.Elements(actionID)
	prompt := g.buildStepsPrompt(action, elements, transcript)
	raw, err := g.provider.GenerateJSON(ctx, prompt, g.model, stepsSchema)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to generate steps from LLM: %w", err)
	}

	generated, err := ParseSteps(raw)
	if err != nil {
		return Plan{}, err
	}

	steps := g.validateAndRepair(actionID, generated, elements, transcript)
	if len(steps) == 0 {
		g.log.Warn("No valid steps generated for voice command.", "action_id", actionID, "transcript", transcript)
	}
	return Plan{Steps: steps}, nil
}

type rawStep struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
	DomID     string `json:"domElementId"`
	Value     any    `json:"value"`
	URL       string `json:"url"`
	Delay     any    `json:"delay"`
}

// ParseSteps decodes a model reply into steps. The reply may be wrapped in a
// code fence or in an object holding a "steps" array.
func ParseSteps(raw string) ([]registry.Step, error) {
	clean := llm_client.StripCodeFences(raw)
	var items []rawStep
	if err := json.Unmarshal([]byte(clean), &items); err != nil {
		var wrapped struct {
			Steps []rawStep `json:"steps"`
		}
		if werr := json.Unmarshal([]byte(clean), &wrapped); werr != nil || wrapped.Steps == nil {
			return nil, fmt.Errorf("%w: %v\nRaw Response: %s", ErrMalformedSteps, err, raw)
		}
		items = wrapped.Steps
	}
	out := make([]registry.Step, 0, len(items))
	for _, it := range items {
		out = append(out, registry.Step{
			Type:      registry.StepType(strings.TrimSpace(it.Type)),
			ElementID: strings.TrimSpace(it.ElementID),
			DomID:     strings.TrimSpace(it.DomID),
			Value:     scalarString(it.Value),
			URL:       strings.TrimSpace(it.URL),
			Delay:     scalarInt(it.Delay),
		})
	}
	return out, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func scalarInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}

// validateAndRepair drops steps the dispatcher could not run against the
// current registrations and fills in empty setValue payloads.
func (g *Generator) validateAndRepair(actionID string, steps []registry.Step, elements []registry.Element, transcript string) []registry.Step {
	byID := make(map[string]registry.Element, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
	}

	out := make([]registry.Step, 0, len(steps))
	for i, st := range steps {
		if !registry.IsAllowedStepType(st.Type) {
			g.log.Warn("Dropping step with unsupported type.", "action_id", actionID, "step", i, "type", st.Type)
			continue
		}
		switch st.Type {
		case registry.StepWait:
			out = append(out, st)
			continue
		case registry.StepNavigate:
			if st.URL == "" {
				g.log.Warn("Dropping navigate step without url.", "action_id", actionID, "step", i)
				continue
			}
			out = append(out, st)
			continue
		}

		el, ok := byID[st.ElementID]
		if !ok {
			g.log.Warn("Step references non-existent element.", "action_id", actionID, "step", i, "element_id", st.ElementID)
			continue
		}
		if st.Type == registry.StepSetValue {
			v := strings.TrimSpace(st.Value)
			if v == "" || v == "null" {
				st.Value = FallbackValue(el, transcript, g.now())
			}
		}
		out = append(out, st)
	}
	return out
}

func (g *Generator) buildStepsPrompt(action registry.Action, elements []registry.Element, transcript string) string {
	var sb strings.Builder
	sb.WriteString("You are a voice automation assistant. Generate a JSON array of steps that accomplishes the user's voice command by selecting the MOST RELEVANT element(s) based on the command and element metadata.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString(fmt.Sprintf("Voice command: %q\n", transcript))
	sb.WriteString(fmt.Sprintf("Action description: %q\n", action.Description))
	if len(action.Steps) > 0 {
		sb.WriteString("Hint steps: " + strings.Join(action.Steps, ", ") + "\n")
	}
	sb.WriteString("\nAVAILABLE ELEMENTS:\n")
	for _, el := range elements {
		meta, _ := json.Marshal(el.Metadata)
		if el.Metadata == nil {
			meta = []byte("{}")
		}
		current := ""
		if h, ok := g.reg.Handle(action.ID, el.ID); ok {
			current = h.Value()
		}
		sb.WriteString(fmt.Sprintf("- %s (%s): %q\n", el.ID, el.Kind, el.Label))
		sb.WriteString(fmt.Sprintf("  Metadata: %s\n", meta))
		sb.WriteString(fmt.Sprintf("  Current value: %q\n", current))
		sb.WriteString(fmt.Sprintf("  Affects persistent state: %t\n", el.AffectsPersistentState))
		sb.WriteString(fmt.Sprintf("  Has demo handler: %t\n", el.DemoHandler != nil))
	}

	sb.WriteString("\nHARD RULES:\n")
	sb.WriteString("1) Identify the specific target in the command (product name, field, item) and match it against element labels and metadata, allowing synonyms and partial matches.\n")
	sb.WriteString("2) Generate steps ONLY for the matched element(s). Do NOT touch every element.\n")
	sb.WriteString("3) Use ONLY element ids from the list above.\n")
	sb.WriteString("4) For setValue, extract the value from the command or use a contextually appropriate default.\n")
	sb.WriteString("5) Order steps the way a person would perform them.\n")
	sb.WriteString("6) Supported step types: setValue, click, focus, wait (with delay in ms), navigate (with url).\n\n")

	sb.WriteString("EXAMPLE:\n")
	sb.WriteString(`[{"type": "setValue", "elementId": "<id>", "value": "jane@example.com"}, {"type": "click", "elementId": "<id>"}]`)
	sb.WriteString("\n\nAssistant: ")
	return sb.String()
}
