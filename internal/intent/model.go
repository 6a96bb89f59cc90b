package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chant/internal/llm_client"
	"chant/internal/registry"
)

var resultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"transcription": map[string]any{"type": "string"},
		"actionId":      map[string]any{"type": []string{"string", "null"}},
		"isDemoMode":    map[string]any{"type": "boolean"},
	},
	"required": []string{"transcription", "actionId", "isDemoMode"},
}

// ModelResolver asks a language model to pick the action. With audio it
// transcribes and matches in one call; otherwise it matches the transcript.
// Every failure degrades to "no match".
type ModelResolver struct {
	provider llm_client.Provider
	reg      *registry.Registry
	model    string
	log      *slog.Logger
}

func NewModelResolver(p llm_client.Provider, reg *registry.Registry, model string, log *slog.Logger) *ModelResolver {
	return &ModelResolver{provider: p, reg: reg, model: model, log: log}
}

func (m *ModelResolver) Resolve(ctx context.Context, u Utterance) (Result, error) {
	fallback := Result{Transcript: u.Transcript}
	actions := m.reg.AvailableActionsForCurrentRoute()
	if len(actions) == 0 {
		return fallback, nil
	}

	var (
		raw string
		err error
	)
	switch {
	case len(u.Audio) > 0:
		mime := u.MimeType
		if mime == "" {
			mime = "audio/wav"
		}
		raw, err = m.provider.GenerateJSONWithAudio(ctx, buildAudioPrompt(actions), m.model, u.Audio, mime, resultSchema)
		if errors.Is(err, llm_client.ErrAudioUnsupported) && u.Transcript != "" {
			raw, err = m.provider.GenerateJSON(ctx, buildTranscriptPrompt(actions, u.Transcript), m.model, resultSchema)
		}
	case strings.TrimSpace(u.Transcript) != "":
		raw, err = m.provider.GenerateJSON(ctx, buildTranscriptPrompt(actions, u.Transcript), m.model, resultSchema)
	default:
		return fallback, nil
	}
	if err != nil {
		m.log.Warn("Intent resolution failed; treating as no match.", "utterance_id", u.ID, "error", err)
		return fallback, nil
	}

	res, err := parseResult(raw)
	if err != nil {
		m.log.Warn("Could not parse intent response.", "utterance_id", u.ID, "error", err, "raw", raw)
		return fallback, nil
	}
	if res.Transcript == "" {
		res.Transcript = u.Transcript
	}
	if res.ActionID != "" && !available(actions, res.ActionID) {
		m.log.Warn("Model returned an unknown action id.", "action_id", res.ActionID)
		res.ActionID = ""
	}
	if res.ActionID != "" {
		if _, ok := m.reg.Action(res.ActionID); !ok {
			res.ActionID = ""
		}
	}
	return res, nil
}

func available(actions []registry.Action, id string) bool {
	for _, a := range actions {
		if a.ID == id {
			return true
		}
	}
	return false
}

func parseResult(raw string) (Result, error) {
	var payload struct {
		Transcription string  `json:"transcription"`
		ActionID      *string `json:"actionId"`
		IsDemoMode    bool    `json:"isDemoMode"`
	}
	if err := json.Unmarshal([]byte(llm_client.StripCodeFences(raw)), &payload); err != nil {
		return Result{}, fmt.Errorf("invalid intent JSON: %w", err)
	}
	res := Result{Transcript: strings.TrimSpace(payload.Transcription), IsDemoMode: payload.IsDemoMode}
	if payload.ActionID != nil {
		id := strings.TrimSpace(*payload.ActionID)
		switch strings.ToLower(id) {
		case "", "null", "none":
		default:
			res.ActionID = id
		}
	}
	return res, nil
}

func buildAudioPrompt(actions []registry.Action) string {
	var sb strings.Builder
	sb.WriteString("You are an intelligent voice command matcher. Listen to the audio, transcribe it, and determine which action the user wants to perform.\n\n")
	writeMatchingRules(&sb, actions)
	return sb.String()
}

func buildTranscriptPrompt(actions []registry.Action, transcript string) string {
	var sb strings.Builder
	sb.WriteString("You are an intelligent voice command matcher. Determine which action the user wants to perform from what they said.\n\n")
	fmt.Fprintf(&sb, "USER SAID: %q\n\n", transcript)
	writeMatchingRules(&sb, actions)
	sb.WriteString("Echo the user's words unchanged as the transcription.\n")
	return sb.String()
}

func writeMatchingRules(sb *strings.Builder, actions []registry.Action) {
	sb.WriteString("AVAILABLE ACTIONS:\n")
	sb.WriteString(registry.PromptCatalog(actions))
	sb.WriteString("\n\nRULES:\n")
	sb.WriteString("1. Match the request to the most suitable action using its voice triggers, description and overall intent.\n")
	sb.WriteString("2. Return an action id only for a confident match; otherwise return null.\n")
	sb.WriteString("3. Set isDemoMode to true when the user wants to rehearse instead of really acting, for example: ")
	sb.WriteString(strings.Join(quoteAll(demoWords), ", "))
	sb.WriteString(".\n\n")
	sb.WriteString(`RESPONSE FORMAT: {"transcription": "what the user said", "actionId": "action-id-or-null", "isDemoMode": false}`)
	sb.WriteString("\n")
}

func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fmt.Sprintf("%q", w)
	}
	return out
}
