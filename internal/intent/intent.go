// Package intent maps an utterance to a registered action.
package intent

import (
	"context"
	"strings"
	"unicode"

	"chant/internal/registry"
)

// Utterance is one detected speech segment. Audio may be empty when only a
// typed or pre-transcribed phrase is available.
type Utterance struct {
	ID         string
	Transcript string
	Audio      []byte
	MimeType   string
}

type Result struct {
	ActionID   string `json:"actionId"`
	Transcript string `json:"transcription"`
	IsDemoMode bool   `json:"isDemoMode"`
}

func (r Result) Matched() bool { return r.ActionID != "" }

type Resolver interface {
	Resolve(ctx context.Context, u Utterance) (Result, error)
}

var (
	resumeWords = []string{"continue", "next", "resume", "proceed"}
	cancelWords = []string{"cancel", "stop", "abort"}
	demoWords   = []string{"demo", "simulate", "preview", "pretend", "practice", "rehearse", "dry run", "test run", "don't actually", "do not actually"}
)

// containsAny matches whole words and phrases only, so "latest" is not
// "test" and "country" is not "try".
func containsAny(transcript string, words []string) bool {
	padded := " " + strings.Join(wordsOf(transcript), " ") + " "
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

func wordsOf(transcript string) []string {
	return strings.FieldsFunc(strings.ToLower(strings.ReplaceAll(transcript, "’", "'")), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// IsResumeCommand reports whether a transcript asks a paused run to go on.
func IsResumeCommand(transcript string) bool { return containsAny(transcript, resumeWords) }

func IsCancelCommand(transcript string) bool { return containsAny(transcript, cancelWords) }

// IsDemoRequest reports whether the user asked to rehearse rather than
// really perform the action.
func IsDemoRequest(transcript string) bool { return containsAny(transcript, demoWords) }

// SubstringResolver matches trigger phrases as case-insensitive substrings of
// the transcript. Route-scoped actions are tried before global ones; within a
// tier registration order decides.
type SubstringResolver struct {
	reg *registry.Registry
}

func NewSubstringResolver(reg *registry.Registry) *SubstringResolver {
	return &SubstringResolver{reg: reg}
}

func (s *SubstringResolver) Resolve(_ context.Context, u Utterance) (Result, error) {
	res := Result{Transcript: u.Transcript}
	t := strings.ToLower(strings.TrimSpace(u.Transcript))
	if t == "" {
		return res, nil
	}
	routeSpecific, global := s.reg.RouteTiers()
	for _, tier := range [][]registry.Action{routeSpecific, global} {
		for _, a := range tier {
			if matchesTrigger(t, a.Triggers) {
				res.ActionID = a.ID
				res.IsDemoMode = IsDemoRequest(t)
				return res, nil
			}
		}
	}
	return res, nil
}

func matchesTrigger(lowered string, triggers []string) bool {
	for _, trig := range triggers {
		tr := strings.ToLower(strings.TrimSpace(trig))
		if tr != "" && strings.Contains(lowered, tr) {
			return true
		}
	}
	return false
}

// Chain tries each resolver in turn. A transcript produced by an earlier
// resolver is handed to the later ones.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, u Utterance) (Result, error) {
	var last error
	for _, r := range c {
		res, err := r.Resolve(ctx, u)
		if err != nil {
			last = err
			continue
		}
		if u.Transcript == "" && res.Transcript != "" {
			u.Transcript = res.Transcript
		}
		if res.Matched() {
			return res, nil
		}
	}
	if u.Transcript == "" && last != nil {
		return Result{}, last
	}
	return Result{Transcript: u.Transcript}, nil
}
