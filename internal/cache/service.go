package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"chant/internal/registry"
	"chant/internal/search"
)

// Service caches step sequences that worked so later utterances of the same
// action can skip generation.
type Service struct {
	repo Repository
	reg  *registry.Registry
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, reg *registry.Registry, log *slog.Logger) *Service {
	return &Service{repo: repo, reg: reg, log: log, now: time.Now}
}

func (s *Service) Repository() Repository { return s.repo }

// Key returns the cache key of an action: its id, or the id plus a hash of
// the action's cache-key function output.
func (s *Service) Key(ctx context.Context, a registry.Action) (string, error) {
	if a.CacheKey == nil {
		return a.ID, nil
	}
	parts, err := a.CacheKey(ctx, a.ID)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", a.ID, err)
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("encode cache key for %s: %w", a.ID, err)
	}
	return fmt.Sprintf("%s:%016x", a.ID, xxhash.Sum64(b)), nil
}

// CacheSuccessfulAction stores the executed steps of a. It reports false when
// the run cannot be replayed deterministically: a fixed element without a
// stable UI id, or two fixed elements sharing one.
func (s *Service) CacheSuccessfulAction(ctx context.Context, a registry.Action, executed []registry.Step, transcript string) (bool, error) {
	if len(executed) == 0 {
		s.log.Info("Nothing to cache.", "action_id", a.ID)
		return false, nil
	}
	steps, reason := s.toCachedSteps(a.ID, executed)
	if reason != "" {
		s.log.Warn("Skipping cache: run is not replayable.", "action_id", a.ID, "reason", reason)
		return false, nil
	}

	key, err := s.Key(ctx, a)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	rec := Record{
		Key:                  key,
		ActionID:             a.ID,
		Steps:                steps,
		Transcript:           transcript,
		CreatedAt:            now,
		UpdatedAt:            now,
		SuccessfulExecutions: 1,
	}
	prev, err := s.repo.Find(ctx, key)
	switch {
	case err == nil:
		rec.CreatedAt = prev.CreatedAt
		if stepsEqual(prev.Steps, steps) {
			rec.SuccessfulExecutions = prev.SuccessfulExecutions + 1
		}
	case !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("read cache entry %s: %w", key, err)
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		return false, fmt.Errorf("save cache entry %s: %w", key, err)
	}
	s.log.Info("Cached action steps.", "action_id", a.ID, "key", key, "steps", len(steps), "executions", rec.SuccessfulExecutions)
	return true, nil
}

func (s *Service) toCachedSteps(actionID string, executed []registry.Step) ([]CachedStep, string) {
	owners := make(map[string]string) // stable id -> element id
	out := make([]CachedStep, 0, len(executed))
	for i, st := range executed {
		cs := CachedStep{Type: st.Type, Value: st.Value, URL: st.URL, Delay: st.Delay}
		switch {
		case st.ElementID != "":
			el, ok := s.reg.Element(actionID, st.ElementID)
			if !ok {
				return nil, fmt.Sprintf("step %d targets unregistered element %s", i, st.ElementID)
			}
			if el.IsVariable {
				cs.IsVariable = true
				cs.Selector = el.Selector
				cs.ElementKind = el.Kind
				break
			}
			h, ok := s.reg.Handle(actionID, el.ID)
			if !ok || h.StableID() == "" {
				return nil, fmt.Sprintf("element %s has no stable id", el.ID)
			}
			cs.StableID = h.StableID()
			if owner, seen := owners[cs.StableID]; seen && owner != el.ID {
				return nil, fmt.Sprintf("elements %s and %s share stable id %q", owner, el.ID, cs.StableID)
			}
			owners[cs.StableID] = el.ID
		case st.DomID != "":
			owner := st.DomID
			if el, _, ok := s.reg.ElementByStableID(actionID, st.DomID); ok {
				owner = el.ID
			}
			if prev, seen := owners[st.DomID]; seen && prev != owner {
				return nil, fmt.Sprintf("stable id %q is shared", st.DomID)
			}
			owners[st.DomID] = owner
			cs.StableID = st.DomID
		}
		out = append(out, cs)
	}
	return out, ""
}

// FindCachedSteps rebuilds a cached sequence for the current page. Variable
// steps are re-targeted by ranking the action's variable elements against
// transcript; if any of them finds no candidate the lookup is a miss.
func (s *Service) FindCachedSteps(ctx context.Context, a registry.Action, transcript string) ([]registry.Step, bool) {
	key, err := s.Key(ctx, a)
	if err != nil {
		s.log.Warn("Cache lookup skipped.", "action_id", a.ID, "error", err)
		return nil, false
	}
	rec, err := s.repo.Find(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("Cache lookup failed.", "action_id", a.ID, "key", key, "error", err)
		}
		return nil, false
	}
	if len(rec.Steps) == 0 {
		return nil, false
	}

	elements := s.reg.Elements(a.ID)
	steps := make([]registry.Step, 0, len(rec.Steps))
	for i, cs := range rec.Steps {
		st := registry.Step{Type: cs.Type, Value: cs.Value, URL: cs.URL, Delay: cs.Delay}
		switch {
		case cs.IsVariable:
			id, ok, err := resolveVariable(elements, cs, transcript)
			if err != nil {
				s.log.Warn("Could not match cached variable step.", "action_id", a.ID, "step", i, "error", err)
			}
			if !ok {
				s.log.Info("Cached variable step has no match; treating as miss.", "action_id", a.ID, "step", i)
				return nil, false
			}
			st.ElementID = id
		case cs.StableID != "":
			st.DomID = cs.StableID
			if el, _, ok := s.reg.ElementByStableID(a.ID, cs.StableID); ok {
				st.ElementID = el.ID
			}
		}
		steps = append(steps, st)
	}
	s.log.Info("Cache hit.", "action_id", a.ID, "key", key, "steps", len(steps))
	return steps, true
}

func resolveVariable(elements []registry.Element, cs CachedStep, transcript string) (string, bool, error) {
	var docs []search.Document
	for _, el := range elements {
		if !el.IsVariable {
			continue
		}
		if cs.Selector != "" && el.Selector != cs.Selector {
			continue
		}
		if cs.ElementKind != "" && el.Kind != cs.ElementKind {
			continue
		}
		docs = append(docs, search.Document{ID: el.ID, Label: el.Label, Metadata: el.Metadata})
	}
	if len(docs) == 0 {
		return "", false, nil
	}
	idx, err := search.NewIndex(docs)
	if err != nil {
		return "", false, err
	}
	defer idx.Close()
	return idx.Best(transcript)
}

func (s *Service) List(ctx context.Context) ([]Record, error) { return s.repo.List(ctx) }

// Remove drops every cache entry of an action, whatever its key.
func (s *Service) Remove(ctx context.Context, actionID string) error {
	recs, err := s.repo.FindByActionID(ctx, actionID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.repo.Delete(ctx, rec.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Clear(ctx context.Context) error { return s.repo.Clear(ctx) }
