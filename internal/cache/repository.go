package cache

import (
	"context"
	"errors"
	"time"

	"chant/internal/registry"
)

var ErrNotFound = errors.New("cache entry not found")

// CachedStep is one replayable step. Fixed steps carry the stable UI id of
// their target; variable steps carry enough to rebuild the candidate pool.
type CachedStep struct {
	Type        registry.StepType `json:"type"`
	StableID    string            `json:"stableId,omitempty"`
	IsVariable  bool              `json:"isVariable,omitempty"`
	Selector    string            `json:"selector,omitempty"`
	ElementKind string            `json:"elementKind,omitempty"`
	Value       string            `json:"value,omitempty"`
	URL         string            `json:"url,omitempty"`
	Delay       int               `json:"delay,omitempty"`
}

type Record struct {
	Key                  string       `json:"key"`
	ActionID             string       `json:"actionId"`
	Steps                []CachedStep `json:"steps"`
	Transcript           string       `json:"transcript,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
	SuccessfulExecutions int          `json:"successfulExecutions"`
}

// Repository stores cache records by key. Save overwrites any record with the
// same key.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	Find(ctx context.Context, key string) (Record, error)
	FindByActionID(ctx context.Context, actionID string) ([]Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

func stepsEqual(a, b []CachedStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
