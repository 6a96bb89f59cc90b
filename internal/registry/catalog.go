package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

type CatalogElement struct {
	ID                     string         `json:"id,omitempty"`
	Selector               string         `json:"selector"`
	Kind                   string         `json:"type"`
	Label                  string         `json:"label,omitempty"`
	Order                  int            `json:"order,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	IsVariable             bool           `json:"is_variable,omitempty"`
	AffectsPersistentState bool           `json:"affects_persistent_state,omitempty"`
	// DemoSafe installs a no-op demo handler for the element.
	DemoSafe bool `json:"demo_safe,omitempty"`
}

type CatalogAction struct {
	ID                   string           `json:"id"`
	Triggers             []string         `json:"triggers"`
	Description          string           `json:"description"`
	Steps                []string         `json:"steps,omitempty"`
	Route                string           `json:"route,omitempty"`
	PauseOnRequiredField bool             `json:"pause_on_required_field,omitempty"`
	Info                 string           `json:"info,omitempty"`
	UserInfo             []string         `json:"user_info,omitempty"`
	CacheByRoute         bool             `json:"cache_by_route,omitempty"`
	Elements             []CatalogElement `json:"elements,omitempty"`

	// Exec names a built-in informational function, e.g. "page.links".
	Exec    string         `json:"exec,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Catalog struct {
	Actions []CatalogAction `json:"actions"`
}

// LoadCatalog reads a JSON catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read catalog file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("could not parse catalog JSON: %w", err)
	}
	return &c, nil
}

// ExecResolver turns a catalog "exec" name and its payload into a function.
type ExecResolver func(name string, payload map[string]any) (InformationalFunc, error)

// Register declares every action and element of the catalog on r. Actions
// with an "exec" name answer with an error when run.
func (c *Catalog) Register(r *Registry) error {
	return c.RegisterWith(r, nil)
}

// RegisterWith is Register with exec names bound through resolve. It stops at
// the first registration error.
func (c *Catalog) RegisterWith(r *Registry, resolve ExecResolver) error {
	for _, ca := range c.Actions {
		a := Action{
			ID:                   ca.ID,
			Triggers:             ca.Triggers,
			Description:          ca.Description,
			Steps:                ca.Steps,
			Route:                ca.Route,
			PauseOnRequiredField: ca.PauseOnRequiredField,
		}
		if ca.Info != "" {
			text, info := ca.Info, append([]string(nil), ca.UserInfo...)
			a.Exec = func(ctx context.Context) (ExecResult, error) {
				return ExecResult{ResultText: text, UserInfo: info}, nil
			}
		}
		if ca.Exec != "" {
			fn, err := execFunc(ca, resolve)
			if err != nil {
				return fmt.Errorf("action %s: %w", ca.ID, err)
			}
			a.Exec = fn
		}
		if ca.CacheByRoute {
			a.CacheKey = func(ctx context.Context, actionID string) (map[string]any, error) {
				return map[string]any{"route": r.CurrentRoute()}, nil
			}
		}
		if err := r.RegisterAction(a); err != nil {
			return err
		}
		for _, ce := range ca.Elements {
			el := Element{
				ID:                     ce.ID,
				Selector:               ce.Selector,
				Kind:                   ce.Kind,
				Label:                  ce.Label,
				Order:                  ce.Order,
				Metadata:               ce.Metadata,
				IsVariable:             ce.IsVariable,
				AffectsPersistentState: ce.AffectsPersistentState,
			}
			if ce.DemoSafe {
				el.DemoHandler = func(ctx context.Context) error { return nil }
			}
			r.RegisterElement(ca.ID, el)
		}
	}
	return nil
}

func execFunc(ca CatalogAction, resolve ExecResolver) (InformationalFunc, error) {
	if resolve == nil {
		name := ca.Exec
		return func(ctx context.Context) (ExecResult, error) {
			return ExecResult{}, fmt.Errorf("built-in %s is not available here", name)
		}, nil
	}
	return resolve(ca.Exec, ca.Payload)
}
