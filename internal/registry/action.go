package registry

import "context"

type StepType string

const (
	StepClick    StepType = "click"
	StepSetValue StepType = "setValue"
	StepFocus    StepType = "focus"
	StepWait     StepType = "wait"
	StepNavigate StepType = "navigate"
)

// AllowedStepTypes is the step vocabulary accepted from generators.
var AllowedStepTypes = []StepType{StepSetValue, StepClick, StepFocus, StepWait, StepNavigate}

func IsAllowedStepType(t StepType) bool {
	for _, a := range AllowedStepTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Step is one UI manipulation. ElementID references a registered element,
// DomID a raw stable UI id (used when replaying cached sequences).
type Step struct {
	Type      StepType `json:"type"`
	ElementID string   `json:"elementId,omitempty"`
	DomID     string   `json:"domElementId,omitempty"`
	Value     string   `json:"value,omitempty"`
	URL       string   `json:"url,omitempty"`
	Delay     int      `json:"delay,omitempty"` // milliseconds
}

type ExecResult struct {
	ResultText string   `json:"resultText"`
	UserInfo   []string `json:"userInfo"`
	Error      string   `json:"error"`
}

// InformationalFunc answers an action directly, without UI steps.
type InformationalFunc func(ctx context.Context) (ExecResult, error)

// CacheKeyFunc returns page state that partitions the step cache of an action.
type CacheKeyFunc func(ctx context.Context, actionID string) (map[string]any, error)

type Action struct {
	ID                   string            `json:"id"`
	Triggers             []string          `json:"triggers"`
	Description          string            `json:"description"`
	Steps                []string          `json:"steps,omitempty"`
	Route                string            `json:"route,omitempty"`
	PauseOnRequiredField bool              `json:"pause_on_required_field,omitempty"`
	Exec                 InformationalFunc `json:"-"`
	CacheKey             CacheKeyFunc      `json:"-"`
}

type Element struct {
	ID                     string                          `json:"id"`
	Selector               string                          `json:"selector"`
	Kind                   string                          `json:"type"`
	Label                  string                          `json:"label,omitempty"`
	Order                  int                             `json:"order,omitempty"`
	Metadata               map[string]any                  `json:"metadata,omitempty"`
	IsVariable             bool                            `json:"is_variable,omitempty"`
	AffectsPersistentState bool                            `json:"affects_persistent_state,omitempty"`
	DemoHandler            func(ctx context.Context) error `json:"-"`
}

// Handle is the live counterpart of a registered element.
type Handle interface {
	Click() error
	SetValue(value string) error
	Focus() error
	Value() string
	Required() bool
	Validity() (valid bool, message string)
	// NextInvalidRequired returns the first required field of the enclosing
	// form that currently fails validation.
	NextInvalidRequired() (Handle, bool)
	StableID() string
}
