// Package actions holds the built-in informational functions a catalog can
// name in an action's "exec" field, addressed as "category.operation".
package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chant/internal/llm_client"
	"chant/internal/page"
	"chant/internal/registry"
)

type Builtins struct {
	page     *page.Page
	provider llm_client.Provider
	model    string
	now      func() time.Time
}

// New returns the function table for p. provider may be nil; llm.* functions
// then fail when called.
func New(p *page.Page, provider llm_client.Provider, model string) *Builtins {
	return &Builtins{page: p, provider: provider, model: model, now: time.Now}
}

type handler func(ctx context.Context, payload map[string]any) (registry.ExecResult, error)

// Resolve binds name and its payload to an informational function. Unknown
// names and missing payload keys fail here, at registration, not on first use.
func (b *Builtins) Resolve(name string, payload map[string]any) (registry.InformationalFunc, error) {
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid exec name format: '%s'", name)
	}
	category, operation := parts[0], parts[1]

	var h handler
	var err error
	switch category {
	case "page":
		h, err = b.pageHandler(operation)
	case "llm":
		h, err = b.llmHandler(operation, payload)
	case "system":
		h, err = b.systemHandler(operation)
	default:
		return nil, fmt.Errorf("unknown exec category: %s", category)
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (registry.ExecResult, error) {
		return h(ctx, payload)
	}, nil
}

func getStringPayload(payload map[string]any, key string) (string, error) {
	value, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("payload is missing required key: '%s'", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("payload key '%s' has an invalid type (expected string)", key)
	}
	return strValue, nil
}

// getIntPayload accepts JSON numbers and numeric strings; a missing key yields
// fallback.
func getIntPayload(payload map[string]any, key string, fallback int) (int, error) {
	v, ok := payload[key]
	if !ok {
		return fallback, nil
	}
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("payload key '%s' invalid int: %v", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("payload key '%s' has unsupported type %T", key, v)
	}
}
