package actions

import (
	"context"
	"fmt"

	"chant/internal/registry"
)

func (b *Builtins) systemHandler(operation string) (handler, error) {
	switch operation {
	case "time":
		return func(_ context.Context, payload map[string]any) (registry.ExecResult, error) {
			layout, _ := payload["layout"].(string)
			if layout == "" {
				layout = "Monday, January 2 2006, 15:04"
			}
			return registry.ExecResult{ResultText: "It is", UserInfo: []string{b.now().Format(layout)}}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown system operation: %s", operation)
	}
}
