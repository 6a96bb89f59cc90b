package actions

import (
	"context"
	"fmt"
	"strings"

	"chant/internal/llm_client"
	"chant/internal/registry"
)

// maxPageText bounds how much page text is sent to the model.
const maxPageText = 8000

func (b *Builtins) llmHandler(operation string, payload map[string]any) (handler, error) {
	switch operation {
	case "summarize":
		return b.summarize, nil
	case "generate_content":
		if _, err := getStringPayload(payload, "prompt"); err != nil {
			return nil, err
		}
		return b.generateContent, nil
	default:
		return nil, fmt.Errorf("unknown llm operation: %s", operation)
	}
}

func (b *Builtins) generate(ctx context.Context, prompt string, payload map[string]any) (string, error) {
	if b.provider == nil {
		return "", llm_client.ErrNotInitialized
	}
	model, _ := payload["model"].(string)
	if model == "" {
		model = b.model
	}
	return b.provider.Generate(ctx, prompt, b.provider.AllowedModelOrDefault(model))
}

// summarize asks the model for a few short lines about the page.
func (b *Builtins) summarize(ctx context.Context, payload map[string]any) (registry.ExecResult, error) {
	doc, err := b.document()
	if err != nil {
		return registry.ExecResult{}, err
	}
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	prompt := "Summarize this web page for someone who cannot see it, in at most five short lines, " +
		"one point per line, no markdown.\n\nPage text:\n" + text
	out, err := b.generate(ctx, prompt, payload)
	if err != nil {
		return registry.ExecResult{}, err
	}
	return registry.ExecResult{ResultText: "Page summary", UserInfo: lines(out)}, nil
}

func (b *Builtins) generateContent(ctx context.Context, payload map[string]any) (registry.ExecResult, error) {
	prompt, _ := getStringPayload(payload, "prompt")
	out, err := b.generate(ctx, prompt, payload)
	if err != nil {
		return registry.ExecResult{}, err
	}
	return registry.ExecResult{ResultText: "Answer", UserInfo: lines(out)}, nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(llm_client.StripCodeFences(s), "\n") {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-*"))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
