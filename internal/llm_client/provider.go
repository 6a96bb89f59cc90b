package llm_client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized   = errors.New("llm provider is not initialized")
	ErrAudioUnsupported = errors.New("llm backend does not accept audio")
)

type Config struct {
	Backend    string
	Model      string
	OllamaHost string
	APIKey     string
}

type Provider interface {
	Init(cfg Config) error
	Name() string
	DefaultModel() string
	AllowedModelOrDefault(model string) string
	Generate(ctx context.Context, prompt, model string) (string, error)
	GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error)
	// GenerateJSONWithAudio sends an audio clip alongside the prompt.
	GenerateJSONWithAudio(ctx context.Context, prompt, model string, audio []byte, mimeType string, schema any) (string, error)
}

// New builds and initializes the provider selected by cfg.Backend.
func New(cfg Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "gemini"
	}
	var p Provider
	switch backend {
	case "ollama":
		p = &ollamaProvider{}
	case "gemini":
		p = &geminiProvider{}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", backend)
	}
	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
