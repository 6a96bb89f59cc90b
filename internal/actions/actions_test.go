package actions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chant/internal/llm_client"
	"chant/internal/page"
	"chant/internal/registry"
)

const docsPage = `<html><body>
<h1>Support</h1>
<h2>Open a ticket</h2>
<form id="ticket">
  <label for="title">Title</label>
  <input id="title" required>
  <input id="email" type="email" aria-label="Email" required value="ada@example.com">
</form>
<a href="/docs/start">Getting   started</a>
<a href="https://status.example.com">Status</a>
<a href="faq">FAQ</a>
</body></html>`

type echoProvider struct {
	prompt string
	model  string
	reply  string
}

func (e *echoProvider) Init(llm_client.Config) error          { return nil }
func (e *echoProvider) Name() string                          { return "echo" }
func (e *echoProvider) DefaultModel() string                  { return "echo-1" }
func (e *echoProvider) AllowedModelOrDefault(m string) string { return m }
func (e *echoProvider) Generate(_ context.Context, prompt, model string) (string, error) {
	e.prompt, e.model = prompt, model
	return e.reply, nil
}
func (e *echoProvider) GenerateJSON(context.Context, string, string, any) (string, error) {
	return "", nil
}
func (e *echoProvider) GenerateJSONWithAudio(context.Context, string, string, []byte, string, any) (string, error) {
	return "", llm_client.ErrAudioUnsupported
}

func newBuiltins(t *testing.T, provider llm_client.Provider) *Builtins {
	t.Helper()
	p, err := page.Parse(docsPage)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p.SetLocation("https://help.example.com/support/")
	return New(p, provider, "echo-1")
}

func run(t *testing.T, b *Builtins, name string, payload map[string]any) registry.ExecResult {
	t.Helper()
	fn, err := b.Resolve(name, payload)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", name, err)
	}
	res, err := fn(context.Background())
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestResolve_Errors(t *testing.T) {
	b := newBuiltins(t, nil)
	testCases := []struct {
		name    string
		exec    string
		payload map[string]any
	}{
		{"no category", "links", nil},
		{"too many parts", "page.links.all", nil},
		{"unknown category", "shell.run", nil},
		{"unknown page operation", "page.scroll", nil},
		{"unknown llm operation", "llm.translate", nil},
		{"missing prompt", "llm.generate_content", map[string]any{}},
		{"prompt wrong type", "llm.generate_content", map[string]any{"prompt": 3.0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := b.Resolve(tc.exec, tc.payload); err == nil {
				t.Fatalf("expected an error for %s", tc.exec)
			}
		})
	}
}

func TestPageLinks(t *testing.T) {
	b := newBuiltins(t, nil)

	res := run(t, b, "page.links", nil)
	want := []string{
		"Getting started: https://help.example.com/docs/start",
		"Status: https://status.example.com",
		"FAQ: https://help.example.com/support/faq",
	}
	if strings.Join(res.UserInfo, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", res.UserInfo, want)
	}

	res = run(t, b, "page.links", map[string]any{"limit": "1"})
	if len(res.UserInfo) != 1 {
		t.Errorf("limit not applied: %q", res.UserInfo)
	}
	res = run(t, b, "page.links", map[string]any{"contains": "STATUS"})
	if len(res.UserInfo) != 1 || !strings.HasPrefix(res.UserInfo[0], "Status:") {
		t.Errorf("filter not applied: %q", res.UserInfo)
	}

	fn, err := b.Resolve("page.links", map[string]any{"limit": true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(context.Background()); err == nil {
		t.Error("expected an error for a boolean limit")
	}
}

func TestPageHeadingsAndLocation(t *testing.T) {
	b := newBuiltins(t, nil)
	if got := run(t, b, "page.headings", nil).UserInfo; strings.Join(got, ",") != "Support,Open a ticket" {
		t.Errorf("headings = %q", got)
	}
	if got := run(t, b, "page.location", nil).UserInfo; len(got) != 1 || got[0] != "https://help.example.com/support/" {
		t.Errorf("location = %q", got)
	}
}

func TestPageMissingFields(t *testing.T) {
	b := newBuiltins(t, nil)
	res := run(t, b, "page.missing_fields", map[string]any{"form": "ticket"})
	if len(res.UserInfo) != 1 || !strings.HasPrefix(res.UserInfo[0], "Title: ") {
		t.Fatalf("missing = %q", res.UserInfo)
	}

	title, _ := b.page.ByID("title")
	if err := title.SetValue("Printer jam"); err != nil {
		t.Fatal(err)
	}
	res = run(t, b, "page.missing_fields", nil)
	if len(res.UserInfo) != 0 || res.ResultText != "All required fields are filled in." {
		t.Errorf("expected nothing missing, got %+v", res)
	}
}

func TestLLM(t *testing.T) {
	t.Run("without provider", func(t *testing.T) {
		b := newBuiltins(t, nil)
		fn, err := b.Resolve("llm.summarize", nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fn(context.Background()); !errors.Is(err, llm_client.ErrNotInitialized) {
			t.Fatalf("got %v, want ErrNotInitialized", err)
		}
	})

	t.Run("summarize", func(t *testing.T) {
		ep := &echoProvider{reply: "```\n- A support page\n\n* Has a ticket form\n```"}
		b := newBuiltins(t, ep)
		res := run(t, b, "llm.summarize", nil)
		if strings.Join(res.UserInfo, "|") != "A support page|Has a ticket form" {
			t.Errorf("lines = %q", res.UserInfo)
		}
		if !strings.Contains(ep.prompt, "Getting started") || ep.model != "echo-1" {
			t.Errorf("prompt %q model %q", ep.prompt, ep.model)
		}
	})

	t.Run("generate content with model override", func(t *testing.T) {
		ep := &echoProvider{reply: "42"}
		b := newBuiltins(t, ep)
		res := run(t, b, "llm.generate_content", map[string]any{"prompt": "meaning of life", "model": "echo-2"})
		if len(res.UserInfo) != 1 || res.UserInfo[0] != "42" || ep.model != "echo-2" || ep.prompt != "meaning of life" {
			t.Errorf("unexpected result %+v (model %q)", res, ep.model)
		}
	})
}

func TestSystemTime(t *testing.T) {
	b := newBuiltins(t, nil)
	b.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
	if got := run(t, b, "system.time", nil).UserInfo[0]; got != "Saturday, March 9 2024, 14:05" {
		t.Errorf("time = %q", got)
	}
	if got := run(t, b, "system.time", map[string]any{"layout": "2006-01-02"}).UserInfo[0]; got != "2024-03-09" {
		t.Errorf("time = %q", got)
	}
}
