package dispatcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chant/internal/logger"
	"chant/internal/page"
	"chant/internal/registry"
)

const signupPage = `<html><body>
<form id="signup">
  <input id="email" type="email" aria-label="Email" required>
  <input id="name" aria-label="Full name" required>
  <input id="nickname" aria-label="Nickname">
  <button id="create">Create account</button>
</form>
<a id="docs" href="/docs">Docs</a>
</body></html>`

func setup(t *testing.T, demoHandler func(context.Context) error) (*registry.Registry, *page.Page) {
	t.Helper()
	p, err := page.Parse(signupPage)
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New()
	if err := reg.RegisterAction(registry.Action{ID: "signup", Triggers: []string{"sign up"}, PauseOnRequiredField: true}); err != nil {
		t.Fatal(err)
	}
	for _, el := range []registry.Element{
		{ID: "email", Selector: "#email", Kind: "email", Label: "Email"},
		{ID: "name", Selector: "#name", Kind: "text", Label: "Full name"},
		{ID: "nickname", Selector: "#nickname", Kind: "text"},
		{ID: "create", Selector: "#create", Kind: "button", Label: "Create account", AffectsPersistentState: true, DemoHandler: demoHandler},
		{ID: "docs", Selector: "#docs", Kind: "link"},
	} {
		reg.RegisterElement("signup", el)
	}
	p.BindCatalog(reg)
	return reg, p
}

func newDispatcher(reg *registry.Registry, p *page.Page) *Dispatcher {
	return New(reg, p, logger.Nop(), Options{ReadyTimeout: 20 * time.Millisecond})
}

func setValue(id, v string) registry.Step {
	return registry.Step{Type: registry.StepSetValue, ElementID: id, Value: v}
}

func click(id string) registry.Step {
	return registry.Step{Type: registry.StepClick, ElementID: id}
}

func TestExecute_NextRequiredPausesBeforeLaterFill(t *testing.T) {
	reg, p := setup(t, nil)
	var submitted bool
	p.On("submit", func(page.Event) { submitted = true })

	out, err := newDispatcher(reg, p).Execute(context.Background(), Run{
		ActionID:             "signup",
		PauseOnRequiredField: true,
		Steps:                []registry.Step{setValue("email", "ada@example.com"), setValue("name", "Ada"), click("create")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusPaused || out.Pause == nil {
		t.Fatalf("expected a pause, got %+v", out)
	}
	if out.Pause.ElementID != "name" || out.Pause.Label != "Full name" || out.Pause.Reason != reasonNextRequired {
		t.Errorf("unexpected pause %+v", out.Pause)
	}
	if out.PausedAt != 0 || len(out.Executed) != 1 {
		t.Errorf("pausedAt=%d executed=%d", out.PausedAt, len(out.Executed))
	}
	if len(out.Pending) != 2 || out.Pending[0].ElementID != "name" || out.Pending[1].ElementID != "create" {
		t.Errorf("pending should be the untouched suffix, got %+v", out.Pending)
	}
	if submitted {
		t.Error("form submitted before the pause was resolved")
	}
	if f := p.Focused(); f == nil || f.StableID() != "name" {
		t.Errorf("next required field was not focused: %v", f)
	}
}

func TestExecute_SkipFieldsFilledLater(t *testing.T) {
	reg, p := setup(t, nil)
	var submitted bool
	p.On("submit", func(page.Event) { submitted = true })

	d := New(reg, p, logger.Nop(), Options{ReadyTimeout: 20 * time.Millisecond, SkipFieldsFilledLater: true})
	var seen []int
	out, err := d.Execute(context.Background(), Run{
		ActionID:             "signup",
		PauseOnRequiredField: true,
		Steps:                []registry.Step{setValue("email", "ada@example.com"), setValue("name", "Ada"), click("create")},
		OnStep:               func(i int, _ registry.Step) { seen = append(seen, i) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCompleted || out.Pause != nil {
		t.Fatalf("expected completion, got %+v", out)
	}
	if len(out.Executed) != 3 || len(seen) != 3 || !submitted {
		t.Errorf("executed=%d seen=%v submitted=%v", len(out.Executed), seen, submitted)
	}
	if out.Metrics == nil || len(out.Metrics.Steps) != 3 || out.Metrics.Failed() != 0 {
		t.Errorf("unexpected metrics %+v", out.Metrics)
	}

	t.Run("field not written later still pauses", func(t *testing.T) {
		reg, p := setup(t, nil)
		d := New(reg, p, logger.Nop(), Options{ReadyTimeout: 20 * time.Millisecond, SkipFieldsFilledLater: true})
		out, err := d.Execute(context.Background(), Run{
			ActionID:             "signup",
			PauseOnRequiredField: true,
			Steps:                []registry.Step{setValue("email", "ada@example.com"), click("create")},
		})
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != StatusPaused || out.Pause.ElementID != "name" {
			t.Errorf("expected a pause at name, got %+v", out)
		}
	})
}

func TestExecute_Pauses(t *testing.T) {
	testCases := []struct {
		name        string
		prefill     map[string]string
		steps       []registry.Step
		pauseOn     bool
		wantStatus  Status
		wantElement string
		wantReason  string
		wantPending int
	}{
		{
			name:        "invalid value in the written field",
			steps:       []registry.Step{setValue("email", "ada"), setValue("name", "Ada"), click("create")},
			pauseOn:     true,
			wantStatus:  StatusPaused,
			wantElement: "email",
			wantReason:  "Please include an '@'",
			wantPending: 2,
		},
		{
			name:        "next required field left empty",
			steps:       []registry.Step{setValue("email", "ada@example.com"), click("create")},
			pauseOn:     true,
			wantStatus:  StatusPaused,
			wantElement: "name",
			wantReason:  reasonNextRequired,
			wantPending: 1,
		},
		{
			name:       "pausing disabled",
			steps:      []registry.Step{setValue("email", "ada"), click("create")},
			pauseOn:    false,
			wantStatus: StatusCompleted,
		},
		{
			name:       "optional field never pauses on its own",
			prefill:    map[string]string{"email": "ada@example.com", "name": "Ada"},
			steps:      []registry.Step{setValue("nickname", "")},
			pauseOn:    true,
			wantStatus: StatusCompleted,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg, p := setup(t, nil)
			for id, v := range tc.prefill {
				n, _ := p.ByID(id)
				if err := n.SetValue(v); err != nil {
					t.Fatal(err)
				}
			}
			out, err := newDispatcher(reg, p).Execute(context.Background(), Run{ActionID: "signup", Steps: tc.steps, PauseOnRequiredField: tc.pauseOn})
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != tc.wantStatus {
				t.Fatalf("status %s, want %s", out.Status, tc.wantStatus)
			}
			if tc.wantStatus != StatusPaused {
				return
			}
			if out.Pause.ElementID != tc.wantElement || !strings.HasPrefix(out.Pause.Reason, tc.wantReason) {
				t.Errorf("unexpected pause %+v", out.Pause)
			}
			if len(out.Pending) != tc.wantPending {
				t.Errorf("pending %d, want %d", len(out.Pending), tc.wantPending)
			}
			if f := p.Focused(); f == nil || f.StableID() != tc.wantElement {
				t.Errorf("offending field was not focused: %v", f)
			}
		})
	}
}

func TestExecute_PauseLabelFallsBackToID(t *testing.T) {
	reg, p := setup(t, nil)
	reg.UnregisterElement("signup", "name")
	reg.RegisterElement("signup", registry.Element{ID: "name", Selector: "#name"})
	p.BindCatalog(reg)

	out, _ := newDispatcher(reg, p).Execute(context.Background(), Run{
		ActionID:             "signup",
		PauseOnRequiredField: true,
		Steps:                []registry.Step{setValue("email", "ada@example.com")},
	})
	if out.Pause == nil || out.Pause.Label != "name" {
		t.Errorf("expected label to fall back to the id, got %+v", out.Pause)
	}
}

func TestExecute_FailingStepIsSkipped(t *testing.T) {
	reg, p := setup(t, nil)
	out, err := newDispatcher(reg, p).Execute(context.Background(), Run{
		ActionID: "signup",
		Steps:    []registry.Step{click("ghost"), setValue("create", "x"), setValue("nickname", "ace")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Executed) != 1 || out.Metrics.Failed() != 2 {
		t.Errorf("executed=%v failed=%d", out.Executed, out.Metrics.Failed())
	}
	n, _ := p.ByID("nickname")
	if n.Value() != "ace" {
		t.Errorf("later step did not run: %q", n.Value())
	}
}

func TestExecute_DemoMode(t *testing.T) {
	t.Run("missing demo handler aborts", func(t *testing.T) {
		reg, p := setup(t, nil)
		var submitted bool
		p.On("submit", func(page.Event) { submitted = true })
		_, err := newDispatcher(reg, p).Execute(context.Background(), Run{
			ActionID: "signup",
			DemoMode: true,
			Steps:    []registry.Step{setValue("nickname", "ace"), click("create"), setValue("email", "a@b.co")},
		})
		if !errors.Is(err, ErrMissingDemoHandler) {
			t.Fatalf("got %v, want ErrMissingDemoHandler", err)
		}
		if submitted {
			t.Error("form was submitted in demo mode")
		}
		if n, _ := p.ByID("email"); n.Value() != "" {
			t.Error("steps after the abort must not run")
		}
	})

	t.Run("demo handler replaces the real step", func(t *testing.T) {
		var demoCalls int
		reg, p := setup(t, func(context.Context) error { demoCalls++; return nil })
		var submitted bool
		p.On("submit", func(page.Event) { submitted = true })
		out, err := newDispatcher(reg, p).Execute(context.Background(), Run{
			ActionID: "signup", DemoMode: true, Steps: []registry.Step{click("create")},
		})
		if err != nil {
			t.Fatal(err)
		}
		if demoCalls != 1 || submitted || !out.Metrics.Steps[0].Demo {
			t.Errorf("demoCalls=%d submitted=%v", demoCalls, submitted)
		}
	})

	t.Run("real mode ignores demo handler", func(t *testing.T) {
		var demoCalls int
		reg, p := setup(t, func(context.Context) error { demoCalls++; return nil })
		_, _ = newDispatcher(reg, p).Execute(context.Background(), Run{ActionID: "signup", Steps: []registry.Step{click("create")}})
		if demoCalls != 0 {
			t.Error("demo handler ran outside demo mode")
		}
	})
}

func TestExecute_NavigationEndsRun(t *testing.T) {
	reg, p := setup(t, nil)
	out, err := newDispatcher(reg, p).Execute(context.Background(), Run{
		ActionID: "signup",
		Steps: []registry.Step{
			{Type: registry.StepNavigate, URL: "/welcome"},
			setValue("nickname", "ace"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCompleted || len(out.Executed) != 1 || p.Location() != "/welcome" {
		t.Errorf("status=%s executed=%d location=%q", out.Status, len(out.Executed), p.Location())
	}
}

func TestExecute_ResolvesByDomID(t *testing.T) {
	reg, p := setup(t, nil)
	out, _ := newDispatcher(reg, p).Execute(context.Background(), Run{
		ActionID: "signup",
		Steps:    []registry.Step{{Type: registry.StepSetValue, DomID: "nickname", Value: "ace"}},
	})
	if len(out.Executed) != 1 {
		t.Fatalf("dom id step failed: %+v", out.Metrics.Steps)
	}
}

type panicHandle struct{}

func (panicHandle) Click() error                                 { panic("boom") }
func (panicHandle) SetValue(string) error                        { return nil }
func (panicHandle) Focus() error                                 { return nil }
func (panicHandle) Value() string                                { return "" }
func (panicHandle) Required() bool                               { return false }
func (panicHandle) Validity() (bool, string)                     { return true, "" }
func (panicHandle) NextInvalidRequired() (registry.Handle, bool) { return nil, false }
func (panicHandle) StableID() string                             { return "boom" }

func TestExecute_RecoversFromPanickingHandle(t *testing.T) {
	reg := registry.New()
	_ = reg.RegisterAction(registry.Action{ID: "a"})
	reg.RegisterElement("a", registry.Element{ID: "boom"})
	reg.BindHandle("a", "boom", panicHandle{})
	reg.MarkReady()

	out, err := New(reg, nil, logger.Nop(), Options{}).Execute(context.Background(), Run{
		ActionID: "a", Steps: []registry.Step{click("boom"), {Type: registry.StepWait, Delay: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Metrics.Failed() != 1 || !strings.Contains(out.Metrics.Steps[0].Err, "boom") || len(out.Executed) != 1 {
		t.Errorf("unexpected outcome %+v", out.Metrics.Steps)
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	reg, p := setup(t, nil)
	d := New(reg, p, logger.Nop(), Options{StepDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := d.Execute(ctx, Run{ActionID: "signup", Steps: []registry.Step{setValue("nickname", "a"), setValue("email", "a@b.co")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if len(out.Executed) != 1 || len(out.Pending) != 1 {
		t.Errorf("executed=%d pending=%d", len(out.Executed), len(out.Pending))
	}
}
