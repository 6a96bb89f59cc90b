package cache

import (
	"context"
	"strings"
	"testing"

	"chant/internal/logger"
	"chant/internal/registry"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) Click() error                                 { return nil }
func (h *fakeHandle) SetValue(string) error                        { return nil }
func (h *fakeHandle) Focus() error                                 { return nil }
func (h *fakeHandle) Value() string                                { return "" }
func (h *fakeHandle) Required() bool                               { return false }
func (h *fakeHandle) Validity() (bool, string)                     { return true, "" }
func (h *fakeHandle) NextInvalidRequired() (registry.Handle, bool) { return nil, false }
func (h *fakeHandle) StableID() string                             { return h.id }

type fixture struct {
	reg *registry.Registry
	svc *Service
	ids map[string]string
}

// newFixture registers a login action whose elements carry the given stable
// ids, plus two variable "add" buttons for a shop action.
func newFixture(t *testing.T, stable map[string]string) *fixture {
	t.Helper()
	reg := registry.New()
	for _, a := range []registry.Action{{ID: "login"}, {ID: "shop"}} {
		if err := reg.RegisterAction(a); err != nil {
			t.Fatal(err)
		}
	}
	ids := make(map[string]string)
	for _, name := range []string{"email", "password", "submit"} {
		id := reg.RegisterElement("login", registry.Element{Selector: "#" + name, Kind: "input", Label: name})
		ids[name] = id
		reg.BindHandle("login", id, &fakeHandle{id: stable[name]})
	}
	products := []struct{ name, title string }{{"red", "Red running shoes"}, {"blue", "Blue wool hat"}}
	for _, p := range products {
		id := reg.RegisterElement("shop", registry.Element{
			Selector: ".add", Kind: "button", Label: "Add to cart", IsVariable: true,
			Metadata: map[string]any{"title": p.title},
		})
		ids[p.name] = id
		reg.BindHandle("shop", id, &fakeHandle{id: "add-" + p.name})
	}
	return &fixture{reg: reg, svc: NewService(NewMemoryRepository(), reg, logger.Nop()), ids: ids}
}

func (f *fixture) action(id string) registry.Action {
	a, _ := f.reg.Action(id)
	return a
}

func (f *fixture) loginSteps() []registry.Step {
	return []registry.Step{
		{Type: registry.StepSetValue, ElementID: f.ids["email"], Value: "jane@example.com"},
		{Type: registry.StepSetValue, ElementID: f.ids["password"], Value: "hunter2"},
		{Type: registry.StepClick, ElementID: f.ids["submit"]},
	}
}

func TestCacheSuccessfulAction_SkipInvariant(t *testing.T) {
	testCases := []struct {
		name       string
		stable     map[string]string
		wantCached bool
	}{
		{"distinct stable ids", map[string]string{"email": "email", "password": "password", "submit": "go"}, true},
		{"missing stable id", map[string]string{"email": "email", "password": "", "submit": "go"}, false},
		{"duplicated stable id", map[string]string{"email": "field", "password": "field", "submit": "go"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.stable)
			ctx := context.Background()
			cached, err := f.svc.CacheSuccessfulAction(ctx, f.action("login"), f.loginSteps(), "log in")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cached != tc.wantCached {
				t.Errorf("cached = %v, want %v", cached, tc.wantCached)
			}
			recs, _ := f.svc.List(ctx)
			if got := len(recs) > 0; got != tc.wantCached {
				t.Errorf("store holds %d records", len(recs))
			}
		})
	}
}

func TestFindCachedSteps_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"email": "email", "password": "password", "submit": "go"})
	ctx := context.Background()
	original := f.loginSteps()
	if _, err := f.svc.CacheSuccessfulAction(ctx, f.action("login"), original, "log in"); err != nil {
		t.Fatal(err)
	}

	replayed, ok := f.svc.FindCachedSteps(ctx, f.action("login"), "log in")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	for i := range original {
		if replayed[i].ElementID != original[i].ElementID || replayed[i].Value != original[i].Value || replayed[i].Type != original[i].Type {
			t.Errorf("step %d: got %+v, want %+v", i, replayed[i], original[i])
		}
	}

	// Caching the replayed run again counts another identical success.
	if _, err := f.svc.CacheSuccessfulAction(ctx, f.action("login"), replayed, "log in"); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.svc.Repository().Find(ctx, "login")
	if rec.SuccessfulExecutions != 2 {
		t.Errorf("expected 2 successful executions, got %d", rec.SuccessfulExecutions)
	}
}

func TestFindCachedSteps_VariableResolution(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	run := []registry.Step{{Type: registry.StepClick, ElementID: f.ids["red"]}}
	if ok, err := f.svc.CacheSuccessfulAction(ctx, f.action("shop"), run, "add the red shoes"); !ok || err != nil {
		t.Fatalf("variable run should be cacheable: %v, %v", ok, err)
	}

	testCases := []struct {
		name       string
		transcript string
		wantHit    bool
		wantID     string
	}{
		{"re-targets by content", "add the wool hat to my cart", true, f.ids["blue"]},
		{"no candidate scores", "open settings", false, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			steps, ok := f.svc.FindCachedSteps(ctx, f.action("shop"), tc.transcript)
			if ok != tc.wantHit {
				t.Fatalf("hit = %v, want %v", ok, tc.wantHit)
			}
			if ok && steps[0].ElementID != tc.wantID {
				t.Errorf("resolved %s, want %s", steps[0].ElementID, tc.wantID)
			}
		})
	}

	for _, id := range []string{f.ids["red"], f.ids["blue"]} {
		f.reg.UnregisterElement("shop", id)
	}
	if _, ok := f.svc.FindCachedSteps(ctx, f.action("shop"), "add the wool hat"); ok {
		t.Error("an empty variable pool must be a cache miss")
	}
}

func TestKey_CustomFunction(t *testing.T) {
	f := newFixture(t, nil)
	route := "/a"
	a := registry.Action{ID: "search", CacheKey: func(context.Context, string) (map[string]any, error) {
		return map[string]any{"route": route}, nil
	}}
	k1, err := f.svc.Key(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	route = "/b"
	k2, _ := f.svc.Key(context.Background(), a)
	if k1 == k2 || !strings.HasPrefix(k1, "search:") || len(k1) != len("search:")+16 {
		t.Errorf("unexpected keys %q and %q", k1, k2)
	}
	plain, _ := f.svc.Key(context.Background(), registry.Action{ID: "login"})
	if plain != "login" {
		t.Errorf("plain key = %q", plain)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t, map[string]string{"email": "email", "password": "password", "submit": "go"})
	ctx := context.Background()
	_, _ = f.svc.CacheSuccessfulAction(ctx, f.action("login"), f.loginSteps(), "log in")
	if err := f.svc.Remove(ctx, "login"); err != nil {
		t.Fatal(err)
	}
	recs, _ := f.svc.List(ctx)
	if len(recs) != 0 {
		t.Errorf("expected empty cache, got %d", len(recs))
	}
}
