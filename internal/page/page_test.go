package page

import (
	"errors"
	"strings"
	"testing"

	"chant/internal/registry"
)

const ticketForm = `<html><body>
<form id="ticket">
  <label for="title">Title</label>
  <input id="title" name="title" required>
  <textarea id="description" name="description" aria-label="Description" required></textarea>
  <input id="contact" type="email" placeholder="Contact email">
  <select id="priority"><option value="low">Low</option><option value="high">High</option></select>
  <input id="agree" type="checkbox">
  <button id="submit">Create</button>
</form>
<a id="home" href="/home">Home</a>
<ul>
  <li><button class="add" id="add-1">Add red shoes</button></li>
  <li><button class="add" id="add-2">Add blue hat</button></li>
</ul>
</body></html>`

func mustParse(t *testing.T) *Page {
	t.Helper()
	p, err := Parse(ticketForm)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestNodeIdentity(t *testing.T) {
	p := mustParse(t)
	a, _ := p.ByID("title")
	b := p.Query("#title")[0]
	if a != b {
		t.Fatal("the same element must yield the same handle")
	}
}

func TestSetValue_EmitsInputAndChange(t *testing.T) {
	p := mustParse(t)
	var got []string
	p.On("*", func(ev Event) { got = append(got, ev.Type) })

	n, _ := p.ByID("description")
	if err := n.SetValue("Printer on fire"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if n.Value() != "Printer on fire" {
		t.Errorf("textarea value not written: %q", n.Value())
	}
	if strings.Join(got, ",") != "input,change" {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestSetValue_ControlKinds(t *testing.T) {
	p := mustParse(t)
	testCases := []struct {
		name    string
		id      string
		value   string
		want    string
		wantErr bool
	}{
		{"text input", "title", "Broken printer", "Broken printer", false},
		{"select by value", "priority", "high", "high", false},
		{"select by text", "priority", "Low", "low", false},
		{"select unknown option", "priority", "urgent", "", true},
		{"checkbox on", "agree", "true", "on", false},
		{"button holds no value", "submit", "x", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, _ := p.ByID(tc.id)
			err := n.SetValue(tc.value)
			if (err != nil) != tc.wantErr {
				t.Fatalf("SetValue error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && n.Value() != tc.want {
				t.Errorf("got value %q, want %q", n.Value(), tc.want)
			}
		})
	}
}

func TestValidity(t *testing.T) {
	p := mustParse(t)
	title, _ := p.ByID("title")
	contact, _ := p.ByID("contact")

	if ok, msg := title.Validity(); ok || msg != "Please fill out this field." {
		t.Errorf("empty required field: ok=%v msg=%q", ok, msg)
	}
	_ = contact.SetValue("not-an-email")
	if ok, msg := contact.Validity(); ok || !strings.Contains(msg, "'@'") {
		t.Errorf("bad email: ok=%v msg=%q", ok, msg)
	}
	_ = contact.SetValue("jane@example.com")
	if ok, _ := contact.Validity(); !ok {
		t.Error("valid email reported invalid")
	}
}

func TestNextInvalidRequired(t *testing.T) {
	p := mustParse(t)
	title, _ := p.ByID("title")
	desc, _ := p.ByID("description")

	_ = title.SetValue("Broken printer")
	next, ok := title.NextInvalidRequired()
	if !ok || next != registry.Handle(desc) {
		t.Fatalf("expected the description field, got %v", next)
	}
	if desc.Label() != "Description" {
		t.Errorf("unexpected label %q", desc.Label())
	}
	if title.Label() != "Title" {
		t.Errorf("unexpected label %q", title.Label())
	}

	_ = desc.SetValue("It is on fire")
	if _, ok := title.NextInvalidRequired(); ok {
		t.Error("expected no invalid required fields")
	}

	home, _ := p.ByID("home")
	if _, ok := home.NextInvalidRequired(); ok {
		t.Error("nodes outside a form have no required siblings")
	}
}

func TestClickAndNavigate(t *testing.T) {
	p := mustParse(t)
	var submitted bool
	p.On("submit", func(Event) { submitted = true })

	btn, _ := p.ByID("submit")
	if err := btn.Click(); err != nil {
		t.Fatal(err)
	}
	if !submitted {
		t.Error("clicking a submit button should submit its form")
	}

	home, _ := p.ByID("home")
	if err := home.Click(); err != nil {
		t.Fatal(err)
	}
	if p.Location() != "/home" || !p.Terminated() {
		t.Errorf("link click should navigate, location=%q", p.Location())
	}
	if err := btn.Click(); !errors.Is(err, ErrTerminated) {
		t.Errorf("expected ErrTerminated after navigation, got %v", err)
	}
}

func TestBindCatalog(t *testing.T) {
	p := mustParse(t)
	reg := registry.New()
	_ = reg.RegisterAction(registry.Action{ID: "cart"})
	first := reg.RegisterElement("cart", registry.Element{Selector: ".add", Kind: "button", IsVariable: true})
	second := reg.RegisterElement("cart", registry.Element{Selector: ".add", Kind: "button", IsVariable: true})
	reg.RegisterElement("cart", registry.Element{Selector: "#missing", Kind: "button"})

	if n := p.BindCatalog(reg); n != 2 {
		t.Fatalf("expected 2 bound handles, got %d", n)
	}
	h1, _ := reg.Handle("cart", first)
	h2, _ := reg.Handle("cart", second)
	if h1.StableID() != "add-1" || h2.StableID() != "add-2" {
		t.Errorf("variable elements bound out of order: %s, %s", h1.StableID(), h2.StableID())
	}
}
