package page

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	htmldom "golang.org/x/net/html"

	"chant/internal/registry"
)

// Node is the live handle of one DOM element. A Page hands out at most one
// Node per element, so handles compare equal by identity.
type Node struct {
	page *Page
	sel  *goquery.Selection
	raw  *htmldom.Node
}

var _ registry.Handle = (*Node)(nil)

func (n *Node) Tag() string { return strings.ToLower(goquery.NodeName(n.sel)) }

// Kind is the input type for <input>, the tag name otherwise.
func (n *Node) Kind() string {
	if n.Tag() == "input" {
		t := strings.ToLower(strings.TrimSpace(n.attr("type")))
		if t == "" {
			return "text"
		}
		return t
	}
	return n.Tag()
}

func (n *Node) attr(name string) string {
	v, _ := n.sel.Attr(name)
	return v
}

func (n *Node) has(name string) bool {
	_, ok := n.sel.Attr(name)
	return ok
}

func (n *Node) StableID() string { return n.attr("id") }

func (n *Node) Text() string { return strings.TrimSpace(n.sel.Text()) }

// Label returns the accessible name of the node.
func (n *Node) Label() string {
	if v := strings.TrimSpace(n.attr("aria-label")); v != "" {
		return v
	}
	if id := n.StableID(); id != "" {
		for _, l := range n.page.Query("label[for]") {
			if l.attr("for") == id {
				return l.Text()
			}
		}
	}
	if l := n.sel.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text())
	}
	if v := strings.TrimSpace(n.attr("placeholder")); v != "" {
		return v
	}
	if n.Tag() == "button" || n.Tag() == "a" {
		return n.Text()
	}
	return n.attr("name")
}

func (n *Node) Disabled() bool { return n.has("disabled") }

func (n *Node) Required() bool { return n.has("required") }

func (n *Node) checked() bool { return n.has("checked") }

func (n *Node) Value() string {
	switch n.Tag() {
	case "textarea":
		return n.sel.Text()
	case "select":
		opt := n.sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = n.sel.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	}
	switch n.Kind() {
	case "checkbox", "radio":
		if n.checked() {
			if v, ok := n.sel.Attr("value"); ok {
				return v
			}
			return "on"
		}
		return ""
	}
	return n.attr("value")
}

func (n *Node) live() error {
	if n.page.Terminated() {
		return ErrTerminated
	}
	return nil
}

// SetValue writes the underlying attribute directly, then raises input and
// change events so listeners observe the programmatic edit.
func (n *Node) SetValue(value string) error {
	if err := n.live(); err != nil {
		return err
	}
	if n.Disabled() {
		return fmt.Errorf("element %q is disabled", n.describe())
	}
	switch n.Tag() {
	case "textarea":
		n.sel.SetText(value)
	case "select":
		matched := false
		n.sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			v, ok := o.Attr("value")
			if !ok {
				v = strings.TrimSpace(o.Text())
			}
			if !matched && (v == value || strings.EqualFold(strings.TrimSpace(o.Text()), value)) {
				o.SetAttr("selected", "")
				matched = true
				return
			}
			o.RemoveAttr("selected")
		})
		if !matched {
			return fmt.Errorf("select %q has no option %q", n.describe(), value)
		}
	case "input":
		switch n.Kind() {
		case "checkbox", "radio":
			if truthy(value) {
				n.sel.SetAttr("checked", "")
			} else {
				n.sel.RemoveAttr("checked")
			}
		default:
			n.sel.SetAttr("value", value)
		}
	default:
		return fmt.Errorf("element %q (%s) does not hold a value", n.describe(), n.Tag())
	}
	n.page.emit(Event{Type: "input", Node: n, Value: value})
	n.page.emit(Event{Type: "change", Node: n, Value: value})
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "off", "no", "unchecked":
		return false
	}
	return true
}

// Click performs the primary activation of the node.
func (n *Node) Click() error {
	if err := n.live(); err != nil {
		return err
	}
	if n.Disabled() {
		return fmt.Errorf("element %q is disabled", n.describe())
	}
	switch n.Kind() {
	case "checkbox":
		if n.checked() {
			n.sel.RemoveAttr("checked")
		} else {
			n.sel.SetAttr("checked", "")
		}
		n.page.emit(Event{Type: "change", Node: n, Value: n.Value()})
	case "radio":
		n.sel.SetAttr("checked", "")
		n.page.emit(Event{Type: "change", Node: n, Value: n.Value()})
	}
	n.page.emit(Event{Type: "click", Node: n})

	if n.submits() {
		if form := n.sel.Closest("form"); form.Length() > 0 {
			n.page.emit(Event{Type: "submit", Node: n.page.wrap(form.Nodes[0])})
		}
	}
	if n.Tag() == "a" {
		if href := strings.TrimSpace(n.attr("href")); href != "" && !strings.HasPrefix(href, "#") {
			return n.page.Navigate(href)
		}
	}
	return nil
}

func (n *Node) submits() bool {
	switch n.Tag() {
	case "button":
		t := strings.ToLower(n.attr("type"))
		return t == "" || t == "submit"
	case "input":
		return n.Kind() == "submit"
	}
	return false
}

func (n *Node) Focus() error {
	if err := n.live(); err != nil {
		return err
	}
	n.page.mu.Lock()
	n.page.focused = n
	n.page.mu.Unlock()
	n.page.emit(Event{Type: "focus", Node: n})
	return nil
}

// NextInvalidRequired returns the first required control of the enclosing
// form that fails validation. Nodes outside a form have none.
func (n *Node) NextInvalidRequired() (registry.Handle, bool) {
	form := n.sel.Closest("form")
	if form.Length() == 0 {
		return nil, false
	}
	var found *Node
	form.Find("input, textarea, select").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		c := n.page.wrap(s.Nodes[0])
		if !c.Required() {
			return true
		}
		if ok, _ := c.Validity(); !ok {
			found = c
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

func (n *Node) describe() string {
	if id := n.StableID(); id != "" {
		return "#" + id
	}
	if name := n.attr("name"); name != "" {
		return n.Tag() + "[name=" + name + "]"
	}
	return n.Tag()
}
