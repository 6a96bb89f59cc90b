package page

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// willValidate reports whether the node takes part in constraint validation.
func (n *Node) willValidate() bool {
	if n.Disabled() || n.has("readonly") {
		return false
	}
	switch n.Tag() {
	case "textarea", "select":
		return true
	case "input":
		switch n.Kind() {
		case "hidden", "button", "submit", "reset", "image":
			return false
		}
		return true
	}
	return false
}

// Validity evaluates the HTML constraint validation rules for the node and
// returns the browser-style message of the first failing rule.
func (n *Node) Validity() (bool, string) {
	if !n.willValidate() {
		return true, ""
	}
	v := n.Value()

	if n.Required() && v == "" {
		switch {
		case n.Kind() == "checkbox":
			return false, "Please check this box if you want to proceed."
		case n.Kind() == "radio":
			if n.radioGroupChecked() {
				return true, ""
			}
			return false, "Please select one of these options."
		case n.Tag() == "select":
			return false, "Please select an item in the list."
		default:
			return false, "Please fill out this field."
		}
	}
	if v == "" {
		return true, ""
	}

	switch n.Kind() {
	case "email":
		if !strings.Contains(v, "@") {
			return false, fmt.Sprintf("Please include an '@' in the email address. '%s' is missing an '@'.", v)
		}
		if !emailRe.MatchString(v) {
			return false, "Please enter an email address."
		}
	case "url":
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" {
			return false, "Please enter a URL."
		}
	case "number", "range":
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return false, "Please enter a number."
		}
		if minV, ok := n.floatAttr("min"); ok && f < minV {
			return false, fmt.Sprintf("Value must be greater than or equal to %s.", n.attr("min"))
		}
		if maxV, ok := n.floatAttr("max"); ok && f > maxV {
			return false, fmt.Sprintf("Value must be less than or equal to %s.", n.attr("max"))
		}
	}

	if minLen, ok := n.intAttr("minlength"); ok {
		if l := utf8.RuneCountInString(v); l < minLen {
			return false, fmt.Sprintf("Please lengthen this text to %d characters or more (you are currently using %d characters).", minLen, l)
		}
	}
	if pattern := n.attr("pattern"); pattern != "" && n.Tag() == "input" {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err == nil && !re.MatchString(v) {
			if title := n.attr("title"); title != "" {
				return false, "Please match the requested format: " + title
			}
			return false, "Please match the requested format."
		}
	}
	return true, ""
}

func (n *Node) radioGroupChecked() bool {
	name := n.attr("name")
	if name == "" {
		return n.checked()
	}
	scope := n.sel.Closest("form")
	if scope.Length() == 0 {
		scope = n.page.doc.Selection
	}
	checked := false
	scope.Find(`input[type="radio"][checked]`).Each(func(_ int, s *goquery.Selection) {
		if v, _ := s.Attr("name"); v == name {
			checked = true
		}
	})
	return checked
}

func (n *Node) intAttr(name string) (int, bool) {
	raw := strings.TrimSpace(n.attr(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (n *Node) floatAttr(name string) (float64, bool) {
	raw := strings.TrimSpace(n.attr(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
