package planner

import (
	"regexp"
	"strings"
	"time"

	"chant/internal/registry"
)

var (
	emailRe = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	nameRe  = regexp.MustCompile(`(?:my name is|i am|call me)\s+([a-z]+(?:\s+[a-z]+)?)`)
	phoneRe = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ageRe   = regexp.MustCompile(`\b(\d{1,3})\s*(?:years?\s*old|year|age)`)
)

// FallbackValue invents a plausible value for a setValue step that arrived
// without one. It prefers what the transcript says, then a guess from the
// element's label or id, then its input kind. The selector is not consulted:
// attribute names like name= would read as a "name" field.
func FallbackValue(el registry.Element, transcript string, now time.Time) string {
	hint := strings.ToLower(el.Label + " " + el.ID)
	t := strings.ToLower(transcript)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(hint, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("email"):
		if m := emailRe.FindString(t); m != "" {
			return m
		}
		return "user@example.com"
	case has("password"):
		return "password123"
	case has("name"):
		if m := nameRe.FindStringSubmatch(t); m != nil {
			return m[1]
		}
		if has("first") {
			return "John"
		}
		if has("last") {
			return "Doe"
		}
		return "John Doe"
	case has("phone"):
		if m := phoneRe.FindString(t); m != "" {
			return m
		}
		return "+1234567890"
	case has("address"):
		return "123 Main St"
	case has("city"):
		return "New York"
	case has("zip", "postal"):
		return "10001"
	case has("age"):
		if m := ageRe.FindStringSubmatch(t); m != nil {
			return m[1]
		}
		return "25"
	}

	switch strings.ToLower(el.Kind) {
	case "email":
		return "user@example.com"
	case "tel":
		return "+1234567890"
	case "number":
		return "1"
	case "date":
		return now.Format("2006-01-02")
	}
	return "Sample Value"
}
