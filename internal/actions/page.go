package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"chant/internal/registry"
)

const defaultLimit = 10

func (b *Builtins) pageHandler(operation string) (handler, error) {
	switch operation {
	case "links":
		return b.links, nil
	case "headings":
		return b.headings, nil
	case "missing_fields":
		return b.missingFields, nil
	case "location":
		return func(context.Context, map[string]any) (registry.ExecResult, error) {
			return registry.ExecResult{ResultText: "You are on", UserInfo: []string{b.page.Location()}}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown page operation: %s", operation)
	}
}

func (b *Builtins) document() (*goquery.Document, error) {
	html, err := b.page.HTML()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func absolute(base, href string) string {
	u, err := url.Parse(href)
	if err != nil || href == "" {
		return href
	}
	if u.IsAbs() || base == "" {
		return u.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	return bu.ResolveReference(u).String()
}

// links lists the page's anchors as "text: url", optionally filtered by a
// "contains" payload substring.
func (b *Builtins) links(_ context.Context, payload map[string]any) (registry.ExecResult, error) {
	limit, err := getIntPayload(payload, "limit", defaultLimit)
	if err != nil {
		return registry.ExecResult{}, err
	}
	contains, _ := payload["contains"].(string)
	contains = strings.ToLower(contains)

	doc, err := b.document()
	if err != nil {
		return registry.ExecResult{}, err
	}
	base, _ := payload["base_url"].(string)
	if base == "" {
		base = b.page.Location()
	}

	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		text := strings.Join(strings.Fields(s.Text()), " ")
		if contains != "" && !strings.Contains(strings.ToLower(text), contains) {
			return true
		}
		out = append(out, fmt.Sprintf("%s: %s", text, absolute(base, href)))
		return len(out) < limit
	})
	return registry.ExecResult{ResultText: "Links on this page", UserInfo: out}, nil
}

func (b *Builtins) headings(_ context.Context, _ map[string]any) (registry.ExecResult, error) {
	doc, err := b.document()
	if err != nil {
		return registry.ExecResult{}, err
	}
	var out []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			out = append(out, t)
		}
	})
	return registry.ExecResult{ResultText: "Sections on this page", UserInfo: out}, nil
}

// missingFields reports every required control that would fail validation.
func (b *Builtins) missingFields(_ context.Context, payload map[string]any) (registry.ExecResult, error) {
	scope, _ := payload["form"].(string)
	selector := "input, select, textarea"
	if scope != "" {
		selector = "#" + scope + " input, #" + scope + " select, #" + scope + " textarea"
	}
	var out []string
	for _, n := range b.page.Query(selector) {
		if !n.Required() {
			continue
		}
		if ok, msg := n.Validity(); !ok {
			label := n.Label()
			if label == "" {
				label = n.StableID()
			}
			out = append(out, fmt.Sprintf("%s: %s", label, msg))
		}
	}
	if len(out) == 0 {
		return registry.ExecResult{ResultText: "All required fields are filled in."}, nil
	}
	return registry.ExecResult{ResultText: "Fields that still need input", UserInfo: out}, nil
}
