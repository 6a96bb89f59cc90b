package page

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	htmldom "golang.org/x/net/html"

	"chant/internal/registry"
)

var ErrTerminated = errors.New("page context terminated")

// Event is a synthetic DOM notification raised by a Node mutation.
type Event struct {
	Type  string // input, change, click, submit, focus, navigate
	Node  *Node
	Value string
}

type Listener func(Event)

// Page is an in-memory HTML document that voice steps are executed against.
type Page struct {
	mu         sync.Mutex
	doc        *goquery.Document
	nodes      map[*htmldom.Node]*Node
	listeners  map[string]map[int]Listener
	nextLID    int
	focused    *Node
	location   string
	terminated bool
}

func Open(path string) (*Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return Parse(string(b))
}

func Parse(src string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{
		doc:       doc,
		nodes:     make(map[*htmldom.Node]*Node),
		listeners: make(map[string]map[int]Listener),
	}, nil
}

func (p *Page) wrap(n *htmldom.Node) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.nodes[n]; ok {
		return w
	}
	w := &Node{page: p, sel: goquery.NewDocumentFromNode(n).Selection, raw: n}
	p.nodes[n] = w
	return w
}

// Query returns the live nodes matching a CSS selector in document order.
func (p *Page) Query(selector string) []*Node {
	sel := p.doc.Find(selector)
	out := make([]*Node, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, p.wrap(n))
	}
	return out
}

func (p *Page) ByID(domID string) (*Node, bool) {
	if domID == "" {
		return nil, false
	}
	var found *htmldom.Node
	p.doc.Find("[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if id, _ := s.Attr("id"); id == domID {
			found = s.Nodes[0]
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return p.wrap(found), true
}

// Lookup resolves a stable UI id to a handle.
func (p *Page) Lookup(domID string) (registry.Handle, bool) {
	n, ok := p.ByID(domID)
	if !ok {
		return nil, false
	}
	return n, true
}

// Navigate records a full navigation. The current document stops accepting
// interactions afterwards.
func (p *Page) Navigate(url string) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return ErrTerminated
	}
	p.location = url
	p.terminated = true
	p.mu.Unlock()
	p.emit(Event{Type: "navigate", Value: url})
	return nil
}

func (p *Page) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

// SetLocation records the URL the document was loaded from.
func (p *Page) SetLocation(url string) {
	p.mu.Lock()
	p.location = url
	p.mu.Unlock()
}

func (p *Page) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *Page) Focused() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

// On registers fn for events of the given type ("*" for all) and returns a
// function that removes it.
func (p *Page) On(eventType string, fn Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextLID
	p.nextLID++
	if p.listeners[eventType] == nil {
		p.listeners[eventType] = make(map[int]Listener)
	}
	p.listeners[eventType][id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners[eventType], id)
		p.mu.Unlock()
	}
}

func (p *Page) emit(ev Event) {
	p.mu.Lock()
	var fns []Listener
	for _, key := range []string{ev.Type, "*"} {
		for _, fn := range p.listeners[key] {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Page) HTML() (string, error) {
	var buf bytes.Buffer
	for _, n := range p.doc.Selection.Nodes {
		if err := htmldom.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// BindCatalog binds every registered element of reg to its live node, then
// signals ready. Variable elements of one action sharing a selector bind the
// i-th match in registration order. It returns the number of bound handles.
func (p *Page) BindCatalog(reg *registry.Registry) int {
	bound := 0
	for _, a := range reg.Actions() {
		variableSeen := make(map[string]int)
		for _, el := range reg.Elements(a.ID) {
			if el.Selector == "" {
				continue
			}
			matches := p.Query(el.Selector)
			idx := 0
			if el.IsVariable {
				idx = variableSeen[el.Selector]
				variableSeen[el.Selector]++
			}
			if idx >= len(matches) {
				continue
			}
			reg.BindHandle(a.ID, el.ID, matches[idx])
			bound++
		}
	}
	reg.MarkReady()
	return bound
}
