// Package page is a static, in-memory implementation of the dom interfaces.
//
// A Page is parsed from HTML. Layout is authored rather than computed: each
// element that occupies space carries a data-rect="x y width height"
// attribute in document coordinates, or viewport coordinates for elements
// styled position:fixed. Computed style comes from inline style
// declarations and the hidden attribute. The page keeps a viewport size and
// scroll offset, hit-tests points in paint order and acts as an intersection
// observer whose samples are delivered on Notify.
package page

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/banshee-data/viewability/internal/dom"
	"golang.org/x/net/html"
)

// ErrForeignElement is returned when an element from another page (or
// another dom implementation) is passed to a Page.
var ErrForeignElement = errors.New("page: element does not belong to this page")

// Page is a parsed document with a viewport.
type Page struct {
	mu       sync.Mutex
	root     *html.Node
	elements map[*html.Node]*Element
	viewport dom.Size
	scrollX  float64
	scrollY  float64

	subs     map[string]*subscription
	subOrder []string
}

// Parse reads an HTML document.
func Parse(r io.Reader, viewport dom.Size) (*Page, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return &Page{
		root:     root,
		elements: make(map[*html.Node]*Element),
		viewport: viewport,
		subs:     make(map[string]*subscription),
	}, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(doc string, viewport dom.Size) (*Page, error) {
	return Parse(strings.NewReader(doc), viewport)
}

// wrap returns the canonical Element for n. Requires p.mu.
func (p *Page) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	if el, ok := p.elements[n]; ok {
		return el
	}
	el := &Element{page: p, node: n}
	p.elements[n] = el
	return el
}

// own returns el as an Element of this page.
func (p *Page) own(el dom.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.page != p {
		return nil, ErrForeignElement
	}
	return e, nil
}

// Viewport returns the current viewport size.
func (p *Page) Viewport() dom.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// SetViewport resizes the viewport.
func (p *Page) SetViewport(size dom.Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = size
}

// ScrollTo sets the document scroll offset.
func (p *Page) ScrollTo(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollX, p.scrollY = x, y
}

// Scroll returns the document scroll offset.
func (p *Page) Scroll() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY
}

// Resolve finds the element named by target. A direct element must belong
// to this page. A reference starting with '#' is an id; one starting with
// '/' or '(' is an XPath expression; anything else is tried as an id and
// then as an XPath expression. The first match in document order wins.
func (p *Page) Resolve(target dom.Target) (dom.Element, error) {
	if target.Element != nil {
		el, err := p.own(target.Element)
		if err != nil {
			return nil, err
		}
		return el, nil
	}

	ref := strings.TrimSpace(target.Ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", dom.ErrNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var node *html.Node
	var err error
	switch {
	case strings.HasPrefix(ref, "#"):
		node, err = p.queryID(ref[1:])
	case strings.HasPrefix(ref, "/"), strings.HasPrefix(ref, "("):
		node, err = htmlquery.Query(p.root, ref)
	default:
		node, err = p.queryID(ref)
		if err == nil && node == nil {
			// Not an id; the reference may still be a relative XPath.
			node, _ = htmlquery.Query(p.root, ref)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	if node == nil || node.Type != html.ElementNode {
		return nil, fmt.Errorf("%w: %q", dom.ErrNotFound, ref)
	}
	return p.wrap(node), nil
}

// ElementByID returns the element with the given id, or nil.
func (p *Page) ElementByID(id string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	node, err := p.queryID(id)
	if err != nil || node == nil {
		return nil
	}
	return p.wrap(node)
}

// queryID requires p.mu.
func (p *Page) queryID(id string) (*html.Node, error) {
	return htmlquery.Query(p.root, "//*[@id="+xpathLiteral(id)+"]")
}

// xpathLiteral quotes s as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// elementNodes returns every element node in document order. Requires p.mu.
func (p *Page) elementNodes() []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.root)
	return out
}

// documentElement returns the <html> element. Requires p.mu.
func (p *Page) documentElement() *Element {
	for c := p.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return p.wrap(c)
		}
	}
	return nil
}

// SetRect moves el to rect in document coordinates.
func (p *Page) SetRect(el dom.Element, rect dom.Rect) error {
	e, err := p.own(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	setAttr(e.node, rectAttr, fmt.Sprintf("%g %g %g %g", rect.X, rect.Y, rect.Width, rect.Height))
	return nil
}

// SetStyle sets one inline style property on el. An empty value removes it.
func (p *Page) SetStyle(el dom.Element, property, value string) error {
	e, err := p.own(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	decls := parseDeclarations(attr(e.node, "style"))
	property = strings.ToLower(strings.TrimSpace(property))
	if value == "" {
		decls.remove(property)
	} else {
		decls.set(property, value)
	}
	setAttr(e.node, "style", decls.String())
	return nil
}

// SetAttr sets an attribute on el.
func (p *Page) SetAttr(el dom.Element, name, value string) error {
	e, err := p.own(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	setAttr(e.node, name, value)
	return nil
}

// RemoveAttr removes an attribute from el.
func (p *Page) RemoveAttr(el dom.Element, name string) error {
	e, err := p.own(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	removeAttr(e.node, name)
	return nil
}

// Append parses fragment and appends the resulting elements to parent. It
// lets a page grow elements after load, the way ads are injected late.
func (p *Page) Append(parent dom.Element, fragment string) error {
	e, err := p.own(parent)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), e.node)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
