package page

import (
	"strconv"
	"strings"

	"github.com/banshee-data/viewability/internal/dom"
	"golang.org/x/net/html"
)

// rectAttr carries an element's layout box in document coordinates.
const rectAttr = "data-rect"

// Element is an element node of a Page. Each node has exactly one Element,
// so Elements compare equal with ==.
type Element struct {
	page *Page
	node *html.Node
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string { return e.node.Data }

// ID returns the id attribute.
func (e *Element) ID() string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return attr(e.node, "id")
}

// Attr returns the named attribute and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return lookupAttr(e.node, name)
}

// Style returns the element's computed style.
func (e *Element) Style() dom.Style {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.computed().Style
}

// Rect returns the element's bounding rectangle in viewport coordinates.
// Elements without a data-rect have an empty rectangle at the origin.
func (e *Element) Rect() dom.Rect {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	r, _ := e.viewportRect()
	return r
}

// Parent returns the parent element, or nil for the document element.
func (e *Element) Parent() dom.Element {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if p := e.parent(); p != nil {
		return p
	}
	return nil
}

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other dom.Element) bool {
	o, ok := other.(*Element)
	if !ok || o == nil || o.page != e.page {
		return false
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	for n := o.node; n != nil; n = n.Parent {
		if n == e.node {
			return true
		}
	}
	return false
}

// String describes the element for logs.
func (e *Element) String() string {
	id, _ := e.Attr("id")
	if id != "" {
		return e.node.Data + "#" + id
	}
	return e.node.Data
}

// parent requires page.mu.
func (e *Element) parent() *Element {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return e.page.wrap(n)
		}
	}
	return nil
}

// viewportRect returns the layout box shifted by the scroll offset and
// whether the element has one. A position:fixed box is already in viewport
// coordinates and does not scroll. Requires page.mu.
func (e *Element) viewportRect() (dom.Rect, bool) {
	v, ok := lookupAttr(e.node, rectAttr)
	if !ok {
		return dom.Rect{}, false
	}
	r, err := dom.ParseRect(v)
	if err != nil {
		return dom.Rect{}, false
	}
	if parseDeclarations(attr(e.node, "style")).keyword("position") == "fixed" {
		return r, true
	}
	return r.Offset(-e.page.scrollX, -e.page.scrollY), true
}

// computedStyle is the element's style plus the properties only hit testing
// needs.
type computedStyle struct {
	dom.Style
	PointerEvents string
	ZIndex        int
}

// computed resolves the element's style. display, opacity and transform
// come from the element alone; visibility and pointer-events inherit.
// Requires page.mu.
func (e *Element) computed() computedStyle {
	decls := parseDeclarations(attr(e.node, "style"))

	var cs computedStyle
	cs.Display = decls.keyword("display")
	if cs.Display == "" {
		if _, hidden := lookupAttr(e.node, "hidden"); hidden {
			cs.Display = "none"
		} else {
			cs.Display = defaultDisplay(e.node.Data)
		}
	}

	cs.Opacity = decls.get("opacity")
	if cs.Opacity == "" {
		cs.Opacity = "1"
	}
	cs.Transform = decls.get("transform")
	if cs.Transform == "" {
		cs.Transform = "none"
	}

	cs.Visibility = decls.keyword("visibility")
	cs.PointerEvents = decls.keyword("pointer-events")
	if cs.Visibility == "" || cs.Visibility == "inherit" || cs.PointerEvents == "" || cs.PointerEvents == "inherit" {
		parentVisibility, parentPointer := "visible", "auto"
		if p := e.parent(); p != nil {
			pcs := p.computed()
			parentVisibility, parentPointer = pcs.Visibility, pcs.PointerEvents
		}
		if cs.Visibility == "" || cs.Visibility == "inherit" {
			cs.Visibility = parentVisibility
		}
		if cs.PointerEvents == "" || cs.PointerEvents == "inherit" {
			cs.PointerEvents = parentPointer
		}
	}

	if z, err := strconv.Atoi(decls.get("z-index")); err == nil {
		cs.ZIndex = z
	}
	return cs
}

// rendered reports whether neither the element nor an ancestor has
// display:none. Requires page.mu.
func (e *Element) rendered() bool {
	for el := e; el != nil; el = el.parent() {
		if el.computed().Display == "none" {
			return false
		}
	}
	return true
}

var inlineTags = map[string]bool{
	"a": true, "b": true, "em": true, "i": true, "img": true, "span": true,
	"strong": true, "iframe": true, "video": true, "canvas": true,
}

func defaultDisplay(tag string) string {
	switch {
	case tag == "head" || tag == "script" || tag == "style" || tag == "template":
		return "none"
	case inlineTags[tag]:
		return "inline"
	}
	return "block"
}

// declarations is an ordered list of inline style declarations.
type declarations []declaration

type declaration struct {
	property string
	value    string
}

func parseDeclarations(style string) declarations {
	var out declarations
	for _, part := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		if prop == "" || value == "" {
			continue
		}
		out.set(prop, value)
	}
	return out
}

func (d declarations) get(property string) string {
	for _, decl := range d {
		if decl.property == property {
			return decl.value
		}
	}
	return ""
}

// keyword returns a property value lower-cased for keyword comparison.
func (d declarations) keyword(property string) string {
	return strings.ToLower(d.get(property))
}

func (d *declarations) set(property, value string) {
	for i := range *d {
		if (*d)[i].property == property {
			(*d)[i].value = value
			return
		}
	}
	*d = append(*d, declaration{property: property, value: value})
}

func (d *declarations) remove(property string) {
	out := (*d)[:0]
	for _, decl := range *d {
		if decl.property != property {
			out = append(out, decl)
		}
	}
	*d = out
}

// String formats the declarations as a style attribute value.
func (d declarations) String() string {
	parts := make([]string, len(d))
	for i, decl := range d {
		parts[i] = decl.property + ": " + decl.value
	}
	return strings.Join(parts, "; ")
}
