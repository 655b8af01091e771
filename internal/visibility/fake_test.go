package visibility

import "github.com/banshee-data/viewability/internal/dom"

type fakeElement struct {
	name   string
	attrs  map[string]string
	style  dom.Style
	rect   dom.Rect
	parent *fakeElement
}

func (e *fakeElement) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeElement) Style() dom.Style { return e.style }
func (e *fakeElement) Rect() dom.Rect   { return e.rect }

func (e *fakeElement) Parent() dom.Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *fakeElement) Contains(other dom.Element) bool {
	o, ok := other.(*fakeElement)
	if !ok {
		return false
	}
	for ; o != nil; o = o.parent {
		if o == e {
			return true
		}
	}
	return false
}

// fakeDoc answers hit tests from a function and records the points asked.
type fakeDoc struct {
	viewport dom.Size
	hit      func(x, y float64) dom.Element
	queries  int
}

func (d *fakeDoc) Resolve(dom.Target) (dom.Element, error) { return nil, dom.ErrNotFound }
func (d *fakeDoc) Viewport() dom.Size                      { return d.viewport }

func (d *fakeDoc) ElementFromPoint(x, y float64) dom.Element {
	d.queries++
	if d.hit == nil {
		return nil
	}
	return d.hit(x, y)
}

// newScene builds root > body > el with el laid out at rect and a viewport
// large enough to hold it. Every hit test returns el.
func newScene(rect dom.Rect) (*fakeDoc, *fakeElement) {
	root := &fakeElement{name: "html", style: dom.Style{Display: "block", Visibility: "visible", Opacity: "1"}}
	body := &fakeElement{name: "body", parent: root, style: dom.Style{Display: "block", Visibility: "visible", Opacity: "1"}}
	el := &fakeElement{
		name:   "ad",
		parent: body,
		rect:   rect,
		style:  dom.Style{Display: "block", Visibility: "visible", Opacity: "1", Transform: "none"},
	}
	doc := &fakeDoc{
		viewport: dom.Size{Width: 1024, Height: 768},
		hit:      func(x, y float64) dom.Element { return el },
	}
	return doc, el
}
