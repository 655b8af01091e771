package page

import (
	"github.com/banshee-data/viewability/internal/dom"
	"gonum.org/v1/gonum/spatial/r2"
)

// ElementFromPoint returns the topmost element whose layout box contains the
// viewport point (x, y). Elements that are not rendered, have computed
// visibility other than visible, or have pointer-events:none are skipped.
// Paint order is z-index, then document order. Points inside the viewport
// that hit no box return the document element; points outside return nil.
func (p *Page) ElementFromPoint(x, y float64) dom.Element {
	p.mu.Lock()
	defer p.mu.Unlock()

	if x < 0 || y < 0 || x > p.viewport.Width || y > p.viewport.Height {
		return nil
	}
	pt := r2.Vec{X: x, Y: y}

	var top *Element
	topZ := 0
	for _, n := range p.elementNodes() {
		el := p.wrap(n)
		rect, ok := el.viewportRect()
		if !ok || !rect.Contains(pt) {
			continue
		}
		cs := el.computed()
		if cs.Visibility != "visible" || cs.PointerEvents == "none" || !el.rendered() {
			continue
		}
		// Later elements paint over earlier ones at the same z-index.
		if top == nil || cs.ZIndex >= topZ {
			top, topZ = el, cs.ZIndex
		}
	}

	if top == nil {
		top = p.documentElement()
		if top == nil {
			return nil
		}
	}
	return top
}
