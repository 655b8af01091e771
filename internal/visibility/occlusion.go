package visibility

import (
	"github.com/banshee-data/viewability/internal/dom"
	"gonum.org/v1/gonum/spatial/r2"
)

// cornerInset keeps corner samples off the element's own edges, where hit
// testing may land on a neighbour.
const cornerInset = 1.0

// SamplePoints returns the nine points the occlusion check hit-tests, in
// evaluation order: the center, the four quarter points, then the four
// corners inset by one unit.
func SamplePoints(r dom.Rect) []r2.Vec {
	return []r2.Vec{
		r.At(0.5, 0.5),
		r.At(0.25, 0.25),
		r.At(0.75, 0.25),
		r.At(0.25, 0.75),
		r.At(0.75, 0.75),
		r2.Add(r.At(0, 0), r2.Vec{X: cornerInset, Y: cornerInset}),
		r2.Add(r.At(1, 0), r2.Vec{X: -cornerInset, Y: cornerInset}),
		r2.Add(r.At(0, 1), r2.Vec{X: cornerInset, Y: -cornerInset}),
		r2.Add(r.At(1, 1), r2.Vec{X: -cornerInset, Y: -cornerInset}),
	}
}

// IsObscured reports whether el, laid out at rect, is covered by other
// elements on at least threshold of the sample points.
//
// A sample point outside the viewport makes the whole check indeterminate and
// the element is reported as not obscured.
func IsObscured(doc dom.Document, el dom.Element, rect dom.Rect, threshold float64) bool {
	vp := doc.Viewport()
	covered, considered := 0, 0
	for _, p := range SamplePoints(rect) {
		if p.X < 0 || p.Y < 0 || p.X > vp.Width || p.Y > vp.Height {
			return false
		}
		considered++
		if top := doc.ElementFromPoint(p.X, p.Y); top == nil || !el.Contains(top) {
			covered++
		}
	}
	return float64(covered)/float64(considered) >= threshold
}
