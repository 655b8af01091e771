package dom

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrNotFound is returned by a Document when a target does not resolve to an
// element.
var ErrNotFound = errors.New("element not found")

// Rect is an axis-aligned rectangle in viewport coordinates. X and Y are the
// left and top edges.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Area returns the rectangle's area.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// At returns the point at the given fractions of the rectangle's width and
// height, measured from the top-left corner.
func (r Rect) At(fx, fy float64) r2.Vec {
	return r2.Vec{X: r.X + r.Width*fx, Y: r.Y + r.Height*fy}
}

// Contains reports whether p lies inside the rectangle. The left and top
// edges are inclusive, the right and bottom edges exclusive.
func (r Rect) Contains(p r2.Vec) bool {
	return p.X >= r.X && p.X < r.Right() && p.Y >= r.Y && p.Y < r.Bottom()
}

// Intersect returns the overlap of r and o, or the zero Rect when they do not
// overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := math.Max(r.X, o.X)
	y0 := math.Max(r.Y, o.Y)
	x1 := math.Min(r.Right(), o.Right())
	y1 := math.Min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Offset returns r moved by (dx, dy).
func (r Rect) Offset(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// ParseRect parses "x y width height"; commas may separate the values.
func ParseRect(s string) (Rect, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) != 4 {
		return Rect{}, errors.New("rect needs four values: x y width height")
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSuffix(f, "px"), 64)
		if err != nil {
			return Rect{}, err
		}
		v[i] = n
	}
	if v[2] < 0 || v[3] < 0 {
		return Rect{}, errors.New("rect width and height must be non-negative")
	}
	return Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// Size is a viewport size.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Style is the subset of an element's computed style the classifier reads.
// Values are CSS text as a computed-style reader reports them.
type Style struct {
	Display    string
	Visibility string
	Opacity    string
	Transform  string
}

// Element is a node in a rendered document.
type Element interface {
	// Attr returns the named attribute and whether it is present.
	Attr(name string) (string, bool)
	// Style returns the element's current computed style.
	Style() Style
	// Rect returns the element's bounding rectangle in viewport coordinates.
	Rect() Rect
	// Parent returns the parent element, or nil at the document root.
	Parent() Element
	// Contains reports whether other is this element or one of its
	// descendants.
	Contains(other Element) bool
}

// Target names the element a tracker measures: either a reference string
// (an element id or a selector) or an element already in hand.
type Target struct {
	Ref     string
	Element Element
}

// TargetRef returns a Target resolved by id or selector.
func TargetRef(ref string) Target { return Target{Ref: ref} }

// TargetElement returns a Target for an element reference.
func TargetElement(el Element) Target { return Target{Element: el} }

// String describes the target for logs and errors.
func (t Target) String() string {
	if t.Element != nil {
		return "<element>"
	}
	return strconv.Quote(t.Ref)
}

// Document is the page an element lives in.
type Document interface {
	// Resolve returns the element named by target. When several elements
	// match a selector the first in document order wins. It returns an
	// error wrapping ErrNotFound when nothing matches.
	Resolve(target Target) (Element, error)
	// ElementFromPoint returns the topmost element at viewport point
	// (x, y), or nil when nothing is there.
	ElementFromPoint(x, y float64) Element
	// Viewport returns the current viewport size.
	Viewport() Size
}

// Entry is one intersection sample: the visible fraction of the element and
// its bounding rectangle at the moment the sample was taken.
type Entry struct {
	Ratio float64
	Rect  Rect
}

// Observer is a viewport-intersection signal source.
type Observer interface {
	// Observe subscribes fn to intersection changes of el around the given
	// ratio threshold. The first batch may be delivered before Observe
	// returns.
	Observe(el Element, threshold float64, fn func([]Entry)) (Subscription, error)
}

// Subscription is an active Observe registration.
type Subscription interface {
	// Disconnect stops delivery. It is safe to call more than once.
	Disconnect()
}
