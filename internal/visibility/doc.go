// Package visibility decides whether an element that intersects the viewport
// is actually perceivable.
//
// IsReallyVisible composes, in order, the hidden attribute, computed CSS
// state, rectangle size, 2-D transform scale, occlusion sampling and the
// ancestor chain into one verdict. IsObscured is the occlusion step on its
// own. Both are pure functions of the document and their inputs.
package visibility
