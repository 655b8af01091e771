package visibility

import (
	"strconv"
	"strings"

	"github.com/banshee-data/viewability/internal/dom"
)

// Verdict is the outcome of classifying an element. Every value other than
// Visible names the first check that failed.
type Verdict string

const (
	Visible          Verdict = "visible"
	NoElement        Verdict = "no-element"
	HiddenAttribute  Verdict = "hidden-attribute"
	DisplayNone      Verdict = "display-none"
	VisibilityHidden Verdict = "visibility-hidden"
	Transparent      Verdict = "transparent"
	ZeroSize         Verdict = "zero-size"
	ZeroScale        Verdict = "zero-scale"
	Obscured         Verdict = "obscured"
	HiddenAncestor   Verdict = "hidden-ancestor"
)

// Classify runs the visibility checks against el laid out at rect and
// returns the first failing check, or Visible. Style is read live from the
// element; rect is taken as given because it belongs to the intersection
// sample being judged.
func Classify(doc dom.Document, el dom.Element, rect dom.Rect, coverageThreshold float64) Verdict {
	if el == nil {
		return NoElement
	}
	if _, ok := el.Attr("hidden"); ok {
		return HiddenAttribute
	}

	style := el.Style()
	if v := styleVerdict(style); v != Visible {
		return v
	}
	if isZeroOpacity(style.Opacity) {
		return Transparent
	}
	if rect.Width == 0 || rect.Height == 0 {
		return ZeroSize
	}
	if sx, sy := ParseTransform(style.Transform).Scale(); sx == 0 || sy == 0 {
		return ZeroScale
	}
	if IsObscured(doc, el, rect, coverageThreshold) {
		return Obscured
	}

	for p := el.Parent(); p != nil; p = p.Parent() {
		if styleVerdict(p.Style()) != Visible {
			return HiddenAncestor
		}
	}
	return Visible
}

// IsReallyVisible reports whether el is genuinely perceivable at rect.
func IsReallyVisible(doc dom.Document, el dom.Element, rect dom.Rect, coverageThreshold float64) bool {
	return Classify(doc, el, rect, coverageThreshold) == Visible
}

func styleVerdict(s dom.Style) Verdict {
	if strings.TrimSpace(s.Display) == "none" {
		return DisplayNone
	}
	switch strings.TrimSpace(s.Visibility) {
	case "hidden", "collapse":
		return VisibilityHidden
	}
	return Visible
}

func isZeroOpacity(opacity string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(opacity), 64)
	return err == nil && v == 0
}
