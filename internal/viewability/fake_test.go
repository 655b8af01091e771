package viewability

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/timeutil"
)

type fakeElement struct {
	attrs  map[string]string
	style  dom.Style
	rect   dom.Rect
	parent *fakeElement
}

func newFakeElement(rect dom.Rect) *fakeElement {
	return &fakeElement{
		attrs: map[string]string{},
		style: dom.Style{Display: "block", Visibility: "visible", Opacity: "1", Transform: "none"},
		rect:  rect,
	}
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
	for ; ok && o != nil; o = o.parent {
		if o == e {
			return true
		}
	}
	return false
}

// fakeDoc resolves every reference to el unless missing is set. Hit tests
// return cover when set, el otherwise.
type fakeDoc struct {
	mu       sync.Mutex
	el       *fakeElement
	missing  bool
	cover    dom.Element
	resolves int
}

func (d *fakeDoc) Resolve(target dom.Target) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolves++
	if target.Element != nil {
		return target.Element, nil
	}
	if d.missing {
		return nil, fmt.Errorf("%w: %s", dom.ErrNotFound, target)
	}
	return d.el, nil
}

func (d *fakeDoc) ElementFromPoint(x, y float64) dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cover != nil {
		return d.cover
	}
	return d.el
}

func (d *fakeDoc) Viewport() dom.Size { return dom.Size{Width: 1280, Height: 800} }

func (d *fakeDoc) setMissing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missing = v
}

// fakeObserver records subscriptions. Samples are pushed with emit and are
// delivered even after Disconnect, the way a late browser callback can be.
type fakeObserver struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
	// onObserve, when set, runs inside Observe before it returns.
	onObserve func(*fakeSub)
}

type fakeSub struct {
	obs          *fakeObserver
	el           dom.Element
	threshold    float64
	fn           func([]dom.Entry)
	disconnected int
}

func (o *fakeObserver) Observe(el dom.Element, threshold float64, fn func([]dom.Entry)) (dom.Subscription, error) {
	o.mu.Lock()
	if o.err != nil {
		o.mu.Unlock()
		return nil, o.err
	}
	s := &fakeSub{obs: o, el: el, threshold: threshold, fn: fn}
	o.subs = append(o.subs, s)
	onObserve := o.onObserve
	o.mu.Unlock()

	if onObserve != nil {
		onObserve(s)
	}
	return s, nil
}

func (s *fakeSub) Disconnect() {
	s.obs.mu.Lock()
	defer s.obs.mu.Unlock()
	s.disconnected++
}

func (s *fakeSub) emit(ratio float64) {
	s.fn([]dom.Entry{{Ratio: ratio, Rect: s.el.Rect()}})
}

// active returns the subscriptions that have not been disconnected.
func (o *fakeObserver) active() []*fakeSub {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*fakeSub
	for _, s := range o.subs {
		if s.disconnected == 0 {
			out = append(out, s)
		}
	}
	return out
}

func (o *fakeObserver) last() *fakeSub {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.subs) == 0 {
		return nil
	}
	return o.subs[len(o.subs)-1]
}

type harness struct {
	t      *testing.T
	el     *fakeElement
	doc    *fakeDoc
	obs    *fakeObserver
	clock  *timeutil.MockClock
	mu     sync.Mutex
	done   int
	errors []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	el := newFakeElement(dom.Rect{X: 100, Y: 100, Width: 300, Height: 250})
	return &harness{
		t:     t,
		el:    el,
		doc:   &fakeDoc{el: el},
		obs:   &fakeObserver{},
		clock: timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) deps() Deps {
	return Deps{Document: h.doc, Observer: h.obs, Clock: h.clock}
}

// track builds a tracker whose option hooks count into the harness.
func (h *harness) track(opts Options) *Tracker {
	if opts.OnComplete == nil {
		opts.OnComplete = h.onComplete
	}
	if opts.OnError == nil {
		opts.OnError = h.onError
	}
	return New(dom.TargetRef("#ad"), opts, h.deps())
}

func (h *harness) onComplete() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done++
}

func (h *harness) onError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
}

func (h *harness) completions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *harness) errs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors...)
}

// sub returns the only active subscription.
func (h *harness) sub() *fakeSub {
	h.t.Helper()
	active := h.obs.active()
	if len(active) != 1 {
		h.t.Fatalf("want 1 active subscription, got %d", len(active))
	}
	return active[0]
}
