package viewability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/monitoring"
	"github.com/banshee-data/viewability/internal/timeutil"
	"github.com/banshee-data/viewability/internal/visibility"
	"github.com/google/uuid"
)

// ErrMissingDeps is dispatched when a tracker is built without a document or
// an observer.
var ErrMissingDeps = errors.New("viewability: document and observer are required")

// State is the tracker's position in the viewability state machine.
type State string

const (
	StateIdle      State = "idle"      // No subscription
	StateObserving State = "observing" // Subscribed, below threshold or not yet sampled
	StateInView    State = "in-view"   // Above threshold, completion timer armed
	StateCompleted State = "completed" // Completion fired; terminal for the hook
)

// Deps are the page collaborators a Tracker consumes.
type Deps struct {
	Document dom.Document
	Observer dom.Observer
	Clock    timeutil.Clock // RealClock when nil
}

// Status is a snapshot of the tracker's lifecycle flags.
type Status struct {
	Started   bool `json:"started"`
	InView    bool `json:"inView"`
	Completed bool `json:"completed"`
	// Verdict is the classifier result for the most recent sample, empty
	// when isVisible is off or no sample has arrived.
	Verdict visibility.Verdict `json:"verdict,omitempty"`
}

// Tracker measures a single element. All methods are safe for concurrent
// use; samples and timer callbacks are handled one at a time.
type Tracker struct {
	ID string

	mu     sync.Mutex
	target dom.Target
	opts   Options
	deps   Deps
	usable bool

	element          dom.Element
	started          bool
	inView           bool
	completed        bool
	verdict          visibility.Verdict
	timer            timeutil.Timer
	timerSeq         uint64
	sub              dom.Subscription
	subscribing      bool
	stopSeq          uint64
	thresholdChecked bool

	// Chainable hooks, consulted when the matching Options hook is nil.
	onComplete func()
	onError    func(error)
}

// New validates opts and returns a tracker for target. When validation
// fails the error is dispatched and the returned tracker is inert: every
// method is a safe no-op. With autostart the tracker starts immediately.
func New(target dom.Target, opts Options, deps Deps) *Tracker {
	t := newTracker(target, opts, deps)
	t.init(opts.Validate())
	return t
}

// NewFromMap is New for an untyped option bag, such as one decoded from a
// JSON or YAML file. Type errors in the bag are dispatched like range errors.
// Hooks may be passed in the bag or set later with OnComplete and OnError.
func NewFromMap(target dom.Target, bag map[string]any, deps Deps) *Tracker {
	opts, err := DecodeOptions(bag)
	if err != nil {
		// Keep any hooks the bag carries so the error reaches them.
		if fn, ok := bag["onError"].(func(error)); ok {
			opts.OnError = fn
		}
	}
	t := newTracker(target, opts, deps)
	t.init(err)
	return t
}

func newTracker(target dom.Target, opts Options, deps Deps) *Tracker {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Tracker{
		ID:     fmt.Sprintf("trk_%s", uuid.NewString()),
		target: target,
		opts:   opts,
		deps:   deps,
	}
}

func (t *Tracker) init(err error) {
	if err == nil && (t.deps.Document == nil || t.deps.Observer == nil) {
		err = ErrMissingDeps
	}
	if err != nil {
		monitoring.Logf("viewability: %s disabled: %v", t.ID, err)
		t.dispatchError(err)
		return
	}
	t.usable = true
	if t.opts.GetAutostart() {
		t.Start()
	}
}

// OnComplete sets the chainable completion hook. It is used only when
// Options.OnComplete is nil.
func (t *Tracker) OnComplete(fn func()) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
	return t
}

// OnError sets the chainable error hook. It is used only when
// Options.OnError is nil.
func (t *Tracker) OnError(fn func(error)) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
	return t
}

// Start subscribes to intersection samples. It is a no-op when the tracker
// is inert or already subscribed. The target is resolved on the first Start
// that finds it; a failed resolution is dispatched and Start may be called
// again later.
func (t *Tracker) Start() {
	t.mu.Lock()
	if !t.usable || t.sub != nil || t.subscribing {
		t.mu.Unlock()
		return
	}

	if t.element == nil {
		el, err := t.deps.Document.Resolve(t.target)
		if err != nil || el == nil {
			t.mu.Unlock()
			t.dispatchError(notFound(t.target, err))
			return
		}
		t.element = el
	}

	if !t.thresholdChecked {
		t.thresholdChecked = true
		if t.opts.GetInViewThreshold() == DefaultInViewThreshold &&
			t.element.Rect().Area() >= LargeElementArea {
			t.opts.InViewThreshold = Float64(LargeInViewThreshold)
			monitoring.Logf("viewability: %s large element, in-view threshold lowered to %.1f", t.ID, LargeInViewThreshold)
		}
	}

	// Observe runs unlocked so an observer may deliver its first batch
	// before returning.
	el, threshold, stopSeq := t.element, t.opts.GetInViewThreshold(), t.stopSeq
	t.subscribing = true
	t.mu.Unlock()

	sub, err := t.deps.Observer.Observe(el, threshold, t.handleEntries)

	t.mu.Lock()
	t.subscribing = false
	if err != nil {
		t.mu.Unlock()
		t.dispatchError(fmt.Errorf("%w: %v", ErrSubscribe, err))
		return
	}
	if t.stopSeq != stopSeq {
		// Stopped, or completed with autostop, while subscribing.
		t.mu.Unlock()
		sub.Disconnect()
		return
	}
	t.sub = sub
	t.mu.Unlock()
	monitoring.Logf("viewability: %s observing %s at threshold %.2f", t.ID, t.target, threshold)
}

// Stop disconnects the subscription and cancels any pending completion. It
// may be called any number of times, before or after Start. Completion is
// never reset.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.stopSeq++
	t.cancelTimer()
	t.inView = false
	t.mu.Unlock()

	if sub != nil {
		sub.Disconnect()
	}
}

// handleEntries is the observer callback. Only the first entry of a batch is
// used.
func (t *Tracker) handleEntries(entries []dom.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(entries) == 0 || (t.sub == nil && !t.subscribing) {
		return
	}
	entry := entries[0]

	if t.opts.GetIsVisible() {
		t.verdict = visibility.Classify(t.deps.Document, t.element, entry.Rect, t.opts.GetCoverageThreshold())
		if t.verdict != visibility.Visible {
			return
		}
	}

	threshold := t.opts.GetInViewThreshold()
	switch {
	case entry.Ratio < threshold && t.started && t.inView:
		t.inView = false
		t.cancelTimer()
	case entry.Ratio >= threshold && !t.inView:
		t.started = true
		t.inView = true
		// Completed trackers keep following transitions but never re-arm.
		if !t.completed {
			t.armTimer()
		}
	}
}

// armTimer replaces any pending completion timer. Requires t.mu.
func (t *Tracker) armTimer() {
	t.cancelTimer()
	seq := t.timerSeq
	t.timer = t.deps.Clock.AfterFunc(t.opts.GetTimeInView(), func() {
		t.complete(seq)
	})
}

// cancelTimer stops the pending timer. Bumping timerSeq discards a callback
// already in flight. Requires t.mu.
func (t *Tracker) cancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerSeq++
}

func (t *Tracker) complete(seq uint64) {
	t.mu.Lock()
	if seq != t.timerSeq || t.timer == nil || t.completed {
		t.mu.Unlock()
		return
	}
	t.completed = true
	t.timer = nil

	hook := t.opts.OnComplete
	if hook == nil {
		hook = t.onComplete
	}
	var sub dom.Subscription
	if t.opts.GetAutostop() {
		sub = t.sub
		t.sub = nil
		t.stopSeq++
	}
	t.mu.Unlock()

	monitoring.Logf("viewability: %s completed", t.ID)
	if hook != nil {
		hook()
	}
	if sub != nil {
		sub.Disconnect()
	}
}

// Status returns the tracker's lifecycle flags.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Started:   t.started,
		InView:    t.inView,
		Completed: t.completed,
		Verdict:   t.verdict,
	}
}

// Started reports whether a qualifying in-view transition has occurred.
func (t *Tracker) Started() bool { return t.Status().Started }

// InView reports the current debounced in-view state.
func (t *Tracker) InView() bool { return t.Status().InView }

// Completed reports whether the completion hook has fired.
func (t *Tracker) Completed() bool { return t.Status().Completed }

// State returns the tracker's state machine position.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.completed:
		return StateCompleted
	case t.inView && t.timer != nil:
		return StateInView
	case t.sub != nil:
		return StateObserving
	}
	return StateIdle
}

// Element returns the resolved element, or nil before resolution.
func (t *Tracker) Element() dom.Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.element
}

// InViewThreshold returns the effective in-view threshold, including the
// large-element adjustment once it has been applied.
func (t *Tracker) InViewThreshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts.GetInViewThreshold()
}

// Observing reports whether the tracker holds an active subscription.
func (t *Tracker) Observing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sub != nil
}

// TimerPending reports whether a completion timer is armed.
func (t *Tracker) TimerPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
