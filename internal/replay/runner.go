package replay

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/monitoring"
	"github.com/banshee-data/viewability/internal/page"
	"github.com/banshee-data/viewability/internal/timeutil"
	"github.com/banshee-data/viewability/internal/viewability"
)

// Event is one timeline entry, recorded after every step and at completion.
type Event struct {
	AtMs   int64              `json:"at"`
	Action string             `json:"action"`
	State  viewability.State  `json:"state"`
	Status viewability.Status `json:"status"`
	// Ratio is the target's intersection ratio at the time of the event.
	Ratio float64 `json:"ratio"`
}

// Event actions that do not come from steps.
const (
	EventInit     = "init"
	EventComplete = "complete"
	EventEnd      = "end"
)

// Result is the outcome of one run.
type Result struct {
	Name            string   `json:"name"`
	TrackerID       string   `json:"trackerId"`
	InViewThreshold float64  `json:"inViewThreshold"`
	Completed       bool     `json:"completed"`
	CompletedAtMs   *int64   `json:"completedAt,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	Timeline        []Event  `json:"timeline"`
	// Failures lists unmet expectations.
	Failures []string `json:"failures,omitempty"`
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// epoch is the mock clock's start time. Only offsets from it are reported.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type runner struct {
	trace   *Trace
	page    *page.Page
	clock   *timeutil.MockClock
	tracker *viewability.Tracker

	mu  sync.Mutex
	res *Result
}

// RunFile loads the trace at path and runs it.
func RunFile(ctx context.Context, path string) (*Result, error) {
	tr, err := LoadTrace(path)
	if err != nil {
		return nil, err
	}
	return Run(ctx, tr)
}

// Run plays tr and returns what the tracker did. Step failures, such as a
// step naming an element the page does not have, abort the run. Tracker
// errors are part of the result.
func Run(ctx context.Context, tr *Trace) (*Result, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	pg, err := openPage(tr)
	if err != nil {
		return nil, err
	}

	r := &runner{
		trace: tr,
		page:  pg,
		clock: timeutil.NewMockClock(epoch),
		res:   &Result{Name: tr.Name},
	}

	bag := make(map[string]any, len(tr.Options)+2)
	for k, v := range tr.Options {
		bag[k] = v
	}
	bag["onComplete"] = r.onComplete
	bag["onError"] = r.onError

	r.tracker = viewability.NewFromMap(dom.TargetRef(tr.Target), bag, viewability.Deps{
		Document: pg,
		Observer: pg,
		Clock:    r.clock,
	})
	r.res.TrackerID = r.tracker.ID
	monitoring.Logf("replay: %s: tracker %s on %q, %d steps", tr.Name, r.tracker.ID, tr.Target, len(tr.Steps))

	pg.Notify()
	r.record(EventInit)

	for i, step := range tr.orderedSteps() {
		if err := ctx.Err(); err != nil {
			r.tracker.Stop()
			return nil, err
		}
		r.advanceTo(step.AtMs)
		if err := r.apply(step); err != nil {
			r.tracker.Stop()
			return nil, fmt.Errorf("step %d (%s at %dms): %w", i, step.Action, step.AtMs, err)
		}
		if step.Action == ActionResample {
			pg.NotifyAll()
		} else {
			pg.Notify()
		}
		r.record(string(step.Action))
	}

	r.advanceTo(tr.end())
	r.record(EventEnd)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.InViewThreshold = r.tracker.InViewThreshold()
	r.res.Completed = r.tracker.Completed()
	r.tracker.Stop()
	r.res.Failures = tr.Expect.check(r.res)
	return r.res, nil
}

func openPage(tr *Trace) (*page.Page, error) {
	if tr.HTML != "" {
		return page.ParseString(tr.HTML, tr.Viewport)
	}
	f, err := os.Open(tr.HTMLFile)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return page.Parse(f, tr.Viewport)
}

func (r *runner) elapsedMs() int64 {
	return r.clock.Since(epoch).Milliseconds()
}

// advanceTo moves the clock to ms into the session, firing due timers.
func (r *runner) advanceTo(ms int64) {
	target := epoch.Add(time.Duration(ms) * time.Millisecond)
	if d := target.Sub(r.clock.Now()); d >= 0 {
		r.clock.Advance(d)
	}
}

func (r *runner) apply(step Step) error {
	switch step.Action {
	case ActionScroll:
		r.page.ScrollTo(step.X, step.Y)
		return nil
	case ActionResize:
		r.page.SetViewport(*step.Viewport)
		return nil
	case ActionStart:
		r.tracker.Start()
		return nil
	case ActionStop:
		r.tracker.Stop()
		return nil
	case ActionResample, ActionWait:
		return nil
	}

	ref := step.Target
	if ref == "" {
		ref = r.trace.Target
		if step.Action == ActionAppend {
			ref = "//body"
		}
	}
	el, err := r.page.Resolve(dom.TargetRef(ref))
	if err != nil {
		return err
	}

	switch step.Action {
	case ActionRect:
		return r.page.SetRect(el, *step.Rect)
	case ActionStyle:
		return r.page.SetStyle(el, step.Property, step.Value)
	case ActionAttr:
		return r.page.SetAttr(el, step.Name, step.Value)
	case ActionRemoveAttr:
		return r.page.RemoveAttr(el, step.Name)
	case ActionAppend:
		return r.page.Append(el, step.HTML)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

func (r *runner) record(action string) {
	ev := Event{
		AtMs:   r.elapsedMs(),
		Action: action,
		State:  r.tracker.State(),
		Status: r.tracker.Status(),
	}
	if el := r.tracker.Element(); el != nil {
		if entry, err := r.page.Sample(el); err == nil {
			ev.Ratio = entry.Ratio
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.Timeline = append(r.res.Timeline, ev)
}

func (r *runner) onComplete() {
	at := r.elapsedMs()
	monitoring.Logf("replay: %s: completed at %dms", r.trace.Name, at)

	r.mu.Lock()
	r.res.CompletedAtMs = &at
	r.mu.Unlock()

	r.record(EventComplete)
}

func (r *runner) onError(err error) {
	monitoring.Logf("replay: %s: tracker error: %v", r.trace.Name, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.Errors = append(r.res.Errors, err.Error())
}

func (e *Expectation) check(res *Result) []string {
	if e == nil {
		return nil
	}
	var failures []string
	if e.Completed != nil && *e.Completed != res.Completed {
		failures = append(failures, fmt.Sprintf("completed: want %t, got %t", *e.Completed, res.Completed))
	}
	if e.CompletedAt != nil {
		switch {
		case res.CompletedAtMs == nil:
			failures = append(failures, fmt.Sprintf("completedAt: want %dms, never completed", *e.CompletedAt))
		case *res.CompletedAtMs != *e.CompletedAt:
			failures = append(failures, fmt.Sprintf("completedAt: want %dms, got %dms", *e.CompletedAt, *res.CompletedAtMs))
		}
	}
	if e.Errors != nil && *e.Errors != len(res.Errors) {
		failures = append(failures, fmt.Sprintf("errors: want %d, got %d", *e.Errors, len(res.Errors)))
	}
	return failures
}
