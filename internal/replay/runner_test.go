package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/monitoring"
	"github.com/banshee-data/viewability/internal/security"
	"github.com/banshee-data/viewability/internal/viewability"
	"github.com/banshee-data/viewability/internal/visibility"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

const articleHTML = `<html><body data-rect="0 0 1280 3000">
  <div id="ad" data-rect="100 1200 300 250"></div>
  <div id="overlay" style="position: fixed; display: none; z-index: 5" data-rect="0 0 1280 800"></div>
</body></html>`

func newTrace(steps ...Step) *Trace {
	return &Trace{
		Name:       "article",
		HTML:       articleHTML,
		Viewport:   dom.Size{Width: 1280, Height: 800},
		Target:     "#ad",
		Steps:      steps,
		DurationMs: 3000,
	}
}

func ptr[T any](v T) *T { return &v }

func run(t *testing.T, tr *Trace) *Result {
	t.Helper()
	res, err := Run(context.Background(), tr)
	require.NoError(t, err)
	return res
}

func TestRun_ScrollIntoView(t *testing.T) {
	res := run(t, newTrace(Step{AtMs: 500, Action: ActionScroll, Y: 1000}))

	visible := visibility.Visible
	want := []Event{
		{AtMs: 0, Action: EventInit, State: viewability.StateObserving,
			Status: viewability.Status{Verdict: visible}},
		{AtMs: 500, Action: "scroll", State: viewability.StateInView, Ratio: 1,
			Status: viewability.Status{Started: true, InView: true, Verdict: visible}},
		{AtMs: 1500, Action: EventComplete, State: viewability.StateCompleted, Ratio: 1,
			Status: viewability.Status{Started: true, InView: true, Completed: true, Verdict: visible}},
		{AtMs: 3000, Action: EventEnd, State: viewability.StateCompleted, Ratio: 1,
			Status: viewability.Status{Started: true, InView: true, Completed: true, Verdict: visible}},
	}
	if diff := cmp.Diff(want, res.Timeline); diff != "" {
		t.Errorf("timeline mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, res.Completed)
	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(1500), *res.CompletedAtMs)
	assert.Equal(t, viewability.DefaultInViewThreshold, res.InViewThreshold)
	assert.Empty(t, res.Errors)
	assert.Regexp(t, `^trk_`, res.TrackerID)
	assert.True(t, res.Passed())
}

func TestRun_ScrollAwayCancels(t *testing.T) {
	tr := newTrace(
		Step{AtMs: 500, Action: ActionScroll, Y: 1000},
		Step{AtMs: 1000, Action: ActionScroll, Y: 0},
		Step{AtMs: 2000, Action: ActionScroll, Y: 1000},
	)
	tr.DurationMs = 4000
	res := run(t, tr)

	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(3000), *res.CompletedAtMs)

	var actions []string
	for _, ev := range res.Timeline {
		actions = append(actions, ev.Action)
	}
	assert.Equal(t, []string{"init", "scroll", "scroll", "scroll", "complete", "end"}, actions)
	assert.False(t, res.Timeline[2].Status.InView)
	assert.True(t, res.Timeline[2].Status.Started)
}

func TestRun_StepsSortedByTime(t *testing.T) {
	res := run(t, newTrace(
		Step{AtMs: 2500, Action: ActionScroll, Y: 1000},
		Step{AtMs: 100, Action: ActionWait},
	))
	assert.Equal(t, int64(100), res.Timeline[1].AtMs)
	assert.Equal(t, int64(2500), res.Timeline[2].AtMs)
	// The timer armed at 2500ms is still pending when the session ends.
	assert.False(t, res.Completed)
	assert.Nil(t, res.CompletedAtMs)
}

func TestRun_OverlayBlocksUntilResample(t *testing.T) {
	res := run(t, newTrace(
		Step{AtMs: 0, Action: ActionStyle, Target: "overlay", Property: "display", Value: "block"},
		Step{AtMs: 500, Action: ActionScroll, Y: 1000},
		Step{AtMs: 1000, Action: ActionStyle, Target: "overlay", Property: "display", Value: "none"},
		Step{AtMs: 1000, Action: ActionResample},
	))

	scrolled := res.Timeline[2]
	require.Equal(t, "scroll", scrolled.Action)
	assert.Equal(t, visibility.Obscured, scrolled.Status.Verdict)
	assert.False(t, scrolled.Status.InView)

	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(2000), *res.CompletedAtMs)
}

func TestRun_IsVisibleOff(t *testing.T) {
	tr := newTrace(
		Step{AtMs: 0, Action: ActionStyle, Target: "overlay", Property: "display", Value: "block"},
		Step{AtMs: 500, Action: ActionScroll, Y: 1000},
	)
	tr.Options = map[string]any{"isVisible": false}
	res := run(t, tr)

	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(1500), *res.CompletedAtMs)
}

func TestRun_LargeElement(t *testing.T) {
	tr := newTrace(
		Step{AtMs: 0, Action: ActionRect, Rect: &dom.Rect{X: 155, Y: 1200, Width: 970, Height: 250}},
		// 100 of 250 rows visible.
		Step{AtMs: 500, Action: ActionScroll, Y: 500},
	)
	tr.Options = map[string]any{"autostart": false}
	tr.Steps = append(tr.Steps, Step{AtMs: 100, Action: ActionStart})
	res := run(t, tr)

	assert.Equal(t, viewability.LargeInViewThreshold, res.InViewThreshold)
	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(1500), *res.CompletedAtMs)
}

func TestRun_StopThenStart(t *testing.T) {
	tr := newTrace(
		Step{AtMs: 500, Action: ActionScroll, Y: 1000},
		Step{AtMs: 1000, Action: ActionStop},
		Step{AtMs: 1200, Action: ActionStart},
	)
	res := run(t, tr)

	stopped := res.Timeline[2]
	assert.Equal(t, viewability.StateIdle, stopped.State)
	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(2200), *res.CompletedAtMs)
}

func TestRun_TrackerErrors(t *testing.T) {
	tr := newTrace()
	tr.Options = map[string]any{"inViewThreshold": 2}
	tr.Expect = &Expectation{Errors: ptr(1), Completed: ptr(false)}
	res := run(t, tr)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "inViewThreshold")
	assert.Equal(t, viewability.StateIdle, res.Timeline[0].State)
	assert.True(t, res.Passed())
}

func TestRun_MissingTargetThenAppend(t *testing.T) {
	tr := newTrace(
		Step{AtMs: 100, Action: ActionAppend, HTML: `<div id="late" data-rect="0 0 300 250"></div>`},
		Step{AtMs: 200, Action: ActionStart},
	)
	tr.Target = "late"
	res := run(t, tr)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "element not found")
	require.NotNil(t, res.CompletedAtMs)
	assert.Equal(t, int64(1200), *res.CompletedAtMs)
}

func TestRun_StepErrors(t *testing.T) {
	tr := newTrace(Step{AtMs: 100, Action: ActionStyle, Target: "nope", Property: "display", Value: "none"})
	_, err := Run(context.Background(), tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, dom.ErrNotFound)
	assert.Contains(t, err.Error(), "step 0 (style at 100ms)")

	_, err = Run(context.Background(), &Trace{})
	assert.ErrorIs(t, err, ErrInvalidTrace)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, newTrace(Step{AtMs: 100, Action: ActionWait}))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_ExpectationFailures(t *testing.T) {
	tr := newTrace()
	tr.Expect = &Expectation{Completed: ptr(true), CompletedAt: ptr(int64(1000)), Errors: ptr(2)}
	res := run(t, tr)

	assert.False(t, res.Passed())
	assert.Equal(t, []string{
		"completed: want true, got false",
		"completedAt: want 1000ms, never completed",
		"errors: want 2, got 0",
	}, res.Failures)
}

func TestTrace_Validate(t *testing.T) {
	valid := newTrace()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Trace)
	}{
		{"no page", func(tr *Trace) { tr.HTML = "" }},
		{"both pages", func(tr *Trace) { tr.HTMLFile = "page.html" }},
		{"no target", func(tr *Trace) { tr.Target = "" }},
		{"zero viewport", func(tr *Trace) { tr.Viewport = dom.Size{} }},
		{"negative duration", func(tr *Trace) { tr.DurationMs = -1 }},
		{"unknown action", func(tr *Trace) { tr.Steps = []Step{{Action: "teleport"}} }},
		{"negative time", func(tr *Trace) { tr.Steps = []Step{{AtMs: -1, Action: ActionWait}} }},
		{"rect without rect", func(tr *Trace) { tr.Steps = []Step{{Action: ActionRect}} }},
		{"negative rect", func(tr *Trace) {
			tr.Steps = []Step{{Action: ActionRect, Rect: &dom.Rect{Width: -1}}}
		}},
		{"resize without viewport", func(tr *Trace) { tr.Steps = []Step{{Action: ActionResize}} }},
		{"style without property", func(tr *Trace) { tr.Steps = []Step{{Action: ActionStyle}} }},
		{"attr without name", func(tr *Trace) { tr.Steps = []Step{{Action: ActionAttr}} }},
		{"append without html", func(tr *Trace) { tr.Steps = []Step{{Action: ActionAppend}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTrace()
			tt.mutate(tr)
			assert.ErrorIs(t, tr.Validate(), ErrInvalidTrace)
		})
	}
}

func TestRunFile(t *testing.T) {
	tests := []struct {
		file        string
		completedAt int64
		threshold   float64
	}{
		{"billboard.yaml", 1900, viewability.LargeInViewThreshold},
		{"late-slot.json", 800, viewability.DefaultInViewThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			res, err := RunFile(context.Background(), filepath.Join("testdata", tt.file))
			require.NoError(t, err)
			assert.True(t, res.Passed(), "failures: %v", res.Failures)
			require.NotNil(t, res.CompletedAtMs)
			assert.Equal(t, tt.completedAt, *res.CompletedAtMs)
			assert.Equal(t, tt.threshold, res.InViewThreshold)
		})
	}
}

func TestLoadTrace(t *testing.T) {
	tr, err := LoadTrace(filepath.Join("testdata", "billboard.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "banner.html"), tr.HTMLFile)
	assert.Equal(t, map[string]any{"timeInView": 1000}, tr.Options)
	require.Len(t, tr.Steps, 4)
	assert.Equal(t, Step{AtMs: 400, Action: ActionScroll, Y: 1000}, tr.Steps[1])

	_, err = LoadTrace(filepath.Join("testdata", "banner.html"))
	assert.Error(t, err)
}

func TestLoadTrace_HTMLFileMustStayInDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escape.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "htmlFile": "../page.html",
  "viewport": {"width": 800, "height": 600},
  "target": "ad"
}`), 0o644))

	_, err := LoadTrace(path)
	assert.ErrorIs(t, err, security.ErrPathEscape)
}
