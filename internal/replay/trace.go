// Package replay drives a viewability tracker through a scripted page
// session. A Trace describes a static page, the element to track, the
// tracker options and a list of timed steps (scrolls, layout and style
// changes, start and stop calls). Run plays the steps against a page.Page on
// a mock clock and records how the tracker responded.
package replay

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/viewability/internal/config"
	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/security"
)

// Action names a step kind.
type Action string

const (
	ActionScroll     Action = "scroll"     // scroll the document to X, Y
	ActionResize     Action = "resize"     // resize the viewport to Viewport
	ActionRect       Action = "rect"       // move an element to Rect
	ActionStyle      Action = "style"      // set inline style Property to Value
	ActionAttr       Action = "attr"       // set attribute Name to Value
	ActionRemoveAttr Action = "removeAttr" // remove attribute Name
	ActionAppend     Action = "append"     // append HTML to an element
	ActionStart      Action = "start"      // call Tracker.Start
	ActionStop       Action = "stop"       // call Tracker.Stop
	ActionResample   Action = "resample"   // deliver a sample whether or not a threshold was crossed
	ActionWait       Action = "wait"       // only let time pass
)

var knownActions = map[Action]bool{
	ActionScroll: true, ActionResize: true, ActionRect: true, ActionStyle: true,
	ActionAttr: true, ActionRemoveAttr: true, ActionAppend: true, ActionStart: true,
	ActionStop: true, ActionResample: true, ActionWait: true,
}

// ErrInvalidTrace wraps every trace validation failure.
var ErrInvalidTrace = errors.New("invalid trace")

// Trace is one scripted session.
type Trace struct {
	Name string `json:"name" yaml:"name"`
	// HTML is the page source. HTMLFile names a file holding it instead. It
	// is relative to the trace file and must stay inside its directory.
	HTML     string   `json:"html,omitempty" yaml:"html,omitempty"`
	HTMLFile string   `json:"htmlFile,omitempty" yaml:"htmlFile,omitempty"`
	Viewport dom.Size `json:"viewport" yaml:"viewport"`
	// Target is the tracked element: an id, "#id" or an XPath expression.
	Target string `json:"target" yaml:"target"`
	// Options is the tracker option bag.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Steps   []Step         `json:"steps" yaml:"steps"`
	// DurationMs extends the session past the last step.
	DurationMs int64        `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
	Expect     *Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// Step is a page or tracker change applied at AtMs milliseconds into the
// session. Steps with equal times run in file order.
type Step struct {
	AtMs     int64     `json:"at" yaml:"at"`
	Action   Action    `json:"action" yaml:"action"`
	Target   string    `json:"target,omitempty" yaml:"target,omitempty"` // defaults to the trace target
	X        float64   `json:"x,omitempty" yaml:"x,omitempty"`
	Y        float64   `json:"y,omitempty" yaml:"y,omitempty"`
	Rect     *dom.Rect `json:"rect,omitempty" yaml:"rect,omitempty"`
	Viewport *dom.Size `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	Property string    `json:"property,omitempty" yaml:"property,omitempty"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Value    string    `json:"value,omitempty" yaml:"value,omitempty"`
	HTML     string    `json:"html,omitempty" yaml:"html,omitempty"`
}

// Expectation is checked against the result after a run.
type Expectation struct {
	Completed   *bool  `json:"completed,omitempty" yaml:"completed,omitempty"`
	CompletedAt *int64 `json:"completedAt,omitempty" yaml:"completedAt,omitempty"` // ms
	Errors      *int   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// LoadTrace reads a JSON or YAML trace file and validates it.
func LoadTrace(path string) (*Trace, error) {
	var tr Trace
	if err := config.LoadFile(path, &tr); err != nil {
		return nil, err
	}
	if err := tr.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if tr.HTMLFile != "" {
		dir := filepath.Dir(path)
		if !filepath.IsAbs(tr.HTMLFile) {
			tr.HTMLFile = filepath.Join(dir, tr.HTMLFile)
		}
		if err := security.ValidatePathWithinDirectory(tr.HTMLFile, dir); err != nil {
			return nil, fmt.Errorf("%s: htmlFile: %w", path, err)
		}
	}
	if tr.Name == "" {
		tr.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &tr, nil
}

// Validate checks that the trace can be played.
func (t *Trace) Validate() error {
	if (t.HTML == "") == (t.HTMLFile == "") {
		return fmt.Errorf("%w: exactly one of html and htmlFile is required", ErrInvalidTrace)
	}
	if t.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidTrace)
	}
	if t.Viewport.Width <= 0 || t.Viewport.Height <= 0 {
		return fmt.Errorf("%w: viewport must be positive, got %gx%g", ErrInvalidTrace, t.Viewport.Width, t.Viewport.Height)
	}
	if t.DurationMs < 0 {
		return fmt.Errorf("%w: durationMs must be non-negative", ErrInvalidTrace)
	}
	for i, s := range t.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidTrace, i, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if !knownActions[s.Action] {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.AtMs < 0 {
		return fmt.Errorf("at must be non-negative, got %d", s.AtMs)
	}
	switch s.Action {
	case ActionRect:
		if s.Rect == nil {
			return errors.New("rect requires a rect")
		}
		if s.Rect.Width < 0 || s.Rect.Height < 0 {
			return errors.New("rect size must be non-negative")
		}
	case ActionResize:
		if s.Viewport == nil || s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
			return errors.New("resize requires a positive viewport")
		}
	case ActionStyle:
		if s.Property == "" {
			return errors.New("style requires a property")
		}
	case ActionAttr, ActionRemoveAttr:
		if s.Name == "" {
			return fmt.Errorf("%s requires a name", s.Action)
		}
	case ActionAppend:
		if s.HTML == "" {
			return errors.New("append requires html")
		}
	}
	return nil
}

// orderedSteps returns the steps sorted by time, keeping file order for ties.
func (t *Trace) orderedSteps() []Step {
	steps := append([]Step(nil), t.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].AtMs < steps[j].AtMs })
	return steps
}

// end returns the session length in milliseconds.
func (t *Trace) end() int64 {
	end := t.DurationMs
	for _, s := range t.Steps {
		if s.AtMs > end {
			end = s.AtMs
		}
	}
	return end
}
