package viewability

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Documented defaults. Options fields left nil take these values.
const (
	DefaultAutostart         = true
	DefaultAutostop          = true
	DefaultCoverageThreshold = 0.5
	DefaultInViewThreshold   = 0.5
	DefaultIsVisible         = true
	DefaultTimeInViewMs      = 1000.0

	// LargeInViewThreshold replaces DefaultInViewThreshold for elements whose
	// rendered area is at least LargeElementArea.
	LargeInViewThreshold = 0.3
	// LargeElementArea is 970x250, the smallest large-creative size.
	LargeElementArea = 242500
)

// Validation errors. Each check reports its own sentinel wrapped with the
// offending value.
var (
	ErrInvalidAutostart         = errors.New("autostart must be a boolean")
	ErrInvalidAutostop          = errors.New("autostop must be a boolean")
	ErrInvalidIsVisible         = errors.New("isVisible must be a boolean")
	ErrInvalidCoverageThreshold = errors.New("coverageThreshold must be a number greater than 0 and at most 1")
	ErrInvalidInViewThreshold   = errors.New("inViewThreshold must be a number between 0 and 1")
	ErrInvalidTimeInView        = errors.New("timeInView must be a number greater than or equal to 0")
)

// Options configures a Tracker. Nil fields take the documented defaults, so
// the zero value is a valid configuration. The schema matches the option
// bags accepted by NewFromMap and the replay trace files.
type Options struct {
	Autostart         *bool    `json:"autostart,omitempty" yaml:"autostart,omitempty"`
	Autostop          *bool    `json:"autostop,omitempty" yaml:"autostop,omitempty"`
	CoverageThreshold *float64 `json:"coverageThreshold,omitempty" yaml:"coverageThreshold,omitempty"`
	InViewThreshold   *float64 `json:"inViewThreshold,omitempty" yaml:"inViewThreshold,omitempty"`
	IsVisible         *bool    `json:"isVisible,omitempty" yaml:"isVisible,omitempty"`
	TimeInViewMs      *float64 `json:"timeInView,omitempty" yaml:"timeInView,omitempty"` // milliseconds

	// OnComplete is called once when the element has been viewed for the
	// configured duration.
	OnComplete func() `json:"-" yaml:"-"`
	// OnError receives configuration and resolution failures.
	OnError func(error) `json:"-" yaml:"-"`
}

// Helper functions to create pointers
func Bool(v bool) *bool          { return &v }
func Float64(v float64) *float64 { return &v }

// DefaultOptions returns Options with every field set to its default.
func DefaultOptions() Options {
	return Options{
		Autostart:         Bool(DefaultAutostart),
		Autostop:          Bool(DefaultAutostop),
		CoverageThreshold: Float64(DefaultCoverageThreshold),
		InViewThreshold:   Float64(DefaultInViewThreshold),
		IsVisible:         Bool(DefaultIsVisible),
		TimeInViewMs:      Float64(DefaultTimeInViewMs),
	}
}

// GetAutostart returns the autostart value or the default.
func (o Options) GetAutostart() bool {
	if o.Autostart == nil {
		return DefaultAutostart
	}
	return *o.Autostart
}

// GetAutostop returns the autostop value or the default.
func (o Options) GetAutostop() bool {
	if o.Autostop == nil {
		return DefaultAutostop
	}
	return *o.Autostop
}

// GetCoverageThreshold returns the coverageThreshold value or the default.
func (o Options) GetCoverageThreshold() float64 {
	if o.CoverageThreshold == nil {
		return DefaultCoverageThreshold
	}
	return *o.CoverageThreshold
}

// GetInViewThreshold returns the inViewThreshold value or the default.
func (o Options) GetInViewThreshold() float64 {
	if o.InViewThreshold == nil {
		return DefaultInViewThreshold
	}
	return *o.InViewThreshold
}

// GetIsVisible returns the isVisible value or the default.
func (o Options) GetIsVisible() bool {
	if o.IsVisible == nil {
		return DefaultIsVisible
	}
	return *o.IsVisible
}

// GetTimeInView returns the required in-view duration.
func (o Options) GetTimeInView() time.Duration {
	ms := DefaultTimeInViewMs
	if o.TimeInViewMs != nil {
		ms = *o.TimeInViewMs
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Validate checks the numeric ranges of the merged options. Boolean fields
// cannot hold anything but booleans once typed; DecodeOptions checks them for
// untyped bags.
func (o Options) Validate() error {
	if err := checkCoverageThreshold(o.GetCoverageThreshold()); err != nil {
		return err
	}
	if err := checkInViewThreshold(o.GetInViewThreshold()); err != nil {
		return err
	}
	if o.TimeInViewMs != nil {
		if err := checkTimeInView(*o.TimeInViewMs); err != nil {
			return err
		}
	}
	return nil
}

// NaN fails every range check below because its comparisons are false.

func checkCoverageThreshold(v float64) error {
	if !(v > 0 && v <= 1) {
		return fmt.Errorf("%w, got %v", ErrInvalidCoverageThreshold, v)
	}
	return nil
}

func checkInViewThreshold(v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w, got %v", ErrInvalidInViewThreshold, v)
	}
	return nil
}

// maxTimeInViewNs is 2^63, the first nanosecond count a time.Duration
// cannot hold.
const maxTimeInViewNs = float64(math.MaxInt64)

func checkTimeInView(v float64) error {
	if !(v >= 0) {
		return fmt.Errorf("%w, got %v", ErrInvalidTimeInView, v)
	}
	if v*float64(time.Millisecond) >= maxTimeInViewNs {
		return fmt.Errorf("%w, got %v: longer than %v", ErrInvalidTimeInView, v, time.Duration(math.MaxInt64))
	}
	return nil
}

// DecodeOptions layers an untyped option bag, such as one decoded from JSON
// or YAML, over the defaults. Keys are checked in a fixed order and the first
// violation is returned. Unknown keys are ignored. Hook keys ("onComplete",
// "onError") are taken when they hold a func() or func(error).
func DecodeOptions(bag map[string]any) (Options, error) {
	var o Options

	for _, b := range []struct {
		key string
		dst **bool
		err error
	}{
		{"autostart", &o.Autostart, ErrInvalidAutostart},
		{"autostop", &o.Autostop, ErrInvalidAutostop},
		{"isVisible", &o.IsVisible, ErrInvalidIsVisible},
	} {
		raw, ok := bag[b.key]
		if !ok {
			continue
		}
		v, isBool := raw.(bool)
		if !isBool {
			return Options{}, fmt.Errorf("%w, got %T", b.err, raw)
		}
		*b.dst = Bool(v)
	}

	for _, n := range []struct {
		key   string
		dst   **float64
		err   error
		check func(float64) error
	}{
		{"coverageThreshold", &o.CoverageThreshold, ErrInvalidCoverageThreshold, checkCoverageThreshold},
		{"inViewThreshold", &o.InViewThreshold, ErrInvalidInViewThreshold, checkInViewThreshold},
		{"timeInView", &o.TimeInViewMs, ErrInvalidTimeInView, checkTimeInView},
	} {
		raw, ok := bag[n.key]
		if !ok {
			continue
		}
		v, isNumber := toFloat(raw)
		if !isNumber {
			return Options{}, fmt.Errorf("%w, got %T", n.err, raw)
		}
		if err := n.check(v); err != nil {
			return Options{}, err
		}
		*n.dst = Float64(v)
	}

	if fn, ok := bag["onComplete"].(func()); ok {
		o.OnComplete = fn
	}
	if fn, ok := bag["onError"].(func(error)); ok {
		o.OnError = fn
	}
	return o, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
