package viewability

import (
	"errors"
	"fmt"

	"github.com/banshee-data/viewability/internal/dom"
	"github.com/banshee-data/viewability/internal/monitoring"
)

// ErrElementNotFound is dispatched when Start cannot resolve the target.
var ErrElementNotFound = errors.New("viewability: element not found")

// ErrSubscribe is dispatched when the observer refuses a subscription.
var ErrSubscribe = errors.New("viewability: subscribe failed")

func notFound(target dom.Target, cause error) error {
	if cause == nil || errors.Is(cause, dom.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, target)
	}
	return fmt.Errorf("%w: %s: %v", ErrElementNotFound, target, cause)
}

// dispatchError routes err to the option-level hook, then the chainable hook,
// then the default reporting sink. Called without t.mu held.
func (t *Tracker) dispatchError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	hook := t.opts.OnError
	if hook == nil {
		hook = t.onError
	}
	t.mu.Unlock()

	if hook != nil {
		hook(err)
		return
	}
	monitoring.Report(err.Error())
}
