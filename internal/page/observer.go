package page

import (
	"github.com/banshee-data/viewability/internal/dom"
	"github.com/google/uuid"
)

// subscription is one Observe registration.
type subscription struct {
	id        string
	page      *Page
	el        *Element
	threshold float64
	fn        func([]dom.Entry)

	// side is the threshold side of the last delivered sample: -1 before
	// the first delivery, then 0 (below) or 1 (at or above).
	side int
}

// Disconnect stops delivery for the subscription.
func (s *subscription) Disconnect() {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	s.page.removeSub(s.id)
}

// ID returns the subscription's identifier.
func (s *subscription) ID() string { return s.id }

// Observe subscribes fn to intersection changes of el. Like a browser
// intersection observer, the first sample and every later threshold crossing
// are delivered asynchronously: on the next Notify call.
func (p *Page) Observe(el dom.Element, threshold float64, fn func([]dom.Entry)) (dom.Subscription, error) {
	e, err := p.own(el)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &subscription{
		id:        uuid.NewString(),
		page:      p,
		el:        e,
		threshold: threshold,
		fn:        fn,
		side:      -1,
	}
	p.subs[s.id] = s
	p.subOrder = append(p.subOrder, s.id)
	return s, nil
}

// Subscriptions returns the number of active subscriptions.
func (p *Page) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// removeSub requires p.mu.
func (p *Page) removeSub(id string) {
	if _, ok := p.subs[id]; !ok {
		return
	}
	delete(p.subs, id)
	for i, other := range p.subOrder {
		if other == id {
			p.subOrder = append(p.subOrder[:i], p.subOrder[i+1:]...)
			break
		}
	}
}

// Notify samples every subscribed element and delivers an entry to each
// subscription whose element crossed its threshold since the last delivery,
// or that has not had a delivery yet. It returns the number of batches
// delivered. Callbacks run on the caller's goroutine without the page lock.
func (p *Page) Notify() int {
	return p.notify(false)
}

// NotifyAll delivers the current sample to every subscription whether or
// not a threshold was crossed.
func (p *Page) NotifyAll() int {
	return p.notify(true)
}

type delivery struct {
	sub   *subscription
	entry dom.Entry
}

func (p *Page) notify(force bool) int {
	p.mu.Lock()
	var pending []delivery
	for _, id := range p.subOrder {
		s := p.subs[id]
		entry := p.entry(s.el)
		side := 0
		if aboveThreshold(entry.Ratio, s.threshold) {
			side = 1
		}
		if !force && side == s.side {
			continue
		}
		s.side = side
		pending = append(pending, delivery{sub: s, entry: entry})
	}
	p.mu.Unlock()

	delivered := 0
	for _, d := range pending {
		// An earlier callback may have disconnected this subscription.
		p.mu.Lock()
		_, active := p.subs[d.sub.id]
		p.mu.Unlock()
		if !active {
			continue
		}
		d.sub.fn([]dom.Entry{d.entry})
		delivered++
	}
	return delivered
}

// aboveThreshold reports which side of threshold ratio is on. A zero threshold
// means any intersection at all.
func aboveThreshold(ratio, threshold float64) bool {
	if threshold == 0 {
		return ratio > 0
	}
	return ratio >= threshold
}

// Sample returns the current intersection entry for el.
func (p *Page) Sample(el dom.Element) (dom.Entry, error) {
	e, err := p.own(el)
	if err != nil {
		return dom.Entry{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry(e), nil
}

// entry computes the intersection of el with the viewport. Requires p.mu.
func (p *Page) entry(el *Element) dom.Entry {
	rect, ok := el.viewportRect()
	if !ok || !el.rendered() {
		return dom.Entry{Rect: rect}
	}
	viewport := dom.Rect{Width: p.viewport.Width, Height: p.viewport.Height}
	if rect.Area() == 0 {
		// A zero-area box counts as fully intersecting when it touches
		// the viewport.
		if rect.X >= 0 && rect.Y >= 0 && rect.X <= viewport.Width && rect.Y <= viewport.Height {
			return dom.Entry{Ratio: 1, Rect: rect}
		}
		return dom.Entry{Rect: rect}
	}
	return dom.Entry{Ratio: rect.Intersect(viewport).Area() / rect.Area(), Rect: rect}
}
