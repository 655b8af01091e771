// Package viewability certifies viewable impressions for a single element.
//
// A Tracker subscribes to intersection samples for its target element and
// runs a small state machine over them:
//
//	Idle ──Start──▶ Observing ──ratio ≥ threshold──▶ InView ──timeInView──▶ Completed
//	                    ▲                               │
//	                    └──────ratio < threshold────────┘
//
// Entering InView arms a completion timer; leaving it cancels the timer.
// When the timer elapses the completion hook fires exactly once and, with
// autostop, the subscription is disconnected. With isVisible enabled every
// sample is first checked by visibility.IsReallyVisible and samples for
// elements that are hidden, transformed away or covered are ignored.
//
// Failures never surface as return values or panics. Configuration and
// resolution errors go to the option-level OnError hook, then the chainable
// Tracker.OnError hook, then monitoring.Report.
package viewability
