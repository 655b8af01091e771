// Package dom defines the boundary between the viewability tracker and the
// page it measures.
//
// The tracker never touches a concrete document. It resolves its target,
// reads computed style and rectangles, hit-tests points and subscribes to
// intersection changes only through the interfaces declared here.
// internal/page provides a static HTML implementation used by the replay
// tool and by tests.
package dom
