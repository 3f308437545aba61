// Package viewport selects the positioned feeds that fall inside the
// scroll window. It never does layout work.
package viewport

import "github.com/kalambet/branchline/internal/timeline"

// DefaultBuffer is the overscan, in pixels, above and below the viewport.
const DefaultBuffer = 200

// Window is a viewport plus its overscan buffer.
type Window struct {
	Viewport timeline.Viewport
	Buffer   float64
}

// Range returns the inclusive Y bounds of the window.
func (w Window) Range() (top, bottom float64) {
	return w.Viewport.ScrollTop - w.Buffer, w.Viewport.ScrollTop + w.Viewport.Height + w.Buffer
}

// Contains reports whether y is inside the window.
func (w Window) Contains(y float64) bool {
	top, bottom := w.Range()
	return y >= top && y <= bottom
}

// Filter returns the items inside the window.
func (w Window) Filter(positioned []timeline.PositionedFeed) []timeline.PositionedFeed {
	return FilterVisible(positioned, w.Viewport.ScrollTop, w.Viewport.Height, w.Buffer)
}

// FilterVisible returns the items whose Y lies in
// [scrollTop-buffer, scrollTop+viewportHeight+buffer], preserving order.
// The result is never nil.
func FilterVisible(positioned []timeline.PositionedFeed, scrollTop, viewportHeight, buffer float64) []timeline.PositionedFeed {
	w := Window{
		Viewport: timeline.Viewport{Height: viewportHeight, ScrollTop: scrollTop},
		Buffer:   buffer,
	}
	out := make([]timeline.PositionedFeed, 0, len(positioned))
	for _, p := range positioned {
		if w.Contains(p.Y) {
			out = append(out, p)
		}
	}
	return out
}
