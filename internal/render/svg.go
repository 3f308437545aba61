// Package render draws a timeline state as SVG. Only the windowed set of
// feeds is ever drawn.
package render

import (
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/timeline"
)

// Options controls the document frame.
type Options struct {
	Width      float64 // default 1200
	Height     float64 // default: fits the visible nodes
	Background string
	Title      string
}

const (
	radiusCompact  = 4.0
	radiusNormal   = 7.0
	radiusDetailed = 9.0
	radiusBump     = 3.0
)

// Mounted returns the ids eligible for mounting, in render order.
func Mounted(st state.State) []string {
	return timeline.PositionedIDs(st.VisibleFeeds)
}

// SVG writes an SVG document for st to w.
func SVG(w io.Writer, st state.State, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.Height <= 0 {
		opts.Height = fitHeight(st.VisibleFeeds, st.ScrollTop)
	}

	visible := make(map[string]bool, len(st.VisibleFeeds))
	for _, f := range st.VisibleFeeds {
		visible[f.ID] = true
	}

	var svg strings.Builder
	fmt.Fprintf(&svg, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 %s %s %s" data-view-mode="%s">`+"\n",
		num(opts.Width), num(opts.Height), num(st.ScrollTop), num(opts.Width), num(opts.Height), esc(string(st.ViewMode)))
	if opts.Title != "" {
		fmt.Fprintf(&svg, "<title>%s</title>\n", esc(opts.Title))
	}
	if opts.Background != "" {
		fmt.Fprintf(&svg, `<rect x="0" y="%s" width="100%%" height="100%%" fill="%s"/>`+"\n", num(st.ScrollTop), esc(opts.Background))
	}

	svg.WriteString(`<g class="connectors">` + "\n")
	for _, c := range st.Connectors {
		if !visible[c.FeedID] {
			continue
		}
		drawConnector(&svg, c)
	}
	svg.WriteString("</g>\n")

	svg.WriteString(`<g class="nodes">` + "\n")
	for _, f := range st.VisibleFeeds {
		drawNode(&svg, f, st)
	}
	svg.WriteString("</g>\n")

	if st.Error != "" {
		fmt.Fprintf(&svg, `<text class="error-banner" x="8" y="%s" fill="#dc2626">%s</text>`+"\n",
			num(st.ScrollTop+16), esc(st.Error))
	}
	svg.WriteString("</svg>\n")

	_, err := io.WriteString(w, svg.String())
	return err
}

func drawConnector(svg *strings.Builder, c timeline.Connector) {
	dash := ""
	if c.Style == "dashed" {
		dash = ` stroke-dasharray="6,4"`
	}
	fmt.Fprintf(svg, `<path id="%s" class="connector %s" d="%s" stroke="%s" stroke-width="2" fill="none"%s data-feed="%s"/>`+"\n",
		esc(c.ID), esc(string(c.Animation)), esc(c.Path), esc(c.Color), dash, esc(c.FeedID))
}

func drawNode(svg *strings.Builder, f timeline.PositionedFeed, st state.State) {
	classes := []string{"node"}
	r := radiusNormal
	switch st.ViewMode {
	case state.ViewCompact:
		r = radiusCompact
	case state.ViewDetailed:
		r = radiusDetailed
	}
	if f.ID == st.HoveredID {
		classes = append(classes, "hovered")
		r += radiusBump
	}
	if f.ID == st.SelectedID {
		classes = append(classes, "selected")
	}
	expanded := st.IsExpanded(f.ID)
	if expanded {
		classes = append(classes, "expanded")
	}

	fmt.Fprintf(svg, `<g class="%s" data-id="%s">`, strings.Join(classes, " "), esc(f.ID))
	fmt.Fprintf(svg, `<circle cx="%s" cy="%s" r="%s"/>`, num(f.X), num(f.Y), num(r))

	if st.ViewMode != state.ViewCompact {
		fmt.Fprintf(svg, `<text x="%s" y="%s">%s</text>`, num(f.X+r+6), num(f.Y+4), esc(label(f)))
	}
	if expanded || st.ViewMode == state.ViewDetailed {
		fmt.Fprintf(svg, `<text class="detail" x="%s" y="%s">%s</text>`,
			num(f.X+r+6), num(f.Y+18), esc(fmt.Sprintf("%s · %s · %s", f.Type, f.Status, f.CreatedAt.Format("2006-01-02"))))
	}
	svg.WriteString("</g>\n")
}

func label(f timeline.PositionedFeed) string {
	if t := f.Metadata["title"]; t != "" {
		return t
	}
	return f.ID
}

// fitHeight is the frame height from the viewBox top at scrollTop down
// past the lowest visible node.
func fitHeight(feeds []timeline.PositionedFeed, scrollTop float64) float64 {
	bottom := scrollTop
	for _, f := range feeds {
		bottom = max(bottom, f.Y)
	}
	return bottom - scrollTop + 80
}

func num(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func esc(s string) string {
	return html.EscapeString(s)
}
