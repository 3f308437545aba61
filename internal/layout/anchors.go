package layout

import (
	"sort"
	"strings"

	"github.com/kalambet/branchline/internal/timeline"
)

// StageAnchors derives one StagePosition per project phase. Phases are
// stacked top to bottom in (Order, ID) order; each is tall enough to hold
// its feed items at the default spacing.
func StageAnchors(project timeline.Project, feeds []timeline.FeedItem, style Style) map[string]timeline.StagePosition {
	style = style.Normalize()

	counts := make(map[string]int)
	for _, f := range feeds {
		counts[f.Phase]++
	}

	phases := make([]timeline.Phase, len(project.Phases))
	copy(phases, project.Phases)
	sort.SliceStable(phases, func(i, j int) bool {
		if phases[i].Order != phases[j].Order {
			return phases[i].Order < phases[j].Order
		}
		return phases[i].ID < phases[j].ID
	})

	spacing := style.spacing(0)
	anchors := make(map[string]timeline.StagePosition, len(phases))
	y := 0.0
	for _, p := range phases {
		h := style.NodeGap + float64(counts[p.ID])*spacing + style.StagePadding
		if h < style.MinStageHeight {
			h = style.MinStageHeight
		}
		anchors[p.ID] = timeline.StagePosition{
			Phase:   p.ID,
			X:       style.StageX,
			Y:       y,
			Height:  h,
			Spacing: spacing,
		}
		y += h
	}
	return anchors
}

// FilterFeeds applies the UI filter set. Each filter is "dimension:value"
// where dimension is one of type, status, priority or phase; a bare value
// is treated as a type. Values within a dimension are OR'ed, dimensions
// are AND'ed. Unknown dimensions are ignored. Input order is preserved.
func FilterFeeds(feeds []timeline.FeedItem, filters []string) []timeline.FeedItem {
	dims := make(map[string]map[string]bool)
	for _, f := range filters {
		dim, val, ok := strings.Cut(f, ":")
		if !ok {
			dim, val = "type", f
		}
		dim = strings.ToLower(strings.TrimSpace(dim))
		val = strings.ToLower(strings.TrimSpace(val))
		switch dim {
		case "type", "status", "priority", "phase":
		default:
			continue
		}
		if dims[dim] == nil {
			dims[dim] = make(map[string]bool)
		}
		dims[dim][val] = true
	}

	out := make([]timeline.FeedItem, 0, len(feeds))
	for _, f := range feeds {
		if matches(f, dims) {
			out = append(out, f)
		}
	}
	return out
}

func matches(f timeline.FeedItem, dims map[string]map[string]bool) bool {
	for dim, vals := range dims {
		var v string
		switch dim {
		case "type":
			v = f.Type
		case "status":
			v = f.Status
		case "priority":
			v = f.Priority
		case "phase":
			v = f.Phase
		}
		if !vals[strings.ToLower(v)] {
			return false
		}
	}
	return true
}
