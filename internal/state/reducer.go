package state

import (
	"sort"
	"time"

	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/timeline"
)

// Action is a state transition understood by Reduce.
type Action interface {
	Kind() string
}

type (
	SetHover       struct{ ID string }
	SetSelected    struct{ ID string }
	SetExpanded    struct {
		ID       string
		Expanded bool
	}
	ToggleExpanded struct{ ID string }
	SetScroll      struct{ Top, Left float64 }
	SetFilters     struct{ Filters []string }
	ToggleFilter   struct{ Filter string }
	SetViewMode    struct{ Mode ViewMode }

	// SetLayoutResult atomically replaces the computed layout. Results for a
	// generation older than the current one are ignored.
	SetLayoutResult struct {
		PositionedFeeds []timeline.PositionedFeed
		Connectors      []timeline.Connector
		Metrics         layout.Metrics
		Generation      uint64
	}
	SetVisibleFeeds struct{ Feeds []timeline.PositionedFeed }

	// SetCalculating marks a calculation in flight. A non-zero Generation
	// older than the applied layout is ignored, so a late start of a
	// discarded run cannot leave the flag set.
	SetCalculating struct {
		Calculating bool
		Generation  uint64
	}
	SetError       struct{ Err string }

	RecordCalculation struct{ Duration time.Duration }
	RecordCache       struct{ Hit bool }
	RecordDispatch    struct {
		Action   string
		Duration time.Duration
	}

	ResetState struct{}
)

func (SetHover) Kind() string          { return "set_hover" }
func (SetSelected) Kind() string       { return "set_selected" }
func (SetExpanded) Kind() string       { return "set_expanded" }
func (ToggleExpanded) Kind() string    { return "toggle_expanded" }
func (SetScroll) Kind() string         { return "set_scroll" }
func (SetFilters) Kind() string        { return "set_filters" }
func (ToggleFilter) Kind() string      { return "toggle_filter" }
func (SetViewMode) Kind() string       { return "set_view_mode" }
func (SetLayoutResult) Kind() string   { return "set_layout_result" }
func (SetVisibleFeeds) Kind() string   { return "set_visible_feeds" }
func (SetCalculating) Kind() string    { return "set_calculating" }
func (SetError) Kind() string          { return "set_error" }
func (RecordCalculation) Kind() string { return "record_calculation" }
func (RecordCache) Kind() string       { return "record_cache" }
func (RecordDispatch) Kind() string    { return "record_dispatch" }
func (ResetState) Kind() string        { return "reset_state" }

// Reduce returns the state that results from applying a to s. It never
// mutates s; unknown actions return s unchanged.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetHover:
		s.HoveredID = a.ID
	case SetSelected:
		s.SelectedID = a.ID
	case SetExpanded:
		s.Expanded = withExpanded(s.Expanded, a.ID, a.Expanded)
	case ToggleExpanded:
		s.Expanded = withExpanded(s.Expanded, a.ID, !s.Expanded[a.ID])
	case SetScroll:
		s.ScrollTop = a.Top
		s.ScrollLeft = a.Left
	case SetFilters:
		s.Filters = normalizeFilters(a.Filters)
	case ToggleFilter:
		s.Filters = toggleFilter(s.Filters, a.Filter)
	case SetViewMode:
		if a.Mode.Valid() {
			s.ViewMode = a.Mode
		}
	case SetLayoutResult:
		if a.Generation < s.Generation {
			return s
		}
		s.PositionedFeeds = nonNil(a.PositionedFeeds)
		s.Connectors = append([]timeline.Connector{}, a.Connectors...)
		s.LayoutMetrics = a.Metrics
		s.Generation = a.Generation
		s.Calculating = false
		s.Error = ""
	case SetVisibleFeeds:
		s.VisibleFeeds = nonNil(a.Feeds)
	case SetCalculating:
		if a.Generation != 0 && a.Generation < s.Generation {
			return s
		}
		s.Calculating = a.Calculating
	case SetError:
		s.Error = a.Err
		s.Calculating = false
	case RecordCalculation:
		p := s.Performance
		p.CalculationCount++
		p.TotalCalculationTime += a.Duration
		p.LastCalculationTime = a.Duration
		p.AverageCalculationTime = p.TotalCalculationTime / time.Duration(p.CalculationCount)
		s.Performance = p
	case RecordCache:
		if a.Hit {
			s.Performance.CacheHits++
		} else {
			s.Performance.CacheMisses++
		}
	case RecordDispatch:
		p := s.Performance
		p.DispatchCount++
		p.TotalDispatchTime += a.Duration
		p.LastDispatchTime = a.Duration
		p.LastAction = a.Action
		s.Performance = p
	case ResetState:
		return InitialState()
	}
	return s
}

func withExpanded(set map[string]bool, id string, expanded bool) map[string]bool {
	if set[id] == expanded {
		return set
	}
	out := make(map[string]bool, len(set)+1)
	for k := range set {
		out[k] = true
	}
	if expanded {
		out[id] = true
	} else {
		delete(out, id)
	}
	return out
}

func normalizeFilters(filters []string) []string {
	seen := make(map[string]bool, len(filters))
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func toggleFilter(filters []string, f string) []string {
	out := make([]string, 0, len(filters)+1)
	found := false
	for _, existing := range filters {
		if existing == f {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, f)
	}
	return normalizeFilters(out)
}

func nonNil(feeds []timeline.PositionedFeed) []timeline.PositionedFeed {
	return append([]timeline.PositionedFeed{}, feeds...)
}
