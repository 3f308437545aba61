// Package state holds the timeline's UI state: a pure reducer over a single
// State value and a Store that serializes dispatches through middleware.
package state

import (
	"sort"
	"time"

	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/timeline"
)

// ViewMode selects node density.
type ViewMode string

const (
	ViewNormal   ViewMode = "normal"
	ViewCompact  ViewMode = "compact"
	ViewDetailed ViewMode = "detailed"
)

// Valid reports whether m is a known view mode.
func (m ViewMode) Valid() bool {
	switch m {
	case ViewNormal, ViewCompact, ViewDetailed:
		return true
	}
	return false
}

// PerformanceMetrics accumulates calculation, cache and dispatch timings.
type PerformanceMetrics struct {
	CalculationCount       int           `json:"calculation_count"`
	TotalCalculationTime   time.Duration `json:"total_calculation_time"`
	AverageCalculationTime time.Duration `json:"average_calculation_time"`
	LastCalculationTime    time.Duration `json:"last_calculation_time"`
	CacheHits              int           `json:"cache_hits"`
	CacheMisses            int           `json:"cache_misses"`
	DispatchCount          int           `json:"dispatch_count"`
	TotalDispatchTime      time.Duration `json:"total_dispatch_time"`
	LastDispatchTime       time.Duration `json:"last_dispatch_time"`
	LastAction             string        `json:"last_action,omitempty"`
}

// CacheHitRate returns hits / (hits + misses), or 0 before any lookup.
func (m PerformanceMetrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// State is the complete UI state of one timeline.
type State struct {
	HoveredID  string          `json:"hovered_id,omitempty"`
	SelectedID string          `json:"selected_id,omitempty"`
	Expanded   map[string]bool `json:"expanded"`
	ScrollTop  float64         `json:"scroll_top"`
	ScrollLeft float64         `json:"scroll_left"`
	Filters    []string        `json:"filters"`
	ViewMode   ViewMode        `json:"view_mode"`

	PositionedFeeds []timeline.PositionedFeed `json:"positioned_feeds"`
	VisibleFeeds    []timeline.PositionedFeed `json:"visible_feeds"`
	Connectors      []timeline.Connector      `json:"connectors"`
	LayoutMetrics   layout.Metrics            `json:"layout_metrics"`
	Generation      uint64                    `json:"generation"`

	// Revision is stamped by the Store and increases with every dispatch.
	Revision uint64 `json:"revision"`

	Calculating bool               `json:"calculating"`
	Error       string             `json:"error,omitempty"`
	Performance PerformanceMetrics `json:"performance"`
}

// InitialState returns the state of a freshly mounted timeline.
func InitialState() State {
	return State{
		Expanded:        make(map[string]bool),
		Filters:         []string{},
		ViewMode:        ViewNormal,
		PositionedFeeds: []timeline.PositionedFeed{},
		VisibleFeeds:    []timeline.PositionedFeed{},
		Connectors:      []timeline.Connector{},
	}
}

// IsExpanded reports whether id is in the expanded set.
func (s State) IsExpanded(id string) bool {
	return s.Expanded[id]
}

// ExpandedIDs returns the expanded set in sorted order.
func (s State) ExpandedIDs() []string {
	ids := make([]string, 0, len(s.Expanded))
	for id := range s.Expanded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy. Metadata maps inside feed items are shared;
// feed items are immutable once created.
func (s State) Clone() State {
	c := s
	c.Expanded = make(map[string]bool, len(s.Expanded))
	for id := range s.Expanded {
		c.Expanded[id] = true
	}
	c.Filters = append([]string{}, s.Filters...)
	c.PositionedFeeds = append([]timeline.PositionedFeed{}, s.PositionedFeeds...)
	c.VisibleFeeds = append([]timeline.PositionedFeed{}, s.VisibleFeeds...)
	c.Connectors = append([]timeline.Connector{}, s.Connectors...)
	return c
}
