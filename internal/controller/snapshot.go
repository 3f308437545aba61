package controller

import (
	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/timeline"
)

// Snapshot is the read model handed to renderers and debug surfaces.
type Snapshot struct {
	PositionedFeeds []timeline.PositionedFeed `json:"positioned_feeds"`
	VisibleFeeds    []timeline.PositionedFeed `json:"visible_feeds"`
	Connectors      []timeline.Connector      `json:"connectors"`
	Calculating     bool                      `json:"calculating"`
	Error           string                    `json:"error,omitempty"`
	Metrics         layout.Metrics            `json:"metrics"`
	Generation      uint64                    `json:"generation"`
	Viewport        timeline.Viewport         `json:"viewport"`
	Project         *timeline.Project         `json:"project,omitempty"`
}

// Snapshot returns the current outputs.
func (c *Controller) Snapshot() Snapshot {
	s := c.store.State()

	c.mu.Lock()
	vp := c.vp
	var project *timeline.Project
	if c.project != nil {
		p := *c.project
		project = &p
	}
	c.mu.Unlock()

	return Snapshot{
		PositionedFeeds: s.PositionedFeeds,
		VisibleFeeds:    s.VisibleFeeds,
		Connectors:      s.Connectors,
		Calculating:     s.Calculating,
		Error:           s.Error,
		Metrics:         s.LayoutMetrics,
		Generation:      s.Generation,
		Viewport:        vp,
		Project:         project,
	}
}

// Performance is the debug view of calculation and cache behaviour.
type Performance struct {
	state.PerformanceMetrics
	CacheHitRate float64        `json:"cache_hit_rate"`
	LastLayout   layout.Metrics `json:"last_layout"`
	Pending      bool           `json:"pending"`
	Generation   uint64         `json:"generation"`
}

// PerformanceStats returns accumulated performance counters.
func (c *Controller) PerformanceStats() Performance {
	s := c.store.State()
	return Performance{
		PerformanceMetrics: s.Performance,
		CacheHitRate:       s.Performance.CacheHitRate(),
		LastLayout:         s.LayoutMetrics,
		Pending:            c.recalc.Pending(),
		Generation:         s.Generation,
	}
}

// CacheStats returns the result cache counters.
func (c *Controller) CacheStats() cache.Stats {
	return c.cache.Stats()
}
