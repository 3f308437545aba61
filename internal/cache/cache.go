package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/timeline"
)

const (
	nsLayout     = "layout"
	nsPositions  = "positions"
	nsStages     = "stages"
	nsConnectors = "connectors"
	nsFiltered   = "filtered"
)

// Options configures a Cache. Zero values take the defaults.
type Options struct {
	MaxAge          time.Duration // default 5m
	MaxEntries      int           // per table, default 50
	CleanupInterval time.Duration // default 60s
	Clock           Clock
}

func (o Options) withDefaults() Options {
	if o.MaxAge <= 0 {
		o.MaxAge = 5 * time.Minute
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 50
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 60 * time.Second
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

// Stats aggregates the per-table counters.
type Stats struct {
	Tables       []TableStats `json:"tables"`
	TotalEntries int          `json:"total_entries"`
	Hits         uint64       `json:"hits"`
	Misses       uint64       `json:"misses"`
	MaxAge       string       `json:"max_age"`
	MaxEntries   int          `json:"max_entries"`
}

// Cache holds the layout pipeline's intermediate and final results, keyed by
// content hashes of their inputs. Construct one per timeline; there is no
// shared instance.
type Cache struct {
	opts       Options
	layouts    *Table[layout.Result]
	positions  *Table[[]timeline.PositionedFeed]
	stages     *Table[map[string]timeline.StagePosition]
	connectors *Table[[]timeline.Connector]
	filtered   *Table[[]timeline.FeedItem]
}

// New creates a Cache.
func New(opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		opts:       opts,
		layouts:    NewTable[layout.Result](nsLayout, opts),
		positions:  NewTable[[]timeline.PositionedFeed](nsPositions, opts),
		stages:     NewTable[map[string]timeline.StagePosition](nsStages, opts),
		connectors: NewTable[[]timeline.Connector](nsConnectors, opts),
		filtered:   NewTable[[]timeline.FeedItem](nsFiltered, opts),
	}
}

// Options returns the effective options.
func (c *Cache) Options() Options {
	return c.opts
}

// GetLayoutResult returns a cached layout for the inputs.
func (c *Cache) GetLayoutResult(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64) (layout.Result, bool) {
	return c.layouts.Get(LayoutKey(feeds, stages, viewportHeight))
}

// SetLayoutResult caches a layout and its positions and connectors.
func (c *Cache) SetLayoutResult(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64, res layout.Result) {
	ids := timeline.FeedIDs(feeds)
	c.layouts.Set(LayoutKey(feeds, stages, viewportHeight), res, ids...)
	c.positions.Set(PositionsKey(feeds, stages), res.PositionedFeeds, ids...)
	c.connectors.Set(ConnectorsKey(res.PositionedFeeds), res.Connectors, timeline.PositionedIDs(res.PositionedFeeds)...)
}

// InvalidateLayout drops the layout and position entries for the inputs.
func (c *Cache) InvalidateLayout(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64) {
	c.layouts.Invalidate(LayoutKey(feeds, stages, viewportHeight))
	c.positions.Invalidate(PositionsKey(feeds, stages))
}

// GetPositions returns cached positions for the inputs.
func (c *Cache) GetPositions(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition) ([]timeline.PositionedFeed, bool) {
	return c.positions.Get(PositionsKey(feeds, stages))
}

// SetPositions caches positions for the inputs.
func (c *Cache) SetPositions(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, positioned []timeline.PositionedFeed) {
	c.positions.Set(PositionsKey(feeds, stages), positioned, timeline.FeedIDs(feeds)...)
}

// GetStagePositions returns cached stage anchors for a project.
func (c *Cache) GetStagePositions(project timeline.Project, feeds []timeline.FeedItem) (map[string]timeline.StagePosition, bool) {
	return c.stages.Get(StagesKey(project, feeds))
}

// SetStagePositions caches stage anchors for a project.
func (c *Cache) SetStagePositions(project timeline.Project, feeds []timeline.FeedItem, anchors map[string]timeline.StagePosition) {
	c.stages.Set(StagesKey(project, feeds), anchors, timeline.FeedIDs(feeds)...)
}

// GetConnectors returns cached connectors for positioned feeds.
func (c *Cache) GetConnectors(positioned []timeline.PositionedFeed) ([]timeline.Connector, bool) {
	return c.connectors.Get(ConnectorsKey(positioned))
}

// SetConnectors caches connectors for positioned feeds.
func (c *Cache) SetConnectors(positioned []timeline.PositionedFeed, connectors []timeline.Connector) {
	c.connectors.Set(ConnectorsKey(positioned), connectors, timeline.PositionedIDs(positioned)...)
}

// GetFilteredFeeds returns a cached filter result.
func (c *Cache) GetFilteredFeeds(feeds []timeline.FeedItem, filters []string) ([]timeline.FeedItem, bool) {
	return c.filtered.Get(FilteredKey(feeds, filters))
}

// SetFilteredFeeds caches a filter result.
func (c *Cache) SetFilteredFeeds(feeds []timeline.FeedItem, filters []string, out []timeline.FeedItem) {
	c.filtered.Set(FilteredKey(feeds, filters), out, timeline.FeedIDs(feeds)...)
}

// InvalidateFeed drops every entry, in every table, that was computed from
// the given feed. Returns the number of entries removed.
func (c *Cache) InvalidateFeed(feedID string) int {
	n := c.layouts.InvalidateFeed(feedID)
	n += c.positions.InvalidateFeed(feedID)
	n += c.stages.InvalidateFeed(feedID)
	n += c.connectors.InvalidateFeed(feedID)
	n += c.filtered.InvalidateFeed(feedID)
	return n
}

// InvalidateAll empties every table.
func (c *Cache) InvalidateAll() int {
	n := c.layouts.InvalidateAll()
	n += c.positions.InvalidateAll()
	n += c.stages.InvalidateAll()
	n += c.connectors.InvalidateAll()
	n += c.filtered.InvalidateAll()
	return n
}

// Sweep removes expired entries from every table.
func (c *Cache) Sweep() int {
	n := c.layouts.Sweep()
	n += c.positions.Sweep()
	n += c.stages.Sweep()
	n += c.connectors.Sweep()
	n += c.filtered.Sweep()
	return n
}

// Stats returns counters for all tables.
func (c *Cache) Stats() Stats {
	tables := []TableStats{
		c.layouts.Stats(),
		c.positions.Stats(),
		c.stages.Stats(),
		c.connectors.Stats(),
		c.filtered.Stats(),
	}
	s := Stats{
		Tables:     tables,
		MaxAge:     c.opts.MaxAge.String(),
		MaxEntries: c.opts.MaxEntries,
	}
	for _, t := range tables {
		s.TotalEntries += t.Entries
		s.Hits += t.Hits
		s.Misses += t.Misses
	}
	return s
}

// Run sweeps expired entries every CleanupInterval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("cache sweep", "expired", n)
			}
		}
	}
}
