// Package controller drives layout recalculation for one timeline: it
// debounces input changes, consults the result cache, runs the engine on a
// miss and publishes results to the UI store. Scrolling only re-windows the
// current layout.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/debounce"
	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/timeline"
	"github.com/kalambet/branchline/internal/viewport"
)

// ErrNoInput is returned by ForceRecalculate before anything was submitted.
var ErrNoInput = errors.New("no feeds submitted")

// Calculator computes a layout. *layout.Engine satisfies it.
type Calculator interface {
	Calculate(ctx context.Context, feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64) (layout.Result, error)
}

// Config holds the controller's tunables. Zero values take the defaults.
type Config struct {
	DebounceDelay   time.Duration // default 150ms
	ScrollDelay     time.Duration // default 16ms
	Buffer          float64       // default 200
	Viewport        timeline.Viewport
	AutoRecalculate bool
	Style           layout.Style
}

func (c Config) withDefaults() Config {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 150 * time.Millisecond
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = 16 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = viewport.DefaultBuffer
	}
	if c.Viewport.Height <= 0 {
		c.Viewport.Height = 800
	}
	return c
}

// Option configures a Controller.
type Option func(*Controller)

// WithCalculator replaces the layout engine.
func WithCalculator(calc Calculator) Option {
	return func(c *Controller) { c.calc = calc }
}

// WithScheduler replaces the timer source of both debouncers.
func WithScheduler(s debounce.Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

type input struct {
	feeds  []timeline.FeedItem
	stages map[string]timeline.StagePosition
}

// Controller is safe for concurrent use.
type Controller struct {
	cfg    Config
	cache  *cache.Cache
	store  *state.Store
	calc   Calculator
	sched  debounce.Scheduler
	logger *slog.Logger

	recalc *debounce.Debouncer[input]
	scroll *debounce.Debouncer[timeline.Viewport]
	unsub  func()

	mu       sync.Mutex
	current  input
	hasInput bool
	project  *timeline.Project
	vp       timeline.Viewport
	filters  []string
	stateRev uint64 // last store revision seen by onState
	gen      uint64
	closed   bool

	// applyMu orders publication of results and windows.
	applyMu sync.Mutex
	applied uint64
}

// New creates a Controller publishing into store and caching in c.
func New(cfg Config, c *cache.Cache, store *state.Store, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	ctl := &Controller{
		cfg:    cfg,
		cache:  c,
		store:  store,
		vp:     cfg.Viewport,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	if ctl.calc == nil {
		ctl.calc = layout.NewEngine(cfg.Style)
	}

	var dopts []debounce.Option
	if ctl.sched != nil {
		dopts = append(dopts, debounce.WithScheduler(ctl.sched))
	}
	ctl.recalc = debounce.New(cfg.DebounceDelay, ctl.settle, dopts...)
	ctl.scroll = debounce.New(cfg.ScrollDelay, ctl.settleScroll, dopts...)

	st := store.State()
	ctl.filters = st.Filters
	ctl.stateRev = st.Revision
	ctl.unsub = store.Subscribe(ctl.onState)
	return ctl
}

// Submit schedules a recalculation for a new generation of inputs. Calls
// within the debounce window collapse into one; the last one wins.
func (c *Controller) Submit(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition) {
	in := input{
		feeds:  append([]timeline.FeedItem(nil), feeds...),
		stages: cloneStages(stages),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.current = in
	c.hasInput = true
	c.mu.Unlock()

	c.recalc.Trigger(in)
}

// SetProject derives stage anchors from the project's phases and submits.
func (c *Controller) SetProject(project timeline.Project, feeds []timeline.FeedItem) {
	anchors, ok := c.cache.GetStagePositions(project, feeds)
	if !ok {
		anchors = layout.StageAnchors(project, feeds, c.cfg.Style)
		c.cache.SetStagePositions(project, feeds, anchors)
	}

	c.mu.Lock()
	p := project
	c.project = &p
	c.mu.Unlock()

	c.Submit(feeds, anchors)
}

// ForceRecalculate drops any pending debounce and the cached results for the
// current input, then recalculates synchronously.
func (c *Controller) ForceRecalculate(ctx context.Context) error {
	c.recalc.Cancel()

	c.mu.Lock()
	if !c.hasInput {
		c.mu.Unlock()
		return ErrNoInput
	}
	in := c.current
	vh := c.vp.Height
	filters := append([]string(nil), c.filters...)
	c.mu.Unlock()

	c.cache.InvalidateLayout(c.filtered(in.feeds, filters), in.stages, vh)
	return c.recalculate(ctx, in, true)
}

// InvalidateFeed drops every cached result derived from feedID. With
// AutoRecalculate set, a debounced recalculation of the current input
// follows. Returns the number of cache entries removed.
func (c *Controller) InvalidateFeed(feedID string) int {
	n := c.cache.InvalidateFeed(feedID)

	c.mu.Lock()
	schedule := c.cfg.AutoRecalculate && c.hasInput && !c.closed
	in := c.current
	c.mu.Unlock()

	if schedule {
		c.recalc.Trigger(in)
	}
	return n
}

// SetViewport updates the viewport and re-windows after the scroll delay.
// A height change also schedules a debounced recalculation, since lane
// wrapping depends on the viewport height.
func (c *Controller) SetViewport(vp timeline.Viewport) {
	c.setViewport(vp)
}

func (c *Controller) setViewport(vp timeline.Viewport) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	resized := vp.Height != c.vp.Height
	c.vp = vp
	schedule := resized && c.hasInput
	in := c.current
	c.mu.Unlock()

	c.store.Dispatch(state.SetScroll{Top: vp.ScrollTop, Left: vp.ScrollLeft})
	c.scroll.Trigger(vp)
	if schedule {
		c.recalc.Trigger(in)
	}
	return true
}

// SetViewportNow is SetViewport without the scroll delay: the window is
// recomputed before it returns. It returns the visible feeds.
func (c *Controller) SetViewportNow(vp timeline.Viewport) []timeline.PositionedFeed {
	if !c.setViewport(vp) {
		return c.store.State().VisibleFeeds
	}
	c.scroll.Cancel()

	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	return c.publishWindow(c.store.State().PositionedFeeds, c.Viewport())
}

// Scroll moves the viewport vertically.
func (c *Controller) Scroll(scrollTop float64) {
	vp := c.Viewport()
	vp.ScrollTop = scrollTop
	c.SetViewport(vp)
}

// ScrollNow moves the viewport vertically and returns the new window.
func (c *Controller) ScrollNow(scrollTop float64) []timeline.PositionedFeed {
	vp := c.Viewport()
	vp.ScrollTop = scrollTop
	return c.SetViewportNow(vp)
}

// Viewport returns the current viewport.
func (c *Controller) Viewport() timeline.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp
}

// Pending reports whether a recalculation is scheduled.
func (c *Controller) Pending() bool {
	return c.recalc.Pending()
}

// Close stops pending timers and detaches from the store. Later calls to
// Submit and SetViewport are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.recalc.Cancel()
	c.scroll.Cancel()
	c.unsub()
}

func (c *Controller) settle(in input) {
	if err := c.recalculate(context.Background(), in, false); err != nil {
		c.logger.Warn("layout recalculation failed", "error", err)
	}
}

func (c *Controller) settleScroll(vp timeline.Viewport) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.publishWindow(c.store.State().PositionedFeeds, vp)
}

// onState reschedules a recalculation when the active filter set changes.
// Snapshots older than one already seen are dropped.
func (c *Controller) onState(s state.State) {
	c.mu.Lock()
	if s.Revision <= c.stateRev {
		c.mu.Unlock()
		return
	}
	c.stateRev = s.Revision
	changed := !slices.Equal(c.filters, s.Filters)
	if changed {
		c.filters = append([]string(nil), s.Filters...)
	}
	schedule := changed && c.hasInput && !c.closed
	in := c.current
	c.mu.Unlock()

	if schedule {
		c.recalc.Trigger(in)
	}
}

func (c *Controller) recalculate(ctx context.Context, in input, force bool) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	vh := c.vp.Height
	filters := append([]string(nil), c.filters...)
	c.mu.Unlock()

	feeds := c.filtered(in.feeds, filters)

	if !force {
		if res, ok := c.cache.GetLayoutResult(feeds, in.stages, vh); ok {
			c.store.Dispatch(state.RecordCache{Hit: true})
			c.publish(gen, res)
			return nil
		}
		c.store.Dispatch(state.RecordCache{Hit: false})
	}

	c.store.Dispatch(state.SetCalculating{Calculating: true, Generation: gen})
	res, err := c.safeCalculate(ctx, feeds, in.stages, vh)
	if err != nil {
		c.applyMu.Lock()
		if gen >= c.applied {
			c.store.Dispatch(state.SetError{Err: err.Error()})
		}
		c.applyMu.Unlock()
		return fmt.Errorf("calculating layout: %w", err)
	}

	c.cache.SetLayoutResult(feeds, in.stages, vh, res)
	c.store.Dispatch(state.RecordCalculation{Duration: res.Metrics.CalculationTime})
	c.publish(gen, res)
	return nil
}

func (c *Controller) safeCalculate(ctx context.Context, feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, vh float64) (res layout.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layout panicked: %v", r)
		}
	}()
	return c.calc.Calculate(ctx, feeds, stages, vh)
}

// publish applies res unless a newer generation has already been applied.
func (c *Controller) publish(gen uint64, res layout.Result) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if gen < c.applied {
		c.logger.Debug("discarding stale layout", "generation", gen, "applied", c.applied)
		return
	}
	c.applied = gen

	c.store.Dispatch(state.SetLayoutResult{
		PositionedFeeds: res.PositionedFeeds,
		Connectors:      res.Connectors,
		Metrics:         res.Metrics,
		Generation:      gen,
	})
	c.publishWindow(res.PositionedFeeds, c.Viewport())
}

// publishWindow dispatches and returns the visible subset. Caller must hold
// applyMu.
func (c *Controller) publishWindow(positioned []timeline.PositionedFeed, vp timeline.Viewport) []timeline.PositionedFeed {
	w := viewport.Window{Viewport: vp, Buffer: c.cfg.Buffer}
	visible := w.Filter(positioned)
	c.store.Dispatch(state.SetVisibleFeeds{Feeds: visible})
	return visible
}

func (c *Controller) filtered(feeds []timeline.FeedItem, filters []string) []timeline.FeedItem {
	if len(filters) == 0 {
		return feeds
	}
	if out, ok := c.cache.GetFilteredFeeds(feeds, filters); ok {
		return out
	}
	out := layout.FilterFeeds(feeds, filters)
	c.cache.SetFilteredFeeds(feeds, filters, out)
	return out
}

func cloneStages(stages map[string]timeline.StagePosition) map[string]timeline.StagePosition {
	out := make(map[string]timeline.StagePosition, len(stages))
	for k, v := range stages {
		out[k] = v
	}
	return out
}
