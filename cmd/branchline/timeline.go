package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/config"
	"github.com/kalambet/branchline/internal/controller"
	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/storage"
	"github.com/kalambet/branchline/internal/timeline"
)

// pipeline is the cache, UI store and controller of one process.
type pipeline struct {
	cache   *cache.Cache
	ui      *state.Store
	actions *state.Actions
	ctl     *controller.Controller
}

// viewOptions seed the UI state before the controller attaches.
type viewOptions struct {
	ScrollTop float64
	Height    float64
	Filters   []string
	Mode      state.ViewMode
}

func newPipeline(cfg config.Config, view viewOptions) (*pipeline, error) {
	style, err := layout.LoadStyle(cfg.Layout.StyleFile)
	if err != nil {
		return nil, err
	}

	initial := state.InitialState()
	initial = state.Reduce(initial, state.SetScroll{Top: view.ScrollTop})
	initial = state.Reduce(initial, state.SetFilters{Filters: view.Filters})
	if view.Mode != "" {
		if !view.Mode.Valid() {
			return nil, fmt.Errorf("unknown view mode %q", view.Mode)
		}
		initial = state.Reduce(initial, state.SetViewMode{Mode: view.Mode})
	}

	height := view.Height
	if height <= 0 {
		height = cfg.Viewport.Height
	}

	p := &pipeline{
		cache: cache.New(cache.Options{
			MaxAge:          cfg.Cache.MaxAge,
			MaxEntries:      cfg.Cache.MaxEntries,
			CleanupInterval: cfg.Cache.CleanupInterval,
		}),
		ui: state.NewStore(initial, state.MeasureMiddleware(nil), state.LogMiddleware(slog.Default())),
	}
	p.actions = state.NewActions(p.ui, p.cache)
	p.ctl = controller.New(controller.Config{
		DebounceDelay:   cfg.Controller.DebounceDelay,
		ScrollDelay:     cfg.Viewport.ScrollDelay,
		Buffer:          cfg.Viewport.Buffer,
		Viewport:        timeline.Viewport{Height: height, ScrollTop: view.ScrollTop},
		AutoRecalculate: cfg.Controller.AutoRecalculate,
		Style:           style,
	}, p.cache, p.ui)
	return p, nil
}

// Close detaches the controller.
func (p *pipeline) Close() {
	p.ctl.Close()
}

// computeOnce loads a project from the store and lays it out synchronously.
func computeOnce(ctx context.Context, cfg config.Config, store *storage.Store, projectID string, view viewOptions) (*pipeline, error) {
	project, feeds, err := store.LoadTimeline(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}

	p, err := newPipeline(cfg, view)
	if err != nil {
		return nil, err
	}
	p.ctl.SetProject(project, feeds)
	if err := p.ctl.ForceRecalculate(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

// openStore opens the feed store under the configured data directory.
func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}
