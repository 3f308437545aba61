// Package feedsync watches the feed store for a project and pushes each new
// generation of feeds to the layout controller.
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/timeline"
)

// Source loads the current inputs for a project.
type Source interface {
	LoadTimeline(projectID string) (timeline.Project, []timeline.FeedItem, error)
}

// Sink receives a new generation of inputs. *controller.Controller
// satisfies it.
type Sink interface {
	SetProject(project timeline.Project, feeds []timeline.FeedItem)
}

// Worker polls a Source and forwards changed content to a Sink. A generation
// is identified by content, so re-saving identical rows does not resubmit.
type Worker struct {
	source    Source
	sink      Sink
	projectID string
	poll      time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last string
}

// NewWorker creates a Worker for one project.
// If pollInterval is <= 0, it defaults to 1s.
func NewWorker(source Source, sink Sink, projectID string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		source:    source,
		sink:      sink,
		projectID: projectID,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("feed sync iteration failed", "project", w.projectID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce loads the project and submits it if its content changed since the
// last submission. Returns true if a new generation was submitted.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	project, feeds, err := w.source.LoadTimeline(w.projectID)
	if err != nil {
		return false, fmt.Errorf("loading project %s: %w", w.projectID, err)
	}

	fp := Fingerprint(project, feeds)
	w.mu.Lock()
	if fp == w.last {
		w.mu.Unlock()
		return false, nil
	}
	w.last = fp
	w.mu.Unlock()

	w.logger.Debug("feed generation changed", "project", w.projectID, "feeds", len(feeds))
	w.sink.SetProject(project, feeds)
	return true, nil
}

// Reset forgets the last fingerprint so the next poll resubmits.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = ""
}

// Fingerprint identifies a generation of inputs by content. Feed order does
// not matter.
func Fingerprint(project timeline.Project, feeds []timeline.FeedItem) string {
	return cache.StagesKey(project, feeds) + "/" + cache.PositionsKey(feeds, nil)
}
