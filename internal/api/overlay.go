package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/controller"
	"github.com/kalambet/branchline/internal/render"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/storage"
	"github.com/kalambet/branchline/internal/timeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Timeline is the controller surface the overlay drives.
type Timeline interface {
	Snapshot() controller.Snapshot
	PerformanceStats() controller.Performance
	CacheStats() cache.Stats
	ForceRecalculate(ctx context.Context) error
	InvalidateFeed(feedID string) int
	SetViewport(vp timeline.Viewport)
	SetViewportNow(vp timeline.Viewport) []timeline.PositionedFeed
	ScrollNow(scrollTop float64) []timeline.PositionedFeed
}

var _ Timeline = (*controller.Controller)(nil)

// FeedDeleter removes a feed from the upstream source.
type FeedDeleter interface {
	DeleteFeedItem(id string) error
}

// OverlayDeps holds dependencies for the development overlay.
type OverlayDeps struct {
	Timeline Timeline
	Store    *state.Store
	Actions  *state.Actions
	Feeds    FeedDeleter // optional; if nil, DELETE only invalidates the cache
	Token    string      // optional bearer token
}

// NewOverlayHandler returns the development overlay: read-only views of the
// timeline state, cache and performance counters, plus a few controls.
func NewOverlayHandler(deps OverlayDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/debug/cache", handleCacheStats(deps))
		r.Get("/debug/performance", handlePerformance(deps))

		r.Get("/timeline", handleSnapshot(deps))
		r.Get("/timeline/state", handleState(deps))
		r.Get("/timeline/visible", handleVisible(deps))
		r.Get("/timeline/svg", handleSVG(deps))
		r.Post("/timeline/refresh", handleRefresh(deps))
		r.Post("/timeline/actions", handleAction(deps))
		r.Put("/timeline/viewport", handleViewport(deps))
		r.Delete("/timeline/feeds/{id}", handleDeleteFeed(deps))
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCacheStats(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Timeline.CacheStats())
	}
}

func handlePerformance(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Timeline.PerformanceStats())
	}
}

func handleSnapshot(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Timeline.Snapshot())
	}
}

func handleState(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Store.State())
	}
}

func handleVisible(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Timeline.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"viewport":    snap.Viewport,
			"count":       len(snap.VisibleFeeds),
			"total":       len(snap.PositionedFeeds),
			"feeds":       snap.VisibleFeeds,
			"mounted_ids": timeline.PositionedIDs(snap.VisibleFeeds),
		})
	}
}

func handleSVG(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := render.Options{
			Title:      r.URL.Query().Get("title"),
			Background: r.URL.Query().Get("background"),
		}
		if v := r.URL.Query().Get("width"); v != "" {
			width, err := strconv.ParseFloat(v, 64)
			if err != nil || width <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid width %q", v)
				return
			}
			opts.Width = width
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		if err := render.SVG(w, deps.Store.State(), opts); err != nil {
			slog.Warn("writing svg", "error", err)
		}
	}
}

func handleRefresh(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Timeline.ForceRecalculate(r.Context())
		switch {
		case errors.Is(err, controller.ErrNoInput):
			httpError(w, http.StatusConflict, "invalid_request_error", "no timeline data loaded")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "layout_error", "recalculation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Timeline.Snapshot())
	}
}

func handleAction(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		action, err := state.DecodeAction(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		switch a := action.(type) {
		case state.ResetState:
			deps.Actions.Reset()
		case state.SetScroll:
			vp := deps.Timeline.Snapshot().Viewport
			vp.ScrollTop, vp.ScrollLeft = a.Top, a.Left
			deps.Timeline.SetViewportNow(vp)
		default:
			deps.Store.Dispatch(action)
		}

		writeJSON(w, http.StatusOK, deps.Store.State())
	}
}

func handleViewport(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var vp timeline.Viewport
		if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if vp.Height <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "height must be positive")
			return
		}

		deps.Timeline.SetViewport(vp)
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleDeleteFeed(deps OverlayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if deps.Feeds != nil {
			if err := deps.Feeds.DeleteFeedItem(id); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					httpError(w, http.StatusNotFound, "not_found_error", "feed %s not found", id)
					return
				}
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete feed: %v", err)
				return
			}
		}

		n := deps.Timeline.InvalidateFeed(id)
		slog.Debug("feed invalidated", "feed_id", id, "entries", n)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "invalidated": n})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
