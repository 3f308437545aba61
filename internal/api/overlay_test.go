package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/branchline/internal/cache"
	"github.com/kalambet/branchline/internal/controller"
	"github.com/kalambet/branchline/internal/debounce"
	"github.com/kalambet/branchline/internal/state"
	"github.com/kalambet/branchline/internal/storage"
	"github.com/kalambet/branchline/internal/timeline"
)

const testToken = "test-token-12345"

// heldScheduler never fires; tests drive the controller synchronously.
type heldScheduler struct{}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (heldScheduler) AfterFunc(time.Duration, func()) debounce.Timer { return heldTimer{} }

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testFeeds() []timeline.FeedItem {
	return []timeline.FeedItem{
		{ID: "a", Phase: "ideation", Type: "note", Status: "done", CreatedAt: t0, Metadata: map[string]string{"title": "Kickoff"}},
		{ID: "b", Phase: "ideation", Type: "task", Status: "open", CreatedAt: t0.Add(time.Hour)},
		{ID: "c", Phase: "growth", Type: "note", Status: "open", CreatedAt: t0},
	}
}

func testStages() map[string]timeline.StagePosition {
	return map[string]timeline.StagePosition{
		"ideation": {Phase: "ideation", X: 40, Y: 0},
		"growth":   {Phase: "growth", X: 40, Y: 5000},
	}
}

type overlay struct {
	handler http.Handler
	ctl     *controller.Controller
	store   *state.Store
	feeds   *storage.Store
}

func setupOverlay(t *testing.T, token string) *overlay {
	t.Helper()
	feeds, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { feeds.Close() })

	c := cache.New(cache.Options{})
	store := state.NewStore(state.InitialState())
	ctl := controller.New(controller.Config{}, c, store, controller.WithScheduler(heldScheduler{}))
	t.Cleanup(ctl.Close)

	return &overlay{
		handler: NewOverlayHandler(OverlayDeps{
			Timeline: ctl,
			Store:    store,
			Actions:  state.NewActions(store, c),
			Feeds:    feeds,
			Token:    token,
		}),
		ctl:   ctl,
		store: store,
		feeds: feeds,
	}
}

// load submits the fixture and recalculates synchronously.
func (o *overlay) load(t *testing.T) {
	t.Helper()
	o.ctl.Submit(testFeeds(), testStages())
	rec := o.do(t, http.MethodPost, "/timeline/refresh", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
}

func (o *overlay) do(t *testing.T, method, url, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	o.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v\n%s", err, rec.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	o := setupOverlay(t, testToken)
	rec := o.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	o := setupOverlay(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	o.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

func TestAuth(t *testing.T) {
	o := setupOverlay(t, testToken)

	if rec := o.do(t, http.MethodGet, "/timeline", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := o.do(t, http.MethodGet, "/timeline", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
	if rec := o.do(t, http.MethodGet, "/timeline", "", testToken); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
	if rec := o.do(t, http.MethodGet, "/timeline/svg?access_token="+testToken, "", ""); rec.Code != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", rec.Code)
	}
	if rec := o.do(t, http.MethodGet, "/timeline/svg?access_token=wrong", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token: status = %d, want 401", rec.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	o := setupOverlay(t, "")
	if rec := o.do(t, http.MethodGet, "/debug/cache", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRefresh_NoInput(t *testing.T) {
	o := setupOverlay(t, "")
	rec := o.do(t, http.MethodPost, "/timeline/refresh", "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSnapshotAndVisible(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	snap := decode[controller.Snapshot](t, o.do(t, http.MethodGet, "/timeline", "", ""))
	if len(snap.PositionedFeeds) != 3 {
		t.Errorf("positioned = %d, want 3", len(snap.PositionedFeeds))
	}
	if snap.Generation == 0 {
		t.Error("generation not advanced")
	}

	vis := decode[struct {
		Count      int      `json:"count"`
		Total      int      `json:"total"`
		MountedIDs []string `json:"mounted_ids"`
	}](t, o.do(t, http.MethodGet, "/timeline/visible", "", ""))
	if diff := cmp.Diff([]string{"a", "b"}, vis.MountedIDs); diff != "" {
		t.Errorf("mounted mismatch (-want +got):\n%s", diff)
	}
	if vis.Count != 2 || vis.Total != 3 {
		t.Errorf("count/total = %d/%d, want 2/3", vis.Count, vis.Total)
	}
}

func TestDebugEndpoints(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	stats := decode[cache.Stats](t, o.do(t, http.MethodGet, "/debug/cache", "", ""))
	if stats.TotalEntries == 0 {
		t.Error("cache should hold the refreshed layout")
	}

	perf := decode[controller.Performance](t, o.do(t, http.MethodGet, "/debug/performance", "", ""))
	if perf.CalculationCount != 1 {
		t.Errorf("calculation count = %d, want 1", perf.CalculationCount)
	}
}

func TestActions(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	tests := []struct {
		name  string
		body  string
		code  int
		check func(t *testing.T, s state.State)
	}{
		{"hover", `{"type":"set_hover","id":"a"}`, http.StatusOK, func(t *testing.T, s state.State) {
			if s.HoveredID != "a" {
				t.Errorf("hovered = %q", s.HoveredID)
			}
		}},
		{"expand", `{"type":"set_expanded","id":"b","expanded":true}`, http.StatusOK, func(t *testing.T, s state.State) {
			if !s.IsExpanded("b") {
				t.Error("b not expanded")
			}
		}},
		{"view mode", `{"type":"set_view_mode","mode":"compact"}`, http.StatusOK, func(t *testing.T, s state.State) {
			if s.ViewMode != state.ViewCompact {
				t.Errorf("view mode = %q", s.ViewMode)
			}
		}},
		{"scroll", `{"type":"set_scroll","top":120}`, http.StatusOK, func(t *testing.T, s state.State) {
			if s.ScrollTop != 120 {
				t.Errorf("scroll top = %v", s.ScrollTop)
			}
		}},
		{"unknown", `{"type":"explode"}`, http.StatusBadRequest, nil},
		{"computed result rejected", `{"type":"set_layout_result"}`, http.StatusBadRequest, nil},
		{"malformed", `{`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := o.do(t, http.MethodPost, "/timeline/actions", tt.body, "")
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decode[state.State](t, rec))
			}
		})
	}

	if got := o.ctl.Viewport().ScrollTop; got != 120 {
		t.Errorf("controller viewport scroll top = %v, want 120", got)
	}
}

func TestActions_ScrollReturnsNewWindow(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	rec := o.do(t, http.MethodPost, "/timeline/actions", `{"type":"set_scroll","top":4900}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	s := decode[state.State](t, rec)
	if diff := cmp.Diff([]string{"c"}, timeline.PositionedIDs(s.VisibleFeeds)); diff != "" {
		t.Errorf("visible after scroll (-want +got):\n%s", diff)
	}
}

func TestActions_ResetClearsCache(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	rec := o.do(t, http.MethodPost, "/timeline/actions", `{"type":"reset_state"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	s := decode[state.State](t, rec)
	if len(s.PositionedFeeds) != 0 || s.Generation != 0 {
		t.Errorf("state not reset: %d positioned, generation %d", len(s.PositionedFeeds), s.Generation)
	}

	stats := decode[cache.Stats](t, o.do(t, http.MethodGet, "/debug/cache", "", ""))
	if stats.TotalEntries != 0 {
		t.Errorf("cache entries after reset = %d, want 0", stats.TotalEntries)
	}
}

func TestSVG(t *testing.T) {
	o := setupOverlay(t, "")
	o.load(t)

	rec := o.do(t, http.MethodGet, "/timeline/svg?width=640&title=Plan", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `data-id="a"`) || strings.Contains(out, `data-id="c"`) {
		t.Errorf("unexpected mounted nodes:\n%s", out)
	}
	if !strings.Contains(out, `width="640"`) {
		t.Error("width option ignored")
	}

	if rec := o.do(t, http.MethodGet, "/timeline/svg?width=abc", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad width: status = %d, want 400", rec.Code)
	}
}

func TestViewport(t *testing.T) {
	o := setupOverlay(t, "")

	rec := o.do(t, http.MethodPut, "/timeline/viewport", `{"width":1024,"height":600,"scroll_top":300}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	want := timeline.Viewport{Width: 1024, Height: 600, ScrollTop: 300}
	if diff := cmp.Diff(want, o.ctl.Viewport()); diff != "" {
		t.Errorf("viewport mismatch (-want +got):\n%s", diff)
	}
	if o.store.State().ScrollTop != 300 {
		t.Errorf("store scroll top = %v", o.store.State().ScrollTop)
	}

	if rec := o.do(t, http.MethodPut, "/timeline/viewport", `{"height":0}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("zero height: status = %d, want 400", rec.Code)
	}
}

func TestDeleteFeed(t *testing.T) {
	o := setupOverlay(t, "")
	if err := o.feeds.SaveProject(storage.Project{ID: "p", Name: "P"}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if err := o.feeds.SaveFeedItem(storage.FeedItem{ID: "a", ProjectID: "p", Phase: "ideation", Type: "note", Status: "done"}); err != nil {
		t.Fatalf("SaveFeedItem: %v", err)
	}
	o.load(t)

	rec := o.do(t, http.MethodDelete, "/timeline/feeds/a", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		ID          string `json:"id"`
		Invalidated int    `json:"invalidated"`
	}](t, rec)
	if resp.ID != "a" || resp.Invalidated == 0 {
		t.Errorf("response = %+v, want entries invalidated for a", resp)
	}
	if _, err := o.feeds.GetFeedItem("a"); err == nil {
		t.Error("feed still stored")
	}

	if rec := o.do(t, http.MethodDelete, "/timeline/feeds/a", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}
