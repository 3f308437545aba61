package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/kalambet/branchline/internal/layout"
	"github.com/kalambet/branchline/internal/timeline"
)

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fixtures ---

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleFeeds() []timeline.FeedItem {
	return []timeline.FeedItem{
		{ID: "f1", Phase: "ideation", Type: "note", Priority: "low", Status: "new", CreatedAt: t0},
		{ID: "f2", Phase: "ideation", Type: "task", Priority: "high", Status: "open", CreatedAt: t0.Add(time.Hour)},
		{ID: "f3", Phase: "validation", Type: "note", Priority: "medium", Status: "done", CreatedAt: t0.Add(2 * time.Hour)},
	}
}

func sampleStages() map[string]timeline.StagePosition {
	return map[string]timeline.StagePosition{
		"ideation":   {Phase: "ideation", X: 40, Y: 0, Height: 320, Spacing: 80},
		"validation": {Phase: "validation", X: 40, Y: 320, Height: 160, Spacing: 80},
	}
}

func calculate(t *testing.T, feeds []timeline.FeedItem, stages map[string]timeline.StagePosition) layout.Result {
	t.Helper()
	res, err := layout.NewEngine(layout.DefaultStyle()).Calculate(context.Background(), feeds, stages, 800)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	return res
}

// --- Table ---

func TestTable_SetThenGet(t *testing.T) {
	tbl := NewTable[string]("t", Options{Clock: newMockClock()})

	tbl.Set("k", "v")
	got, ok := tbl.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = %q, %v; want v, true", got, ok)
	}

	e, ok := tbl.Entry("k")
	if !ok {
		t.Fatal("Entry missing")
	}
	if e.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", e.AccessCount)
	}
	if e.Hash == "" {
		t.Error("expected content hash to be set")
	}
}

func TestTable_TTLExpiry(t *testing.T) {
	clock := newMockClock()
	tbl := NewTable[int]("t", Options{MaxAge: time.Second, Clock: clock})

	tbl.Set("k", 42)
	clock.Advance(999 * time.Millisecond)
	if _, ok := tbl.Get("k"); !ok {
		t.Fatal("entry should still be valid at 999ms")
	}

	clock.Advance(2 * time.Millisecond)
	if _, ok := tbl.Get("k"); ok {
		t.Fatal("entry should be expired at 1001ms")
	}
	if tbl.Len() != 0 {
		t.Errorf("expired entry not purged, Len = %d", tbl.Len())
	}

	st := tbl.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Expired != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 expired", st)
	}
}

func TestTable_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newMockClock()
	tbl := NewTable[string]("t", Options{MaxEntries: 3, Clock: clock})

	tbl.Set("a", "A")
	clock.Advance(time.Millisecond)
	tbl.Set("b", "B")
	clock.Advance(time.Millisecond)
	tbl.Set("c", "C")
	clock.Advance(time.Millisecond)

	// Touch the two oldest; c is the newest by insertion but never re-read.
	tbl.Get("a")
	clock.Advance(time.Millisecond)
	tbl.Get("b")
	clock.Advance(time.Millisecond)

	tbl.Set("d", "D")

	if diff := cmp.Diff([]string{"a", "b", "d"}, tbl.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if st := tbl.Stats(); st.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Evictions)
	}
}

func TestTable_EvictionTieBrokenByAccessOrder(t *testing.T) {
	// Frozen clock: every entry shares the same LastAccess.
	tbl := NewTable[int]("t", Options{MaxEntries: 2, Clock: newMockClock()})

	tbl.Set("a", 1)
	tbl.Set("b", 2)
	tbl.Get("a")
	tbl.Set("c", 3)

	if diff := cmp.Diff([]string{"a", "c"}, tbl.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_SetReplacesFeedIndex(t *testing.T) {
	tbl := NewTable[string]("t", Options{Clock: newMockClock()})

	tbl.Set("k", "v1", "f1")
	tbl.Set("k", "v2", "f2")

	if n := tbl.InvalidateFeed("f1"); n != 0 {
		t.Errorf("InvalidateFeed(f1) = %d, want 0 after replace", n)
	}
	if n := tbl.InvalidateFeed("f2"); n != 1 {
		t.Errorf("InvalidateFeed(f2) = %d, want 1", n)
	}
}

func TestTable_Sweep(t *testing.T) {
	clock := newMockClock()
	tbl := NewTable[int]("t", Options{MaxAge: time.Minute, Clock: clock})

	tbl.Set("old", 1)
	clock.Advance(45 * time.Second)
	tbl.Set("new", 2)
	clock.Advance(30 * time.Second)

	if n := tbl.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if diff := cmp.Diff([]string{"new"}, tbl.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

// --- Keys ---

func TestKeys_OrderInsensitiveForFeeds(t *testing.T) {
	feeds := sampleFeeds()
	reversed := []timeline.FeedItem{feeds[2], feeds[1], feeds[0]}
	stages := sampleStages()

	if LayoutKey(feeds, stages, 800) != LayoutKey(reversed, stages, 800) {
		t.Error("LayoutKey should not depend on feed order")
	}
	if LayoutKey(feeds, stages, 800) == LayoutKey(feeds, stages, 600) {
		t.Error("LayoutKey should depend on viewport height")
	}

	changed := sampleFeeds()
	changed[1].Status = "done"
	if LayoutKey(feeds, stages, 800) == LayoutKey(changed, stages, 800) {
		t.Error("LayoutKey should change when a feed changes")
	}
}

func TestKeys_Filtered(t *testing.T) {
	feeds := sampleFeeds()

	a := FilteredKey(feeds, []string{"type:note", "status:done"})
	b := FilteredKey(feeds, []string{"status:done", "type:note"})
	if a != b {
		t.Error("FilteredKey should not depend on filter order")
	}
	if a == FilteredKey(feeds, []string{"type:note"}) {
		t.Error("FilteredKey should depend on the filter set")
	}
}

func TestKeys_Namespaced(t *testing.T) {
	feeds := sampleFeeds()
	stages := sampleStages()

	keys := []string{
		LayoutKey(feeds, stages, 800),
		PositionsKey(feeds, stages),
		StagesKey(timeline.Project{ID: "p"}, feeds),
		ConnectorsKey(nil),
		FilteredKey(feeds, nil),
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

// --- Cache ---

func TestCache_LayoutRoundTripAndTTL(t *testing.T) {
	clock := newMockClock()
	c := New(Options{MaxAge: 1000 * time.Millisecond, Clock: clock})
	feeds := sampleFeeds()
	stages := sampleStages()
	res := calculate(t, feeds, stages)

	c.SetLayoutResult(feeds, stages, 800, res)

	got, ok := c.GetLayoutResult(feeds, stages, 800)
	if !ok {
		t.Fatal("expected layout hit")
	}
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.GetPositions(feeds, stages); !ok {
		t.Error("SetLayoutResult should also cache positions")
	}
	if _, ok := c.GetConnectors(res.PositionedFeeds); !ok {
		t.Error("SetLayoutResult should also cache connectors")
	}

	clock.Advance(1001 * time.Millisecond)
	if _, ok := c.GetLayoutResult(feeds, stages, 800); ok {
		t.Error("expected layout miss after maxAge")
	}
}

func TestCache_InvalidateFeed(t *testing.T) {
	c := New(Options{Clock: newMockClock()})
	feeds := sampleFeeds()
	stages := sampleStages()
	res := calculate(t, feeds, stages)
	project := timeline.Project{ID: "p", Phases: []timeline.Phase{{ID: "ideation"}, {ID: "validation", Order: 1}}}

	c.SetLayoutResult(feeds, stages, 800, res)
	c.SetStagePositions(project, feeds, stages)
	c.SetFilteredFeeds(feeds, []string{"type:note"}, layout.FilterFeeds(feeds, []string{"type:note"}))

	other := []timeline.FeedItem{{ID: "x9", Phase: "ideation", CreatedAt: t0}}
	c.SetFilteredFeeds(other, nil, other)

	if n := c.InvalidateFeed("f2"); n != 5 {
		t.Errorf("InvalidateFeed = %d, want 5", n)
	}
	if _, ok := c.GetLayoutResult(feeds, stages, 800); ok {
		t.Error("layout should be gone")
	}
	if _, ok := c.GetStagePositions(project, feeds); ok {
		t.Error("stage positions should be gone")
	}
	if _, ok := c.GetFilteredFeeds(other, nil); !ok {
		t.Error("unrelated entry should survive")
	}
}

func TestCache_InvalidateLayout(t *testing.T) {
	c := New(Options{Clock: newMockClock()})
	feeds := sampleFeeds()
	stages := sampleStages()

	c.SetLayoutResult(feeds, stages, 800, calculate(t, feeds, stages))
	c.InvalidateLayout(feeds, stages, 800)

	if _, ok := c.GetLayoutResult(feeds, stages, 800); ok {
		t.Error("layout should be gone")
	}
	if _, ok := c.GetPositions(feeds, stages); ok {
		t.Error("positions should be gone")
	}
}

func TestCache_Stats(t *testing.T) {
	c := New(Options{Clock: newMockClock()})
	feeds := sampleFeeds()
	stages := sampleStages()

	c.GetLayoutResult(feeds, stages, 800)
	c.SetLayoutResult(feeds, stages, 800, calculate(t, feeds, stages))
	c.GetLayoutResult(feeds, stages, 800)

	st := c.Stats()
	if st.TotalEntries != 3 {
		t.Errorf("TotalEntries = %d, want 3", st.TotalEntries)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if st.MaxEntries != 50 || st.MaxAge != "5m0s" {
		t.Errorf("defaults = %d/%s", st.MaxEntries, st.MaxAge)
	}
	if len(st.Tables) != 5 {
		t.Errorf("len(Tables) = %d, want 5", len(st.Tables))
	}

	if n := c.InvalidateAll(); n != 3 {
		t.Errorf("InvalidateAll = %d, want 3", n)
	}
}

func TestCache_RunSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newMockClock()
	c := New(Options{MaxAge: time.Second, CleanupInterval: 5 * time.Millisecond, Clock: clock})
	c.SetFilteredFeeds(nil, []string{"type:note"}, nil)
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.Stats().TotalEntries != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove expired entry")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
