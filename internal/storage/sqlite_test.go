package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/branchline/internal/timeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the lookup indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_phases_project", "idx_feed_items_project"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func seedProject(t *testing.T, s *Store) {
	t.Helper()
	if err := s.SaveProject(Project{ID: "p1", Name: "Launch"}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	for _, ph := range []Phase{
		{ID: "validation", ProjectID: "p1", Order: 1},
		{ID: "ideation", ProjectID: "p1", Name: "Ideation", Order: 0},
	} {
		if err := s.SavePhase(ph); err != nil {
			t.Fatalf("SavePhase(%s): %v", ph.ID, err)
		}
	}
}

// TestProjectRoundTrip saves a project and reads it back, including upsert.
func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := s.SaveProject(Project{ID: "p1", Name: "Launch", CreatedAt: created}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if err := s.SaveProject(Project{ID: "p1", Name: "Launch v2"}); err != nil {
		t.Fatalf("SaveProject upsert: %v", err)
	}

	got, err := s.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "Launch v2" || !got.CreatedAt.Equal(created) {
		t.Errorf("got %+v, want name %q created %v", got, "Launch v2", created)
	}

	list, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListProjects returned %d projects, want 1", len(list))
	}

	if _, err := s.GetProject("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject(missing) err = %v, want ErrNotFound", err)
	}
}

// TestPhasesOrdered verifies phases come back by sort order and default their name.
func TestPhasesOrdered(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s)

	phases, err := s.ListPhases("p1")
	if err != nil {
		t.Fatalf("ListPhases: %v", err)
	}
	want := []Phase{
		{ID: "ideation", ProjectID: "p1", Name: "Ideation", Order: 0},
		{ID: "validation", ProjectID: "p1", Name: "validation", Order: 1},
	}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}

	if err := s.SavePhase(Phase{ID: "x", ProjectID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SavePhase for missing project err = %v, want ErrNotFound", err)
	}
}

// TestFeedItemCRUD covers save, upsert, get, list and delete.
func TestFeedItemCRUD(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s)

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []FeedItem{
		{ID: "f2", ProjectID: "p1", Phase: "ideation", Type: "task", Status: "open", CreatedAt: t0.Add(time.Hour)},
		{ID: "f1", ProjectID: "p1", Phase: "ideation", Type: "note", Status: "new", CreatedAt: t0, Metadata: `{"title":"Kickoff"}`},
	}
	for _, it := range items {
		if err := s.SaveFeedItem(it); err != nil {
			t.Fatalf("SaveFeedItem(%s): %v", it.ID, err)
		}
	}

	got, err := s.GetFeedItem("f1")
	if err != nil {
		t.Fatalf("GetFeedItem: %v", err)
	}
	if got.Metadata != `{"title":"Kickoff"}` || !got.CreatedAt.Equal(t0) {
		t.Errorf("GetFeedItem = %+v", got)
	}

	updated := items[0]
	updated.Status = "done"
	if err := s.SaveFeedItem(updated); err != nil {
		t.Fatalf("SaveFeedItem upsert: %v", err)
	}

	list, err := s.ListFeedItems("p1")
	if err != nil {
		t.Fatalf("ListFeedItems: %v", err)
	}
	if len(list) != 2 || list[0].ID != "f1" || list[1].Status != "done" {
		t.Errorf("ListFeedItems = %+v", list)
	}
	if list[1].Metadata != "{}" {
		t.Errorf("default metadata = %q, want {}", list[1].Metadata)
	}

	if err := s.DeleteFeedItem("f2"); err != nil {
		t.Fatalf("DeleteFeedItem: %v", err)
	}
	if err := s.DeleteFeedItem("f2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetFeedItem("f2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFeedItem after delete err = %v, want ErrNotFound", err)
	}

	if err := s.SaveFeedItem(FeedItem{ID: "orphan", ProjectID: "nope", Phase: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveFeedItem for missing project err = %v, want ErrNotFound", err)
	}
}

// TestLoadTimeline converts stored rows into layout inputs.
func TestLoadTimeline(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s)

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SaveFeedItem(FeedItem{ID: "f1", ProjectID: "p1", Phase: "ideation", Type: "note", Priority: "high", Status: "new", CreatedAt: t0, Metadata: `{"title":"Kickoff"}`}); err != nil {
		t.Fatalf("SaveFeedItem: %v", err)
	}
	if err := s.SaveFeedItem(FeedItem{ID: "f2", ProjectID: "p1", Phase: "unknown", CreatedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("SaveFeedItem: %v", err)
	}

	project, feeds, err := s.LoadTimeline("p1")
	if err != nil {
		t.Fatalf("LoadTimeline: %v", err)
	}

	wantProject := timeline.Project{
		ID:   "p1",
		Name: "Launch",
		Phases: []timeline.Phase{
			{ID: "ideation", Name: "Ideation", Order: 0},
			{ID: "validation", Name: "validation", Order: 1},
		},
	}
	if diff := cmp.Diff(wantProject, project); diff != "" {
		t.Errorf("project mismatch (-want +got):\n%s", diff)
	}

	wantFeeds := []timeline.FeedItem{
		{ID: "f1", Phase: "ideation", Type: "note", Priority: "high", Status: "new", CreatedAt: t0, Metadata: map[string]string{"title": "Kickoff"}},
		{ID: "f2", Phase: "unknown", CreatedAt: t0.Add(time.Minute)},
	}
	if diff := cmp.Diff(wantFeeds, feeds); diff != "" {
		t.Errorf("feeds mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := s.LoadTimeline("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTimeline(missing) err = %v, want ErrNotFound", err)
	}
}

// TestDeleteProjectCascades verifies phases and feed items go with the project.
func TestDeleteProjectCascades(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s)
	if err := s.SaveFeedItem(FeedItem{ID: "f1", ProjectID: "p1", Phase: "ideation"}); err != nil {
		t.Fatalf("SaveFeedItem: %v", err)
	}

	if err := s.DeleteProject("p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	phases, _ := s.ListPhases("p1")
	items, _ := s.ListFeedItems("p1")
	if len(phases) != 0 || len(items) != 0 {
		t.Errorf("cascade left %d phases and %d items", len(phases), len(items))
	}
}
