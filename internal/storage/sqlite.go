package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/branchline/internal/timeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding projects, their phases and feed items.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "branchline.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}


// --- Projects ---

func (s *Store) SaveProject(p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// DeleteProject removes a project with its phases and feed items.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// --- Phases ---

// SavePhase inserts or updates a phase. The project must exist.
func (s *Store) SavePhase(ph Phase) error {
	if _, err := s.GetProject(ph.ProjectID); err != nil {
		return fmt.Errorf("project %q: %w", ph.ProjectID, err)
	}
	name := ph.Name
	if name == "" {
		name = ph.ID
	}
	_, err := s.db.Exec(`
		INSERT INTO phases (id, project_id, name, sort_order) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET name = excluded.name, sort_order = excluded.sort_order`,
		ph.ID, ph.ProjectID, name, ph.Order,
	)
	return err
}

func (s *Store) ListPhases(projectID string) ([]Phase, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, name, sort_order FROM phases
		WHERE project_id = ? ORDER BY sort_order ASC, id ASC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Phase
	for rows.Next() {
		var ph Phase
		if err := rows.Scan(&ph.ID, &ph.ProjectID, &ph.Name, &ph.Order); err != nil {
			return nil, err
		}
		results = append(results, ph)
	}
	return results, rows.Err()
}

// --- Feed Items ---

// SaveFeedItem inserts or replaces a feed item. The project must exist; the
// phase is not checked, since feeds referencing unknown phases are skipped
// at layout time.
func (s *Store) SaveFeedItem(f FeedItem) error {
	if _, err := s.GetProject(f.ProjectID); err != nil {
		return fmt.Errorf("project %q: %w", f.ProjectID, err)
	}
	now := time.Now().UTC()
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	metadata := f.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO feed_items (id, project_id, phase, type, priority, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, phase = excluded.phase, type = excluded.type,
			priority = excluded.priority, status = excluded.status, metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		f.ID, f.ProjectID, f.Phase, f.Type, f.Priority, f.Status, metadata,
		createdAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

const feedColumns = `id, project_id, phase, type, priority, status, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFeedItem(row scanner) (FeedItem, error) {
	var f FeedItem
	var createdAt, updatedAt string
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Phase, &f.Type, &f.Priority, &f.Status, &f.Metadata, &createdAt, &updatedAt); err != nil {
		return FeedItem{}, err
	}
	var err error
	if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return FeedItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return FeedItem{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return f, nil
}

func (s *Store) GetFeedItem(id string) (FeedItem, error) {
	f, err := scanFeedItem(s.db.QueryRow(`SELECT `+feedColumns+` FROM feed_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return FeedItem{}, ErrNotFound
	}
	return f, err
}

func (s *Store) ListFeedItems(projectID string) ([]FeedItem, error) {
	rows, err := s.db.Query(`SELECT `+feedColumns+` FROM feed_items
		WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FeedItem
	for rows.Next() {
		f, err := scanFeedItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func (s *Store) DeleteFeedItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM feed_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// LoadTimeline returns a project with its ordered phases and all of its feed
// items, converted to layout inputs.
func (s *Store) LoadTimeline(projectID string) (timeline.Project, []timeline.FeedItem, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return timeline.Project{}, nil, err
	}
	phases, err := s.ListPhases(projectID)
	if err != nil {
		return timeline.Project{}, nil, fmt.Errorf("listing phases: %w", err)
	}
	items, err := s.ListFeedItems(projectID)
	if err != nil {
		return timeline.Project{}, nil, fmt.Errorf("listing feed items: %w", err)
	}

	project := timeline.Project{ID: p.ID, Name: p.Name, Phases: make([]timeline.Phase, 0, len(phases))}
	for _, ph := range phases {
		project.Phases = append(project.Phases, timeline.Phase{ID: ph.ID, Name: ph.Name, Order: ph.Order})
	}

	feeds := make([]timeline.FeedItem, 0, len(items))
	for _, it := range items {
		var meta map[string]string
		if it.Metadata != "" && it.Metadata != "{}" {
			if err := json.Unmarshal([]byte(it.Metadata), &meta); err != nil {
				return timeline.Project{}, nil, fmt.Errorf("decoding metadata for %s: %w", it.ID, err)
			}
		}
		feeds = append(feeds, timeline.FeedItem{
			ID:        it.ID,
			Phase:     it.Phase,
			Type:      it.Type,
			Priority:  it.Priority,
			Status:    it.Status,
			CreatedAt: it.CreatedAt,
			Metadata:  meta,
		})
	}
	return project, feeds, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
