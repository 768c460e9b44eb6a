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
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for thoughts, tasks, projects,
// moods, and queue items.
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
		dsn = filepath.Join(dataDir, "mindq.db")
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

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshaling tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func parseTimestamp(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// --- Thoughts ---

func (s *Store) CreateThought(t Thought) error {
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO thoughts (id, text, type, intensity, tags, notes, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Text, t.Type, t.Intensity, tags, t.Notes, t.ProjectID,
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetThought(id string) (Thought, error) {
	var t Thought
	var tags, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, text, type, intensity, tags, notes, project_id, created_at, updated_at
		FROM thoughts WHERE id = ?`, id,
	).Scan(&t.ID, &t.Text, &t.Type, &t.Intensity, &tags, &t.Notes, &t.ProjectID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Thought{}, ErrNotFound
	}
	if err != nil {
		return Thought{}, err
	}
	if t.Tags, err = unmarshalTags(tags); err != nil {
		return Thought{}, err
	}
	if t.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Thought{}, err
	}
	if t.UpdatedAt, err = parseTimestamp("updated_at", updatedAt); err != nil {
		return Thought{}, err
	}
	return t, nil
}

func (s *Store) UpdateThought(t Thought) error {
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE thoughts SET text = ?, type = ?, intensity = ?, tags = ?, notes = ?, project_id = ?, updated_at = ?
		WHERE id = ?`,
		t.Text, t.Type, t.Intensity, tags, t.Notes, t.ProjectID,
		time.Now().UTC().Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteThought(id string) error {
	res, err := s.db.Exec(`DELETE FROM thoughts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListThoughts(limit, offset int) ([]Thought, error) {
	rows, err := s.db.Query(`
		SELECT id, text, type, intensity, tags, notes, project_id, created_at, updated_at
		FROM thoughts ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Thought
	for rows.Next() {
		var t Thought
		var tags, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Text, &t.Type, &t.Intensity, &tags, &t.Notes, &t.ProjectID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if t.Tags, err = unmarshalTags(tags); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTimestamp("updated_at", updatedAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Tasks ---

func (s *Store) CreateTask(t Task) error {
	status := t.Status
	if status == "" {
		status = "active"
	}
	var recurrence sql.NullString
	if t.Recurrence != nil {
		b, err := json.Marshal(t.Recurrence)
		if err != nil {
			return fmt.Errorf("marshaling recurrence: %w", err)
		}
		recurrence = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, category, priority, estimated_time, status, recurrence, source_thought_id, queue_item_id, ai_reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Category, t.Priority, t.EstimatedTime, status, recurrence,
		t.SourceThoughtID, t.QueueItemID, t.AIReasoning, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetTask(id string) (Task, error) {
	var t Task
	var recurrence sql.NullString
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, category, priority, estimated_time, status, recurrence, source_thought_id, queue_item_id, ai_reasoning, created_at
		FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Category, &t.Priority, &t.EstimatedTime, &t.Status, &recurrence, &t.SourceThoughtID, &t.QueueItemID, &t.AIReasoning, &createdAt)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if recurrence.Valid {
		var r Recurrence
		if err := json.Unmarshal([]byte(recurrence.String), &r); err != nil {
			return Task{}, fmt.Errorf("unmarshaling recurrence: %w", err)
		}
		t.Recurrence = &r
	}
	if t.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListTasks(limit, offset int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, title, category, priority, estimated_time, status, recurrence, source_thought_id, queue_item_id, ai_reasoning, created_at
		FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Task
	for rows.Next() {
		var t Task
		var recurrence sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Title, &t.Category, &t.Priority, &t.EstimatedTime, &t.Status, &recurrence, &t.SourceThoughtID, &t.QueueItemID, &t.AIReasoning, &createdAt); err != nil {
			return nil, err
		}
		if recurrence.Valid {
			var r Recurrence
			if err := json.Unmarshal([]byte(recurrence.String), &r); err != nil {
				return nil, fmt.Errorf("unmarshaling recurrence: %w", err)
			}
			t.Recurrence = &r
		}
		if t.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Projects ---

func (s *Store) CreateProject(p Project) error {
	status := p.Status
	if status == "" {
		status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, title, objective, action_plan, timeframe, category, priority, status, progress, source_thought_id, queue_item_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Objective, p.ActionPlan, p.Timeframe, p.Category, p.Priority, status,
		p.Progress, p.SourceThoughtID, p.QueueItemID, p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, objective, action_plan, timeframe, category, priority, status, progress, source_thought_id, queue_item_id, created_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Objective, &p.ActionPlan, &p.Timeframe, &p.Category, &p.Priority, &p.Status, &p.Progress, &p.SourceThoughtID, &p.QueueItemID, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListProjects(limit, offset int) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, title, objective, action_plan, timeframe, category, priority, status, progress, source_thought_id, queue_item_id, created_at
		FROM projects ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Objective, &p.ActionPlan, &p.Timeframe, &p.Category, &p.Priority, &p.Status, &p.Progress, &p.SourceThoughtID, &p.QueueItemID, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// FindProjectByTitle resolves a project by case-insensitive title match,
// preferring an exact match over a substring match.
func (s *Store) FindProjectByTitle(title string) (Project, error) {
	projects, err := s.ListProjects(1000, 0)
	if err != nil {
		return Project{}, err
	}

	needle := strings.ToLower(strings.TrimSpace(title))
	if needle == "" {
		return Project{}, ErrNotFound
	}

	var substringMatch *Project
	for i := range projects {
		candidate := strings.ToLower(projects[i].Title)
		if candidate == needle {
			return projects[i], nil
		}
		if substringMatch == nil && (strings.Contains(candidate, needle) || strings.Contains(needle, candidate)) {
			substringMatch = &projects[i]
		}
	}
	if substringMatch != nil {
		return *substringMatch, nil
	}
	return Project{}, ErrNotFound
}

// --- Moods ---

func (s *Store) CreateMood(m Mood) error {
	_, err := s.db.Exec(`
		INSERT INTO moods (id, value, mood_type, note, source_thought_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Value, m.MoodType, m.Note, m.SourceThoughtID, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetMood(id string) (Mood, error) {
	var m Mood
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, value, mood_type, note, source_thought_id, created_at
		FROM moods WHERE id = ?`, id,
	).Scan(&m.ID, &m.Value, &m.MoodType, &m.Note, &m.SourceThoughtID, &createdAt)
	if err == sql.ErrNoRows {
		return Mood{}, ErrNotFound
	}
	if err != nil {
		return Mood{}, err
	}
	if m.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Mood{}, err
	}
	return m, nil
}

func (s *Store) DeleteMood(id string) error {
	res, err := s.db.Exec(`DELETE FROM moods WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListMoods(limit, offset int) ([]Mood, error) {
	rows, err := s.db.Query(`
		SELECT id, value, mood_type, note, source_thought_id, created_at
		FROM moods ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Mood
	for rows.Next() {
		var m Mood
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Value, &m.MoodType, &m.Note, &m.SourceThoughtID, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
