package storage

import (
	"database/sql"
	"embed"
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

// Store wraps a SQLite database holding scan records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chalkscan.db")
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

// DB exposes the underlying database handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
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

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

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

const scanColumns = `id, room_key, status, original_url, processed_url, stylized_url, reimagined_url, narrative_text, semester, error_message, created_at, updated_at`

// InsertScan creates a new scan record.
func (s *Store) InsertScan(sc Scan) error {
	_, err := s.db.Exec(`
		INSERT INTO scans (`+scanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.RoomKey, sc.Status, sc.OriginalURL, sc.ProcessedURL,
		sc.StylizedURL, sc.ReimaginedURL, sc.NarrativeText, sc.Semester,
		sc.ErrorMessage,
		sc.CreatedAt.UTC().Format(time.RFC3339), sc.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func scanRow(row interface{ Scan(dest ...any) error }) (Scan, error) {
	var sc Scan
	var createdAt, updatedAt string
	err := row.Scan(&sc.ID, &sc.RoomKey, &sc.Status, &sc.OriginalURL,
		&sc.ProcessedURL, &sc.StylizedURL, &sc.ReimaginedURL, &sc.NarrativeText,
		&sc.Semester, &sc.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		return Scan{}, err
	}
	if sc.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Scan{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sc.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Scan{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sc, nil
}

// GetScan returns the scan with the given id, or ErrNotFound.
func (s *Store) GetScan(id string) (Scan, error) {
	row := s.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := scanRow(row)
	if err == sql.ErrNoRows {
		return Scan{}, ErrNotFound
	}
	return sc, err
}

// GetScanByRoomKey returns the oldest scan recorded under the given room key,
// or ErrNotFound. Oldest-first means the first writer wins when the submission
// race produced duplicates.
func (s *Store) GetScanByRoomKey(key string) (Scan, error) {
	if key == "" {
		return Scan{}, ErrNotFound
	}
	row := s.db.QueryRow(`
		SELECT `+scanColumns+` FROM scans
		WHERE room_key = ? ORDER BY created_at ASC, id ASC LIMIT 1`, key)
	sc, err := scanRow(row)
	if err == sql.ErrNoRows {
		return Scan{}, ErrNotFound
	}
	return sc, err
}

// ListScansBySemester returns all scans tagged with the given semester,
// newest first.
func (s *Store) ListScansBySemester(semester string) ([]Scan, error) {
	rows, err := s.db.Query(`
		SELECT `+scanColumns+` FROM scans
		WHERE semester = ? ORDER BY created_at DESC`, semester)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Scan
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// mutableScanColumns are the columns UpdateScanFields may touch. Identity,
// room key, grouping tag and creation time are immutable after insert.
var mutableScanColumns = map[string]bool{
	"status":         true,
	"original_url":   true,
	"processed_url":  true,
	"stylized_url":   true,
	"reimagined_url": true,
	"narrative_text": true,
	"error_message":  true,
}

// UpdateScanFields applies a partial per-field update to a scan record.
// Only the named columns are written, so concurrent updates to distinct
// fields of the same record do not overwrite each other.
func (s *Store) UpdateScanFields(id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !mutableScanColumns[name] {
			return fmt.Errorf("column %q is not updatable", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var set strings.Builder
	args := make([]any, 0, len(fields)+2)
	for _, name := range names {
		set.WriteString(name + " = ?, ")
		args = append(args, fields[name])
	}
	set.WriteString("updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)

	res, err := s.db.Exec(`UPDATE scans SET `+set.String()+` WHERE id = ?`, args...)
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
