package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_artifact_index.sql
var migrationV1 string

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteIndex implements core.ArtifactIndex with SQLite storage.
type SQLiteIndex struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

var _ core.ArtifactIndex = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens or creates the index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	m := &SQLiteIndex{path: path, db: db}

	if err := m.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return m, nil
}

// Path returns the database file path.
func (m *SQLiteIndex) Path() string {
	return m.path
}

// Close closes the database connection.
func (m *SQLiteIndex) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *SQLiteIndex) migrate() error {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}
	if version < 1 {
		if _, err := m.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Record stores ref, registering its session on first sight.
func (m *SQLiteIndex) Record(ctx context.Context, ref core.ArtifactRef) error {
	if ref.SessionID == "" || ref.Path == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "artifact needs a session id and a path")
	}
	created := ref.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	stamp := created.UTC().Format(timeLayout)

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id, started_at) VALUES (?, ?)",
		ref.SessionID, stamp); err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifacts (session_id, case_id, diagnoser, kind, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ref.SessionID, ref.CaseID, ref.Diagnoser, string(ref.Kind), ref.Path, stamp); err != nil {
		return fmt.Errorf("recording artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing artifact: %w", err)
	}
	return nil
}

// List returns the artifacts of a session in creation order.
func (m *SQLiteIndex) List(ctx context.Context, sessionID string) ([]core.ArtifactRef, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, case_id, diagnoser, kind, path, created_at
		FROM artifacts
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []core.ArtifactRef
	for rows.Next() {
		var ref core.ArtifactRef
		var kind, created string
		if err := rows.Scan(&ref.SessionID, &ref.CaseID, &ref.Diagnoser, &kind, &ref.Path, &created); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		ref.Kind = core.ArtifactKind(kind)
		if ref.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing artifact time %q: %w", created, err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Sessions returns every known session, newest first.
func (m *SQLiteIndex) Sessions(ctx context.Context) ([]core.SessionSummary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, COUNT(a.id)
		FROM sessions s
		LEFT JOIN artifacts a ON a.session_id = s.session_id
		GROUP BY s.session_id, s.started_at
		ORDER BY s.started_at DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []core.SessionSummary
	for rows.Next() {
		var s core.SessionSummary
		var started string
		if err := rows.Scan(&s.SessionID, &started, &s.Artifacts); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if s.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parsing session time %q: %w", started, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its artifact rows. Files on disk are
// left alone.
func (m *SQLiteIndex) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("session", sessionID)
	}
	return nil
}
