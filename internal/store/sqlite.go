package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db          *sql.DB
	artifactDir string
}

func NewSQLiteStore(dbPath, artifactDir string) (*SQLiteStore, error) {
	// Ensure directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	if err := os.MkdirAll(artifactDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises every write, which is all the memory table
	// needs for per-persona consistency.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:          db,
		artifactDir: artifactDir,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			status TEXT,
			metadata TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			path TEXT,
			type TEXT,
			created_at INTEGER,
			digest TEXT,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			importance INTEGER NOT NULL DEFAULT 3,
			created_at INTEGER NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'extraction'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_persona ON memories (persona_id);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories (category);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories (importance);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

// GetConfig returns "" for unset keys.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Session Implementation

func (s *SQLiteStore) CreateSession(session *Session) error {
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	query := `INSERT INTO sessions (id, persona_id, created_at, updated_at, status, metadata) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, session.ID, session.Persona, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(), session.Status, string(metaJSON))
	return err
}

func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	query := `SELECT id, persona_id, created_at, updated_at, status, metadata FROM sessions WHERE id = ?`
	session, err := scanSession(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(session *Session) error {
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	session.UpdatedAt = time.Now()
	query := `UPDATE sessions SET persona_id = ?, updated_at = ?, status = ?, metadata = ? WHERE id = ?`
	_, err = s.db.Exec(query, session.Persona, session.UpdatedAt.UnixNano(), session.Status, string(metaJSON), session.ID)
	return err
}

// ListSessions returns the most recently updated sessions first.
func (s *SQLiteStore) ListSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, persona_id, created_at, updated_at, status, metadata FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var created, updated int64
	var status, metaJSON sql.NullString
	if err := row.Scan(&session.ID, &session.Persona, &created, &updated, &status, &metaJSON); err != nil {
		return nil, err
	}
	session.CreatedAt = time.Unix(0, created)
	session.UpdatedAt = time.Unix(0, updated)
	session.Status = status.String

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &session, nil
}

// Artifact Implementation

func (s *SQLiteStore) SaveArtifact(artifact *Artifact, content []byte) error {
	// 1. Save content to filesystem
	fullPath := filepath.Join(s.artifactDir, artifact.Path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write artifact content: %w", err)
	}

	// 2. Save metadata to DB
	query := `INSERT INTO artifacts (id, session_id, path, type, created_at, digest) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, artifact.ID, artifact.SessionID, artifact.Path, artifact.Type, artifact.CreatedAt.UnixNano(), artifact.Digest)
	return err
}

func (s *SQLiteStore) GetArtifact(id string) (*Artifact, []byte, error) {
	// 1. Get metadata
	query := `SELECT id, session_id, path, type, created_at, digest FROM artifacts WHERE id = ?`
	artifact, err := scanArtifact(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("artifact not found: %s", id)
		}
		return nil, nil, err
	}

	// 2. Get content
	fullPath := filepath.Join(s.artifactDir, artifact.Path)
	content, err := os.ReadFile(fullPath) // #nosec G304
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact content: %w", err)
	}

	return artifact, content, nil
}

func (s *SQLiteStore) ListArtifacts(sessionID string) ([]*Artifact, error) {
	query := `SELECT id, session_id, path, type, created_at, digest FROM artifacts WHERE session_id = ? ORDER BY created_at`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var a Artifact
	var sessionID, path, typ, digest sql.NullString
	var created sql.NullInt64
	if err := row.Scan(&a.ID, &sessionID, &path, &typ, &created, &digest); err != nil {
		return nil, err
	}
	a.SessionID = sessionID.String
	a.Path = path.String
	a.Type = typ.String
	a.Digest = digest.String
	a.CreatedAt = time.Unix(0, created.Int64)
	return &a, nil
}
