package store

import (
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
)

// Session statuses.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// ArtifactExtractionRaw is the artifact type of unparseable extraction
// responses.
const ArtifactExtractionRaw = "extraction_raw"

// Session represents one chat session.
type Session struct {
	ID        string
	Persona   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    string
	Metadata  map[string]string
}

// Artifact represents a data blob kept for later inspection
type Artifact struct {
	ID        string
	SessionID string
	Path      string // Relative path in the artifact store
	Type      string // e.g., "extraction_raw"
	CreatedAt time.Time
	Digest    string // Content hash
}

// Storage is the local metadata store: memories plus sessions, diagnostic
// artifacts and configuration.
type Storage interface {
	memory.Store

	// Session Management
	CreateSession(session *Session) error
	GetSession(id string) (*Session, error)
	UpdateSession(session *Session) error
	ListSessions(limit int) ([]*Session, error)

	// Artifact Management
	// SaveArtifact persists the metadata and the content
	SaveArtifact(artifact *Artifact, content []byte) error
	GetArtifact(id string) (*Artifact, []byte, error)
	ListArtifacts(sessionID string) ([]*Artifact, error)

	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}

// MemoryBackend is a memory.Store that owns resources.
type MemoryBackend interface {
	memory.Store
	Close() error
}
