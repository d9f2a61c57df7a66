package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"time"

	"github.com/google/uuid"
)

// Diagnostics files unparseable extraction responses as artifacts of one
// session. It satisfies memory.DiagnosticSink.
type Diagnostics struct {
	storage   Storage
	sessionID string
	now       func() time.Time
}

func NewDiagnostics(storage Storage, sessionID string) *Diagnostics {
	return &Diagnostics{storage: storage, sessionID: sessionID, now: time.Now}
}

// SaveExtractionFailure writes raw to extraction/<persona>/<id>.txt. The
// cause is not persisted; callers log it.
func (d *Diagnostics) SaveExtractionFailure(ctx context.Context, persona, raw string, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(raw))
	id := uuid.NewString()
	art := &Artifact{
		ID:        id,
		SessionID: d.sessionID,
		Path:      path.Join("extraction", sanitizeSegment(persona), id+".txt"),
		Type:      ArtifactExtractionRaw,
		CreatedAt: d.now(),
		Digest:    hex.EncodeToString(sum[:]),
	}
	return d.storage.SaveArtifact(art, []byte(raw))
}

// sanitizeSegment keeps a persona id usable as a single path element.
func sanitizeSegment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
