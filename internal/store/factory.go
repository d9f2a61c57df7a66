package store

import (
	"context"
	"fmt"
	"strings"
)

// OpenMemoryStore selects the record backend for dsn:
//
//	""                      the local SQLite store
//	"memory://"             an ephemeral in-process store
//	"postgres://..."        a shared PostgreSQL database
//
// The local store is not closed by the returned backend.
func OpenMemoryStore(ctx context.Context, dsn string, local Storage) (MemoryBackend, error) {
	switch {
	case dsn == "":
		if local == nil {
			return nil, fmt.Errorf("no local store available")
		}
		return borrowed{local}, nil
	case strings.HasPrefix(dsn, "memory://"):
		return NewInMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store dsn %q", dsn)
	}
}

type borrowed struct {
	Storage
}

func (borrowed) Close() error { return nil }
