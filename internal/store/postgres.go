package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists memory records in PostgreSQL so several agents can
// share one memory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGSERIAL PRIMARY KEY,
			persona_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			importance INTEGER NOT NULL DEFAULT 3,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			tags TEXT[] NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT 'extraction'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_persona_rank ON memories (persona_id, importance DESC, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories (category);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const pgMemoryColumns = `id, persona_id, content, category, importance, created_at, tags, source`

func (s *PostgresStore) Add(ctx context.Context, persona string, r memory.Record) (int64, error) {
	r = r.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO memories (persona_id, content, category, importance, created_at, tags, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		persona,
		r.Content,
		string(r.Category),
		r.Importance,
		r.CreatedAt,
		[]string(r.Tags),
		string(r.Source),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) List(ctx context.Context, persona string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		return s.query(ctx,
			`SELECT `+pgMemoryColumns+` FROM memories WHERE persona_id=$1
			 ORDER BY importance DESC, created_at DESC, id DESC`, persona)
	}
	return s.query(ctx,
		`SELECT `+pgMemoryColumns+` FROM memories WHERE persona_id=$1
		 ORDER BY importance DESC, created_at DESC, id DESC LIMIT $2`, persona, limit)
}

func (s *PostgresStore) Update(ctx context.Context, persona string, id int64, p memory.Patch) (bool, error) {
	if p.Empty() {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanPgMemory(tx.QueryRow(ctx,
		`SELECT `+pgMemoryColumns+` FROM memories WHERE id=$1 AND persona_id=$2 FOR UPDATE`, id, persona))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load memory %d: %w", id, err)
	}

	next := p.Apply(current)
	if _, err := tx.Exec(ctx,
		`UPDATE memories SET content=$1, category=$2, importance=$3, tags=$4 WHERE id=$5 AND persona_id=$6`,
		next.Content, string(next.Category), next.Importance, []string(next.Tags), id, persona); err != nil {
		return false, fmt.Errorf("update memory %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit update: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, persona string, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1 AND persona_id=$2`, id, persona)
	if err != nil {
		return false, fmt.Errorf("delete memory %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Search(ctx context.Context, persona, substring string) ([]memory.Record, error) {
	return s.query(ctx,
		`SELECT `+pgMemoryColumns+` FROM memories WHERE persona_id=$1 AND content ILIKE $2 ESCAPE '\'
		 ORDER BY importance DESC, created_at DESC, id DESC`,
		persona, "%"+escapeLike(substring)+"%")
}

func (s *PostgresStore) Summary(ctx context.Context, persona string, recent int) (memory.Summary, error) {
	sum := memory.Summary{Categories: make(map[memory.Category]int)}

	rows, err := s.pool.Query(ctx, `SELECT category, COUNT(*) FROM memories WHERE persona_id=$1 GROUP BY category`, persona)
	if err != nil {
		return sum, fmt.Errorf("query categories: %w", err)
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return sum, fmt.Errorf("scan category row: %w", err)
		}
		sum.Categories[memory.Category(cat)] = n
		sum.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("iterate category rows: %w", err)
	}

	if recent <= 0 {
		return sum, nil
	}
	sum.Recent, err = s.query(ctx,
		`SELECT `+pgMemoryColumns+` FROM memories WHERE persona_id=$1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, persona, recent)
	return sum, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]memory.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	records := []memory.Record{}
	for rows.Next() {
		r, err := scanPgMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return records, nil
}

func scanPgMemory(row pgx.Row) (memory.Record, error) {
	var r memory.Record
	var category, source string
	var tags []string
	if err := row.Scan(&r.ID, &r.Persona, &r.Content, &category, &r.Importance, &r.CreatedAt, &tags, &source); err != nil {
		return r, err
	}
	r.Category = memory.Category(category)
	r.Tags = memory.NewTags(tags...)
	r.Source = memory.Source(source)
	return r, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
