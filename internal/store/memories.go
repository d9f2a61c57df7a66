package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
)

const memoryColumns = `id, persona_id, content, category, importance, created_at, tags, source`

func (s *SQLiteStore) Add(ctx context.Context, persona string, r memory.Record) (int64, error) {
	r = r.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `INSERT INTO memories (persona_id, content, category, importance, created_at, tags, source) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, persona, r.Content, string(r.Category), r.Importance, r.CreatedAt.UnixNano(), r.Tags.Encode(), string(r.Source))
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit records, highest importance first. A limit <= 0
// returns everything.
func (s *SQLiteStore) List(ctx context.Context, persona string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE persona_id = ?
		ORDER BY importance DESC, created_at DESC, id DESC LIMIT ?`
	return s.queryMemories(ctx, query, persona, limit)
}

func (s *SQLiteStore) Update(ctx context.Context, persona string, id int64, p memory.Patch) (bool, error) {
	if p.Empty() {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ? AND persona_id = ?`, id, persona)
	current, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	next := p.Apply(current)
	_, err = tx.ExecContext(ctx, `UPDATE memories SET content = ?, category = ?, importance = ?, tags = ? WHERE id = ? AND persona_id = ?`,
		next.Content, string(next.Category), next.Importance, next.Tags.Encode(), id, persona)
	if err != nil {
		return false, fmt.Errorf("failed to update memory %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, persona string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND persona_id = ?`, id, persona)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Search matches substring case-insensitively against content. SQLite's LIKE
// only folds ASCII, so the filter runs in Go.
func (s *SQLiteStore) Search(ctx context.Context, persona, substring string) ([]memory.Record, error) {
	all, err := s.List(ctx, persona, 0)
	if err != nil {
		return nil, err
	}
	return filterRecords(all, substring), nil
}

func (s *SQLiteStore) Summary(ctx context.Context, persona string, recent int) (memory.Summary, error) {
	sum := memory.Summary{Categories: make(map[memory.Category]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM memories WHERE persona_id = ? GROUP BY category`, persona)
	if err != nil {
		return sum, err
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return sum, err
		}
		sum.Categories[memory.Category(cat)] = n
		sum.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return sum, err
	}
	rows.Close()

	if recent <= 0 {
		return sum, nil
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE persona_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`
	sum.Recent, err = s.queryMemories(ctx, query, persona, recent)
	return sum, err
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []memory.Record{}
	for rows.Next() {
		r, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanMemory(row rowScanner) (memory.Record, error) {
	var r memory.Record
	var category, tags, source string
	var created int64
	if err := row.Scan(&r.ID, &r.Persona, &r.Content, &category, &r.Importance, &created, &tags, &source); err != nil {
		return r, err
	}
	decoded, err := memory.DecodeTags(tags)
	if err != nil {
		return r, fmt.Errorf("memory %d: %w", r.ID, err)
	}
	r.Category = memory.Category(category)
	r.CreatedAt = time.Unix(0, created)
	r.Tags = decoded
	r.Source = memory.Source(source)
	return r, nil
}

// filterRecords keeps records whose content contains substring, ignoring
// case. Input order is preserved.
func filterRecords(records []memory.Record, substring string) []memory.Record {
	needle := strings.ToLower(substring)
	out := []memory.Record{}
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Content), needle) {
			out = append(out, r)
		}
	}
	return out
}
