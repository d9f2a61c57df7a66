package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
)

// InMemoryStore keeps records in process memory. Used for ephemeral sessions
// and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string]map[int64]memory.Record
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]map[int64]memory.Record),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Add(ctx context.Context, persona string, r memory.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r = r.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.nextID++
	r.ID = s.nextID
	r.Persona = persona

	bucket, ok := s.records[persona]
	if !ok {
		bucket = make(map[int64]memory.Record)
		s.records[persona] = bucket
	}
	bucket[r.ID] = r
	return r.ID, nil
}

func (s *InMemoryStore) List(ctx context.Context, persona string, limit int) ([]memory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := s.snapshotLocked(persona)
	s.mu.RUnlock()

	memory.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Update(ctx context.Context, persona string, id int64, p memory.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.Empty() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[persona][id]
	if !ok {
		return false, nil
	}
	s.records[persona][id] = p.Apply(r)
	return true, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, persona string, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[persona][id]; !ok {
		return false, nil
	}
	delete(s.records[persona], id)
	return true, nil
}

func (s *InMemoryStore) Search(ctx context.Context, persona, substring string) ([]memory.Record, error) {
	all, err := s.List(ctx, persona, 0)
	if err != nil {
		return nil, err
	}
	return filterRecords(all, substring), nil
}

func (s *InMemoryStore) Summary(ctx context.Context, persona string, recent int) (memory.Summary, error) {
	sum := memory.Summary{Categories: make(map[memory.Category]int)}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	s.mu.RLock()
	all := s.snapshotLocked(persona)
	s.mu.RUnlock()

	for _, r := range all {
		sum.Categories[r.Category]++
	}
	sum.Total = len(all)

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if recent > 0 {
		if len(all) > recent {
			all = all[:recent]
		}
		sum.Recent = all
	}
	return sum, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) snapshotLocked(persona string) []memory.Record {
	out := make([]memory.Record, 0, len(s.records[persona]))
	for _, r := range s.records[persona] {
		r.Tags = memory.NewTags(r.Tags...)
		out = append(out, r)
	}
	return out
}
