package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(tmpDir, "meta.db"), filepath.Join(tmpDir, "artifacts"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := newTestSQLite(t)

	t.Run("Sessions", func(t *testing.T) {
		sess := &Session{
			ID:        "s1",
			Persona:   "friendly",
			CreatedAt: time.Now(),
			Status:    SessionActive,
			Metadata:  map[string]string{"key": "val"},
		}

		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		got, err := s.GetSession("s1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Metadata["key"] != "val" {
			t.Errorf("Expected metadata 'val', got '%s'", got.Metadata["key"])
		}
		if got.Persona != "friendly" {
			t.Errorf("Expected persona 'friendly', got '%s'", got.Persona)
		}
		if !got.CreatedAt.Equal(sess.CreatedAt) {
			t.Errorf("Expected created_at %v, got %v", sess.CreatedAt, got.CreatedAt)
		}

		got.Status = SessionEnded
		if err := s.UpdateSession(got); err != nil {
			t.Fatalf("UpdateSession failed: %v", err)
		}

		updated, _ := s.GetSession("s1")
		if updated.Status != SessionEnded {
			t.Errorf("Expected status 'ended', got '%s'", updated.Status)
		}

		if _, err := s.GetSession("non-existent"); err == nil {
			t.Error("Expected error for non-existent session")
		}

		if err := s.CreateSession(&Session{ID: "s2", CreatedAt: time.Now().Add(time.Hour), Status: SessionActive}); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		list, err := s.ListSessions(1)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(list) != 1 || list[0].ID != "s2" {
			t.Errorf("Expected newest session s2 first, got %+v", list)
		}
	})

	t.Run("Artifacts", func(t *testing.T) {
		art := &Artifact{
			ID:        "a1",
			SessionID: "s1",
			Path:      "test.txt",
			Type:      "log",
			CreatedAt: time.Now(),
			Digest:    "d1",
		}
		content := []byte("hello artifact")

		if err := s.SaveArtifact(art, content); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		gotArt, gotContent, err := s.GetArtifact("a1")
		if err != nil {
			t.Fatalf("GetArtifact failed: %v", err)
		}
		if string(gotContent) != "hello artifact" {
			t.Errorf("Expected 'hello artifact', got '%s'", string(gotContent))
		}
		if gotArt.Digest != "d1" {
			t.Errorf("Expected digest 'd1', got '%s'", gotArt.Digest)
		}

		list, _ := s.ListArtifacts("s1")
		if len(list) != 1 {
			t.Errorf("Expected 1 artifact in list, got %d", len(list))
		}

		if _, _, err := s.GetArtifact("non-existent"); err == nil {
			t.Error("Expected error for non-existent artifact")
		}

		// Test missing file but entry exists
		s.db.Exec("INSERT INTO artifacts (id, session_id, path) VALUES (?, ?, ?)", "missing", "s1", "missing.txt")
		if _, _, err := s.GetArtifact("missing"); err == nil {
			t.Error("Expected error for missing artifact file")
		}
	})

	t.Run("Config", func(t *testing.T) {
		if err := s.SetConfig("k1", "v1"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		if err := s.SetConfig("k1", "v2"); err != nil {
			t.Fatalf("SetConfig overwrite failed: %v", err)
		}

		val, err := s.GetConfig("k1")
		if err != nil {
			t.Fatalf("GetConfig failed: %v", err)
		}
		if val != "v2" {
			t.Errorf("Expected 'v2', got '%s'", val)
		}

		val2, _ := s.GetConfig("unknown")
		if val2 != "" {
			t.Errorf("Expected empty string for unknown config, got '%s'", val2)
		}
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "meta.db")
	artDir := filepath.Join(tmpDir, "artifacts")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, artDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := s.Add(ctx, "p", memory.Record{Content: "survives restarts", Tags: memory.NewTags("a:b", "x")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(dbPath, artDir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.List(ctx, "p", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "survives restarts" {
		t.Fatalf("Expected record to survive reopen, got %+v", got)
	}
	if !reflect.DeepEqual(got[0].Tags, memory.Tags{"a:b", "x"}) {
		t.Errorf("Expected tags to round-trip, got %v", got[0].Tags)
	}
}

func TestMemoryStores(t *testing.T) {
	backends := map[string]func(t *testing.T) memory.Store{
		"sqlite": func(t *testing.T) memory.Store { return newTestSQLite(t) },
		"inmemory": func(t *testing.T) memory.Store {
			return NewInMemoryStore()
		},
	}
	if dsn := os.Getenv("SENTIMEMORY_TEST_POSTGRES_DSN"); dsn != "" {
		backends["postgres"] = func(t *testing.T) memory.Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			if err != nil {
				t.Fatalf("Failed to connect postgres: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			runStoreSuite(t, open)
		})
	}
}

// uniquePersona keeps suites isolated on shared databases.
func uniquePersona(t *testing.T) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(t.Name()) + "-" + time.Now().Format("150405.000000000")
}

func runStoreSuite(t *testing.T, open func(t *testing.T) memory.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ordering", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		for i, imp := range []int{3, 5, 3} {
			_, err := s.Add(ctx, p, memory.Record{
				Content:    []string{"t1", "t2", "t3"}[i],
				Importance: imp,
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}

		got, err := s.List(ctx, p, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if want := []string{"t2", "t3", "t1"}; !reflect.DeepEqual(contents(got), want) {
			t.Errorf("Expected %v, got %v", want, contents(got))
		}

		limited, _ := s.List(ctx, p, 2)
		if len(limited) != 2 || limited[0].Content != "t2" {
			t.Errorf("Expected two records led by t2, got %v", contents(limited))
		}
	})

	t.Run("normalises on write", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		id, err := s.Add(ctx, p, memory.Record{Content: "x", Category: "weird", Importance: 9, Tags: memory.Tags{"b", "a", "b"}})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		got, _ := s.List(ctx, p, 0)
		if len(got) != 1 {
			t.Fatalf("Expected 1 record, got %d", len(got))
		}
		r := got[0]
		if r.ID != id || r.Persona != p {
			t.Errorf("Expected id %d persona %s, got %d %s", id, p, r.ID, r.Persona)
		}
		if r.Category != memory.CategoryGeneral || r.Importance != 5 || r.Source != memory.SourceExtraction {
			t.Errorf("Unexpected normalisation: %+v", r)
		}
		if !reflect.DeepEqual(r.Tags, memory.Tags{"a", "b"}) {
			t.Errorf("Expected tags [a b], got %v", r.Tags)
		}
		if r.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be filled")
		}
	})

	t.Run("update", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		id, _ := s.Add(ctx, p, memory.Record{Content: "likes tea", Category: memory.CategoryPreference, Importance: 2, CreatedAt: base, Source: memory.SourceManual})

		imp := 4
		tags := memory.NewTags("drinks")
		ok, err := s.Update(ctx, p, id, memory.Patch{Importance: &imp, Tags: &tags})
		if err != nil || !ok {
			t.Fatalf("Update = %v, %v; want true, nil", ok, err)
		}
		got, _ := s.List(ctx, p, 0)
		if got[0].Importance != 4 || got[0].Content != "likes tea" || !got[0].Tags.Contains("drinks") {
			t.Errorf("Unexpected record after update: %+v", got[0])
		}
		if got[0].Category != memory.CategoryPreference || got[0].Source != memory.SourceManual || !got[0].CreatedAt.Equal(base) {
			t.Errorf("Expected untouched fields to survive the patch: %+v", got[0])
		}
		if got[0].ID != id || got[0].Persona != p {
			t.Errorf("Expected id %d persona %s, got %d %s", id, p, got[0].ID, got[0].Persona)
		}

		if ok, _ := s.Update(ctx, p, id, memory.Patch{}); ok {
			t.Error("Expected empty patch to report false")
		}
		if ok, _ := s.Update(ctx, p, id+1000, memory.Patch{Importance: &imp}); ok {
			t.Error("Expected unknown id to report false")
		}
		if ok, _ := s.Update(ctx, p+"-other", id, memory.Patch{Importance: &imp}); ok {
			t.Error("Expected update through another persona to report false")
		}
	})

	t.Run("concurrent writes", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		shared, err := s.Add(ctx, p, memory.Record{Content: "shared", Importance: 1})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		const n = 20
		ids := make([]int64, n)
		errs := make(chan error, 2*n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := s.Add(ctx, p, memory.Record{Content: fmt.Sprintf("fact %d", i)})
				if err != nil {
					errs <- fmt.Errorf("add %d: %w", i, err)
					return
				}
				ids[i] = id
				imp := i%memory.MaxImportance + 1
				if ok, err := s.Update(ctx, p, shared, memory.Patch{Importance: &imp}); err != nil || !ok {
					errs <- fmt.Errorf("update %d: ok=%v err=%v", i, ok, err)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		seen := map[int64]bool{shared: true}
		for _, id := range ids {
			if seen[id] {
				t.Errorf("Duplicate id %d", id)
			}
			seen[id] = true
		}
		sum, err := s.Summary(ctx, p, 0)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}
		if sum.Total != n+1 {
			t.Errorf("Expected %d records, got %d", n+1, sum.Total)
		}
		got, _ := s.Search(ctx, p, "shared")
		if len(got) != 1 || got[0].Importance < memory.MinImportance || got[0].Importance > memory.MaxImportance {
			t.Errorf("Expected the shared record intact, got %+v", got)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		id, _ := s.Add(ctx, p, memory.Record{Content: "gone soon"})

		if ok, _ := s.Delete(ctx, p+"-other", id); ok {
			t.Error("Expected delete through another persona to report false")
		}
		if ok, err := s.Delete(ctx, p, id); err != nil || !ok {
			t.Fatalf("Delete = %v, %v; want true, nil", ok, err)
		}
		if ok, err := s.Delete(ctx, p, id); err != nil || ok {
			t.Errorf("Second Delete = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("search", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		s.Add(ctx, p, memory.Record{Content: "Loves Hiking in the Alps", Importance: 2, CreatedAt: base})
		s.Add(ctx, p, memory.Record{Content: "hiking boots are size 44", Importance: 4, CreatedAt: base})
		s.Add(ctx, p, memory.Record{Content: "100% committed", CreatedAt: base})
		s.Add(ctx, p+"-other", memory.Record{Content: "hiking elsewhere"})

		got, err := s.Search(ctx, p, "HIKING")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if want := []string{"hiking boots are size 44", "Loves Hiking in the Alps"}; !reflect.DeepEqual(contents(got), want) {
			t.Errorf("Expected %v, got %v", want, contents(got))
		}

		pct, _ := s.Search(ctx, p, "%")
		if len(pct) != 1 {
			t.Errorf("Expected literal %% match only, got %v", contents(pct))
		}
		none, _ := s.Search(ctx, p, "sailing")
		if len(none) != 0 {
			t.Errorf("Expected no matches, got %v", contents(none))
		}
	})

	t.Run("summary", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		s.Add(ctx, p, memory.Record{Content: "a", Category: memory.CategoryWork, CreatedAt: base})
		s.Add(ctx, p, memory.Record{Content: "b", Category: memory.CategoryWork, CreatedAt: base.Add(time.Minute)})
		s.Add(ctx, p, memory.Record{Content: "c", Category: memory.CategoryGoal, Importance: 5, CreatedAt: base.Add(2 * time.Minute)})

		sum, err := s.Summary(ctx, p, 2)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}
		if sum.Total != 3 || sum.Categories[memory.CategoryWork] != 2 || sum.Categories[memory.CategoryGoal] != 1 {
			t.Errorf("Unexpected counts: %+v", sum)
		}
		if want := []string{"c", "b"}; !reflect.DeepEqual(contents(sum.Recent), want) {
			t.Errorf("Expected recent %v, got %v", want, contents(sum.Recent))
		}

		empty, err := s.Summary(ctx, p+"-nobody", 5)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}
		if empty.Total != 0 || len(empty.Recent) != 0 {
			t.Errorf("Expected empty summary, got %+v", empty)
		}
	})

	t.Run("persona isolation", func(t *testing.T) {
		s := open(t)
		p := uniquePersona(t)
		s.Add(ctx, p+"-a", memory.Record{Content: "only a"})
		got, _ := s.List(ctx, p+"-b", 0)
		if len(got) != 0 {
			t.Errorf("Expected persona b to see nothing, got %v", contents(got))
		}
	})
}

func contents(records []memory.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Content
	}
	return out
}

func TestDiagnostics(t *testing.T) {
	s := newTestSQLite(t)
	if err := s.CreateSession(&Session{ID: "sess", CreatedAt: time.Now(), Status: SessionActive}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	d := NewDiagnostics(s, "sess")
	if err := d.SaveExtractionFailure(context.Background(), "my/persona", "not json", errors.New("boom")); err != nil {
		t.Fatalf("SaveExtractionFailure failed: %v", err)
	}

	list, err := s.ListArtifacts("sess")
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected 1 artifact, got %v (%v)", list, err)
	}
	a := list[0]
	if a.Type != ArtifactExtractionRaw {
		t.Errorf("Expected type %s, got %s", ArtifactExtractionRaw, a.Type)
	}
	if !strings.HasPrefix(a.Path, "extraction/my_persona/") {
		t.Errorf("Unexpected path %s", a.Path)
	}
	if len(a.Digest) != 64 {
		t.Errorf("Expected sha256 hex digest, got %q", a.Digest)
	}
	_, content, err := s.GetArtifact(a.ID)
	if err != nil || string(content) != "not json" {
		t.Errorf("Expected raw content back, got %q (%v)", content, err)
	}
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	local := newTestSQLite(t)

	b, err := OpenMemoryStore(ctx, "", local)
	if err != nil {
		t.Fatalf("OpenMemoryStore failed: %v", err)
	}
	b.Close()
	if _, err := local.List(ctx, "p", 0); err != nil {
		t.Errorf("Expected local store to stay open, got %v", err)
	}

	mem, err := OpenMemoryStore(ctx, "memory://", nil)
	if err != nil {
		t.Fatalf("OpenMemoryStore failed: %v", err)
	}
	if _, ok := mem.(*InMemoryStore); !ok {
		t.Errorf("Expected *InMemoryStore, got %T", mem)
	}

	if _, err := OpenMemoryStore(ctx, "mysql://x", local); err == nil {
		t.Error("Expected error for unsupported dsn")
	}
	if _, err := OpenMemoryStore(ctx, "", nil); err == nil {
		t.Error("Expected error without a local store")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_a\b`); got != `50\%\_a\\b` {
		t.Errorf("unexpected escape %q", got)
	}
}
