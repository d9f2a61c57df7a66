package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/observe"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		p       Persona
		wantErr bool
	}{
		{"ok", Persona{ID: "mentor-1", Name: "Mentor"}, false},
		{"missing id", Persona{Name: "Mentor"}, true},
		{"bad id", Persona{ID: "Mentor One", Name: "Mentor"}, true},
		{"missing name", Persona{ID: "mentor"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.p)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}

	for _, p := range Defaults() {
		if err := Validate(p); err != nil {
			t.Errorf("default persona %s invalid: %v", p.ID, err)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Defaults()...)

	p, err := r.Persona(DefaultID)
	if err != nil {
		t.Fatalf("Persona(%q) failed: %v", DefaultID, err)
	}
	if p.Name != "Friendly" {
		t.Errorf("expected Friendly, got %s", p.Name)
	}

	if _, err := r.Persona("pirate"); !errors.Is(err, ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}

	var ids []string
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []string{"friendly", "humorous", "professional"}) {
		t.Errorf("unexpected list order %v", ids)
	}

	r.Replace(Persona{ID: "solo", Name: "Solo"})
	if _, err := r.Persona(DefaultID); err == nil {
		t.Error("expected Replace to drop previous personas")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("single yaml uses file name as id", func(t *testing.T) {
		path := filepath.Join(dir, "mentor.yaml")
		writeFile(t, path, "name: Mentor\ntraits: [wise, calm]\nbackground: Teaches for a living.\n")
		got, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "mentor" || got[0].Name != "Mentor" {
			t.Fatalf("unexpected personas %+v", got)
		}
		if !reflect.DeepEqual(got[0].Traits, []string{"wise", "calm"}) {
			t.Errorf("unexpected traits %v", got[0].Traits)
		}
	})

	t.Run("json collection", func(t *testing.T) {
		path := filepath.Join(dir, "set.json")
		writeFile(t, path, `{"personas": {"b": {"name": "Bee"}, "a": {"name": "Ay", "memory_focus": ["work"]}}}`)
		got, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
			t.Fatalf("unexpected personas %+v", got)
		}
		if got[0].MemoryFocus[0] != "work" {
			t.Errorf("expected memory focus to load, got %v", got[0].MemoryFocus)
		}
	})

	t.Run("invalid persona", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		writeFile(t, path, "description: no name\n")
		if _, err := LoadFile(path); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "x.toml")
		writeFile(t, path, "name = 'x'")
		if _, err := LoadFile(path); err == nil {
			t.Error("expected format error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "id: shared\nname: First\n")
	writeFile(t, filepath.Join(dir, "nested", "deep", "b.yml"), "id: shared\nname: Second\n")
	writeFile(t, filepath.Join(dir, "c.json"), `{"id": "other", "name": "Other"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	byID := map[string]Persona{}
	for _, p := range got {
		byID[p.ID] = p
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 personas, got %+v", got)
	}
	if byID["shared"].Name != "Second" {
		t.Errorf("expected nested file to override, got %s", byID["shared"].Name)
	}
	if byID["other"].Name != "Other" {
		t.Errorf("expected json persona, got %+v", byID["other"])
	}

	none, err := LoadDir(filepath.Join(dir, "missing"))
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty result for missing dir, got %v, %v", none, err)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, dir, r, observe.Nop()) }()

	writeFile(t, filepath.Join(dir, "pirate.yaml"), "name: Pirate\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if p, err := r.Persona("pirate"); err == nil && p.Name == "Pirate" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered the new persona")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := r.Persona(DefaultID); err != nil {
		t.Errorf("expected defaults alongside loaded personas: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
