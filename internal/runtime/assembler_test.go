package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
	"github.com/felixgeelhaar/sentimemory/internal/store"
)

type brokenStore struct {
	memory.Store
}

func (brokenStore) List(context.Context, string, int) ([]memory.Record, error) {
	return nil, errors.New("database is locked")
}

func testPersonas() *persona.Registry {
	return persona.NewRegistry(persona.Persona{
		ID:            "mentor",
		Name:          "Mentor",
		Traits:        []string{"wise", "calm"},
		ResponseStyle: "thoughtful",
		Background:    "A retired librarian.",
	})
}

func TestAssembler_BuildContext(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(ctx, "mentor", memory.Record{Content: "Lives in Berlin", Category: memory.CategoryPersonal, Importance: 4, CreatedAt: base})
	s.Add(ctx, "mentor", memory.Record{Content: "Training for a marathon", Category: memory.CategoryGoal, Importance: 5, CreatedAt: base})
	s.Add(ctx, "other", memory.Record{Content: "Not for mentor", Importance: 5})

	a := NewAssembler(s, testPersonas(), 8, observe.Nop())
	got := a.BuildContext(ctx, "How is my training going?", "mentor")

	want := strings.Join([]string{
		"Persona: Mentor",
		"Traits: wise, calm",
		"Response style: thoughtful",
		"Background: A retired librarian.",
		"Relevant memories:\n" +
			"- Training for a marathon (category: goal, importance: 5)\n" +
			"- Lives in Berlin (category: personal, importance: 4)",
	}, "\n\n")
	if got != want {
		t.Errorf("unexpected context:\n%s\n\nwant:\n%s", got, want)
	}

	if again := a.BuildContext(ctx, "something else", "mentor"); again != got {
		t.Error("expected output to be deterministic")
	}
}

func TestAssembler_Limit(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	for i := 0; i < 12; i++ {
		s.Add(ctx, "mentor", memory.Record{Content: "fact", Importance: 3})
	}

	got := NewAssembler(s, testPersonas(), 0, nil).BuildContext(ctx, "", "mentor")
	if n := strings.Count(got, "- fact"); n != memory.DefaultContextLimit {
		t.Errorf("expected %d memory lines, got %d", memory.DefaultContextLimit, n)
	}
}

func TestAssembler_NoMemories(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(store.NewInMemoryStore(), testPersonas(), 8, observe.Nop())
	got := a.BuildContext(ctx, "hi", "mentor")
	if strings.Contains(got, "Relevant memories") {
		t.Errorf("expected no memory section, got:\n%s", got)
	}
	if !strings.HasPrefix(got, "Persona: Mentor") {
		t.Errorf("expected persona section, got:\n%s", got)
	}
}

func TestAssembler_StoreFailure(t *testing.T) {
	a := NewAssembler(brokenStore{}, testPersonas(), 8, observe.Nop())
	got := a.BuildContext(context.Background(), "hi", "mentor")
	if strings.Contains(got, "Relevant memories") || !strings.Contains(got, "Background: A retired librarian.") {
		t.Errorf("expected persona section only, got:\n%s", got)
	}
}

func TestAssembler_UnknownPersona(t *testing.T) {
	a := NewAssembler(store.NewInMemoryStore(), testPersonas(), 8, observe.Nop())
	got := a.BuildContext(context.Background(), "hi", "ghost")
	if !strings.HasPrefix(got, "Persona: ghost\n\nTraits: \n\nResponse style: friendly") {
		t.Errorf("unexpected fallback context:\n%s", got)
	}
}

func TestReplyInstruction(t *testing.T) {
	got := replyInstruction(persona.Persona{SystemPrompt: "Be kind."}, "Persona: X")
	if !strings.HasPrefix(got, "Be kind.\n\nYou are an AI companion with the following persona:\nPersona: X\n\n") {
		t.Errorf("unexpected instruction %q", got)
	}
}
