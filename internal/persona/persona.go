// Package persona holds the characters the agent can play and the files
// they are loaded from.
package persona

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// DefaultID is the persona used when none is configured.
const DefaultID = "friendly"

// ErrUnknown is returned for persona ids that are not registered.
var ErrUnknown = errors.New("unknown persona")

// Persona describes one character. ID doubles as the memory namespace.
type Persona struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description" yaml:"description"`
	Traits        []string `json:"traits" yaml:"traits"`
	ResponseStyle string   `json:"response_style" yaml:"response_style"`
	Background    string   `json:"background" yaml:"background"`
	SystemPrompt  string   `json:"system_prompt" yaml:"system_prompt"`
	EmojiUsage    string   `json:"emoji_usage" yaml:"emoji_usage"`
	MemoryFocus   []string `json:"memory_focus" yaml:"memory_focus"`
}

// Provider resolves persona ids.
type Provider interface {
	Persona(id string) (Persona, error)
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks that p can be registered.
func Validate(p Persona) error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("id is required"))
	} else if !idPattern.MatchString(p.ID) {
		errs = append(errs, fmt.Errorf("id %q must be lowercase letters, digits, '-' or '_'", p.ID))
	}
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	return errors.Join(errs...)
}

// Registry is a concurrency-safe Provider.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

func NewRegistry(personas ...Persona) *Registry {
	r := &Registry{personas: make(map[string]Persona)}
	r.Put(personas...)
	return r
}

// Put adds or replaces personas by id.
func (r *Registry) Put(personas ...Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range personas {
		r.personas[p.ID] = p
	}
}

// Replace swaps the whole set atomically.
func (r *Registry) Replace(personas ...Persona) {
	next := make(map[string]Persona, len(personas))
	for _, p := range personas {
		next[p.ID] = p
	}
	r.mu.Lock()
	r.personas = next
	r.mu.Unlock()
}

func (r *Registry) Persona(id string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return p, nil
}

// List returns every persona ordered by id.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Defaults are available even without persona files.
func Defaults() []Persona {
	return []Persona{
		{
			ID:            "friendly",
			Name:          "Friendly",
			Description:   "Warm and kind, a good listener who offers comfort",
			Traits:        []string{"warm", "empathetic", "patient"},
			ResponseStyle: "warm",
			Background:    "A close friend who remembers the little things you share.",
			SystemPrompt:  "You are a warm, friendly companion. Listen carefully and respond with kindness.",
			EmojiUsage:    "moderate",
			MemoryFocus:   []string{"emotional state", "personal preferences"},
		},
		{
			ID:            "professional",
			Name:          "Professional",
			Description:   "Focused and precise, helps get things done",
			Traits:        []string{"precise", "organised", "direct"},
			ResponseStyle: "concise",
			Background:    "An experienced assistant who keeps track of goals and commitments.",
			SystemPrompt:  "You are a professional assistant. Be clear, accurate and to the point.",
			EmojiUsage:    "none",
			MemoryFocus:   []string{"work", "goals", "deadlines"},
		},
		{
			ID:            "humorous",
			Name:          "Humorous",
			Description:   "Playful and witty, keeps the mood light",
			Traits:        []string{"playful", "witty", "upbeat"},
			ResponseStyle: "playful",
			Background:    "A funny friend who never misses a chance for a joke.",
			SystemPrompt:  "You are a humorous companion. Keep things light and make the user smile.",
			EmojiUsage:    "frequent",
			MemoryFocus:   []string{"hobbies", "funny moments"},
		},
	}
}
