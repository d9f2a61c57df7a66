// Package conversation holds the bounded working set of recent turns for a
// single chat session and decides when the oldest turns leave it.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxTurns is the buffer capacity L.
	DefaultMaxTurns = 30
	// DefaultEvictBatch is the number of turns E removed when the buffer is full.
	DefaultEvictBatch = 10
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn is one utterance. Turns are values and are never changed after they
// enter a buffer.
type Turn struct {
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Content: content, Role: role, CreatedAt: time.Now()}
}

// Evictor receives the turns that are about to leave a buffer. It is called
// synchronously and must report its own failures; the buffer removes the
// turns whatever happens.
type Evictor interface {
	Evict(ctx context.Context, persona string, turns []Turn)
}

// EvictorFunc adapts a function to the Evictor interface.
type EvictorFunc func(ctx context.Context, persona string, turns []Turn)

func (f EvictorFunc) Evict(ctx context.Context, persona string, turns []Turn) {
	f(ctx, persona, turns)
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithClock overrides the time source used to keep timestamps ordered.
func WithClock(now func() time.Time) BufferOption {
	return func(b *Buffer) {
		b.now = now
	}
}

// WithEvictHook registers a callback invoked after every eviction with the
// number of turns removed. Used for metrics and events.
func WithEvictHook(fn func(persona string, n int)) BufferOption {
	return func(b *Buffer) {
		b.onEvict = fn
	}
}

// Buffer is an ordered, bounded sequence of turns with two-level watermark
// eviction: once it holds maxLen turns, the oldest evictBatch turns are handed
// to the evictor and dropped before the next append.
//
// A Buffer serves one conversation. The mutex keeps Snapshot safe to call from
// a UI goroutine while the conversation goroutine appends.
type Buffer struct {
	mu         sync.Mutex
	turns      []Turn
	maxLen     int
	evictBatch int
	evictor    Evictor
	now        func() time.Time
	onEvict    func(persona string, n int)
}

// NewBuffer creates a buffer. Zero values for maxLen or evictBatch select the
// defaults. evictBatch must be at least 1 and smaller than maxLen.
func NewBuffer(maxLen, evictBatch int, ev Evictor, opts ...BufferOption) (*Buffer, error) {
	if maxLen == 0 {
		maxLen = DefaultMaxTurns
	}
	if evictBatch == 0 {
		evictBatch = DefaultEvictBatch
	}
	if maxLen < 2 {
		return nil, fmt.Errorf("max turns must be at least 2, got %d", maxLen)
	}
	if evictBatch < 1 || evictBatch >= maxLen {
		return nil, fmt.Errorf("evict batch must be in [1, %d), got %d", maxLen, evictBatch)
	}
	if ev == nil {
		ev = EvictorFunc(func(context.Context, string, []Turn) {})
	}

	b := &Buffer{
		turns:      make([]Turn, 0, maxLen),
		maxLen:     maxLen,
		evictBatch: evictBatch,
		evictor:    ev,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MaxLen returns L.
func (b *Buffer) MaxLen() int { return b.maxLen }

// EvictBatch returns E.
func (b *Buffer) EvictBatch() int { return b.evictBatch }

// Append adds t at the tail. When the buffer is full the oldest E turns are
// extracted under persona and removed first. Extraction has been attempted by
// the time Append returns.
func (b *Buffer) Append(ctx context.Context, persona string, t Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.turns) >= b.maxLen {
		b.evictLocked(ctx, persona, b.evictBatch)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.now()
	}
	if n := len(b.turns); n > 0 && t.CreatedAt.Before(b.turns[n-1].CreatedAt) {
		t.CreatedAt = b.turns[n-1].CreatedAt
	}
	b.turns = append(b.turns, t)
}

// Clear extracts every remaining turn as a single batch and empties the
// buffer. An empty buffer is left untouched.
func (b *Buffer) Clear(ctx context.Context, persona string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.turns) == 0 {
		return
	}
	b.evictLocked(ctx, persona, len(b.turns))
}

// evictLocked hands a copy of the oldest n turns to the evictor and then drops
// them. The drop is deferred so it also happens if the evictor panics.
func (b *Buffer) evictLocked(ctx context.Context, persona string, n int) {
	if n > len(b.turns) {
		n = len(b.turns)
	}
	slice := make([]Turn, n)
	copy(slice, b.turns[:n])

	defer func() {
		rest := make([]Turn, len(b.turns)-n, b.maxLen)
		copy(rest, b.turns[n:])
		b.turns = rest
		if b.onEvict != nil {
			b.onEvict(persona, n)
		}
	}()

	b.evictor.Evict(ctx, persona, slice)
}

// Snapshot returns an ordered copy of all current turns.
func (b *Buffer) Snapshot() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// RecentWindow returns the last n turns in chronological order.
func (b *Buffer) RecentWindow(n int) []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return []Turn{}
	}
	if n > len(b.turns) {
		n = len(b.turns)
	}
	out := make([]Turn, n)
	copy(out, b.turns[len(b.turns)-n:])
	return out
}

// Len reports the number of buffered turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}
