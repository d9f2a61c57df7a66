package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
	"github.com/felixgeelhaar/sentimemory/internal/guard"
	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
	"github.com/felixgeelhaar/sentimemory/internal/provider"
	"github.com/felixgeelhaar/sentimemory/internal/store"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on an engine after Close.
var ErrClosed = errors.New("engine: session closed")

// EngineConfig wires a chat session.
type EngineConfig struct {
	Provider provider.Provider
	Store    memory.Store
	Personas persona.Provider
	Persona  string

	// Evictor receives evicted turns. Nil builds a memory.Extractor over
	// Provider and Store.
	Evictor  conversation.Evictor
	Sessions SessionStore
	Bus      *EventBus
	Observer *observe.Observer
	Metrics  *observe.Metrics
	// Limits bounds input size and model usage. The zero value is
	// unlimited; NewEngine does not substitute a default.
	Limits guard.Policy

	SessionID     string
	MaxTurns      int
	EvictBatch    int
	HistoryWindow int
	ContextLimit  int
	SummaryRecent int
	Timeout       time.Duration
}

// Engine runs one conversation: it owns the turn buffer, generates replies
// and routes evicted turns into memory. Methods are safe for concurrent use
// but calls are serialised.
type Engine struct {
	mu        sync.Mutex
	cfg       EngineConfig
	buf       *conversation.Buffer
	assembler *Assembler
	state     *StateManager
	bus       *EventBus
	obs       *observe.Observer
	guard     *guard.Guard
	persona   string
	closed    bool
}

// NewEngine validates cfg, resolves the starting persona and records the
// session.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("engine: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: memory store is required")
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.NewRegistry(persona.Defaults()...)
	}
	if cfg.Persona == "" {
		cfg.Persona = persona.DefaultID
	}
	if _, err := cfg.Personas.Persona(cfg.Persona); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Nop()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.SummaryRecent == 0 {
		cfg.SummaryRecent = memory.DefaultSummaryRecent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = provider.DefaultTimeout
	}
	if cfg.Evictor == nil {
		cfg.Evictor = memory.NewExtractor(cfg.Provider, cfg.Store,
			memory.WithTimeout(cfg.Timeout),
			memory.WithObserver(cfg.Observer),
			memory.WithMetrics(cfg.Metrics),
		)
	}

	e := &Engine{
		cfg:     cfg,
		state:   NewStateManager(cfg.Sessions),
		bus:     cfg.Bus,
		obs:     cfg.Observer,
		guard:   guard.New(cfg.Limits),
		persona: cfg.Persona,
	}
	e.assembler = NewAssembler(cfg.Store, cfg.Personas, cfg.ContextLimit, cfg.Observer)
	e.assembler.metrics = cfg.Metrics

	buf, err := conversation.NewBuffer(cfg.MaxTurns, cfg.EvictBatch, cfg.Evictor,
		conversation.WithEvictHook(e.onEvict))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.buf = buf

	if _, err := e.state.InitSession(cfg.SessionID, cfg.Persona); err != nil {
		return nil, fmt.Errorf("engine: record session: %w", err)
	}
	e.obs.Log().Info().Str("session", cfg.SessionID).Str("persona", cfg.Persona).Str("provider", cfg.Provider.Name()).Msg("session started")
	return e, nil
}

func (e *Engine) onEvict(personaID string, n int) {
	e.cfg.Metrics.ObserveEviction(n)
	e.state.RecordEviction(e.cfg.SessionID, n)
	e.bus.PublishWithData(EventTurnsEvicted, e.cfg.SessionID, personaID, map[string]any{"turns": n})
}

func (e *Engine) appendLocked(ctx context.Context, t conversation.Turn) {
	e.buf.Append(ctx, e.persona, t)
	e.state.RecordTurn(e.cfg.SessionID)
	e.bus.PublishWithData(EventTurnAppended, e.cfg.SessionID, e.persona, map[string]any{
		"role":    string(t.Role),
		"content": t.Content,
	})
}

// Send appends input as a user turn, generates a reply and appends it as an
// agent turn. Provider failures produce an apologetic reply instead of an
// error. Blank input, and any input after Close, is ignored.
func (e *Engine) Send(ctx context.Context, input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.obs.Log().Warn().Str("session", e.cfg.SessionID).Msg("message after close ignored")
		return ""
	}

	if v := e.checkLocked(input); v != nil {
		e.obs.Log().Warn().Str("persona", e.persona).Str("rule", v.Rule).Msg("message refused")
		e.bus.PublishWithData(EventReplyFailed, e.cfg.SessionID, e.persona, map[string]any{"error": v.Message, "rule": v.Rule})
		return v.Message
	}

	ctx, span := e.obs.StartSpan(ctx, "runtime.Send")
	defer span.End()

	e.appendLocked(ctx, conversation.NewTurn(conversation.RoleUser, input))

	p, err := e.cfg.Personas.Persona(e.persona)
	if err != nil {
		p = persona.Persona{ID: e.persona, Name: e.persona}
	}
	system := replyInstruction(p, e.assembler.BuildContext(ctx, input, e.persona))
	messages := e.messagesLocked(system, input)

	start := time.Now()
	reply, usage, err := provider.Complete(ctx, e.cfg.Provider, messages, e.cfg.Timeout)
	elapsed := time.Since(start)
	e.cfg.Metrics.ObserveReply(err == nil, elapsed)
	e.state.RecordReply(e.cfg.SessionID, err == nil, usage)

	if err != nil {
		e.obs.Log().Error().Str("persona", e.persona).Err(err).Msg("reply generation failed")
		reply = fmt.Sprintf("Sorry, I ran into a technical problem and can't reply properly right now. Error: %v", err)
		e.bus.PublishWithData(EventReplyFailed, e.cfg.SessionID, e.persona, map[string]any{"error": err.Error()})
	} else {
		e.bus.PublishWithData(EventReplyGenerated, e.cfg.SessionID, e.persona, map[string]any{
			"duration_ms":   elapsed.Milliseconds(),
			"prompt_tokens": usage.PromptTokens,
			"output_tokens": usage.CompletionTokens,
		})
	}

	e.appendLocked(ctx, conversation.NewTurn(conversation.RoleAgent, reply))
	return reply
}

// checkLocked applies the session limits. A refused message is not added to
// the conversation.
func (e *Engine) checkLocked(input string) *guard.Violation {
	if v := e.guard.CheckInput(input); v != nil {
		return v
	}
	st := e.state.GetState(e.cfg.SessionID)
	if st == nil {
		return nil
	}
	return e.guard.CheckBudget(st.Replies+st.FailedReplies, st.Usage.PromptTokens, st.Usage.CompletionTokens)
}

// messagesLocked builds the reply request: the system prompt, then the recent
// window with system turns skipped. The window already ends with the current
// user turn unless it is empty.
func (e *Engine) messagesLocked(system, input string) []provider.Message {
	window := e.buf.RecentWindow(e.cfg.HistoryWindow)
	msgs := make([]provider.Message, 0, len(window)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, t := range window {
		switch t.Role {
		case conversation.RoleUser:
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: t.Content})
		case conversation.RoleAgent:
			msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Content: t.Content})
		}
	}
	if len(window) == 0 {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: input})
	}
	return msgs
}

// Reset extracts memories from every buffered turn and empties the buffer.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	n := e.buf.Len()
	e.buf.Clear(ctx, e.persona)
	e.bus.PublishWithData(EventSessionReset, e.cfg.SessionID, e.persona, map[string]any{"turns": n})
	e.obs.Log().Info().Str("persona", e.persona).Int("turns", n).Msg("conversation reset")
}

// SwitchPersona makes id the active persona. Buffered turns are first
// extracted under the previous persona so no record crosses persona scopes.
// Switching to the active persona keeps the buffer.
func (e *Engine) SwitchPersona(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	p, err := e.cfg.Personas.Persona(id)
	if err != nil {
		e.obs.Log().Warn().Str("from", e.persona).Str("to", id).Err(err).Msg("persona switch rejected")
		return err
	}

	prev := e.persona
	if p.ID != prev {
		e.buf.Clear(ctx, prev)
	}
	e.persona = p.ID
	e.state.SetPersona(e.cfg.SessionID, p.ID)
	e.appendLocked(ctx, conversation.NewTurn(conversation.RoleSystem, "Switched to persona "+p.Name))
	e.bus.PublishWithData(EventPersonaSwitched, e.cfg.SessionID, p.ID, map[string]any{"from": prev})
	e.obs.Log().Info().Str("from", prev).Str("to", p.ID).Msg("persona switched")
	return nil
}

// Persona returns the active persona id.
func (e *Engine) Persona() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persona
}

// SessionID identifies this conversation in the session table.
func (e *Engine) SessionID() string { return e.cfg.SessionID }

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *EventBus { return e.bus }

// History returns a copy of the buffered turns. It does not wait for an
// in-flight Send.
func (e *Engine) History() []conversation.Turn {
	return e.buf.Snapshot()
}

// State returns the running session totals.
func (e *Engine) State() *SessionState {
	return e.state.GetState(e.cfg.SessionID)
}

// Summary reports the active persona's stored memories.
func (e *Engine) Summary(ctx context.Context) (memory.Summary, error) {
	return e.cfg.Store.Summary(ctx, e.Persona(), e.cfg.SummaryRecent)
}

// Close extracts the remaining turns and marks the session ended. Later
// calls do nothing.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.buf.Clear(ctx, e.persona)
	e.state.SetStatus(e.cfg.SessionID, store.SessionEnded)
	err := e.state.PersistSession(e.cfg.SessionID)
	if err != nil {
		e.obs.Log().Error().Str("session", e.cfg.SessionID).Err(err).Msg("failed to persist session")
	}
	e.bus.PublishWithData(EventSessionEnded, e.cfg.SessionID, e.persona, nil)
	e.state.CleanupSession(e.cfg.SessionID)
	return err
}
