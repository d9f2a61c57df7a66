package runtime

import (
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/provider"
	"github.com/felixgeelhaar/sentimemory/internal/store"
)

// SessionStore is the part of store.Storage that session tracking needs.
type SessionStore interface {
	CreateSession(session *store.Session) error
	GetSession(id string) (*store.Session, error)
	UpdateSession(session *store.Session) error
}

// SessionState represents the running totals of one chat session.
type SessionState struct {
	SessionID     string
	Persona       string
	Turns         int
	Replies       int
	FailedReplies int
	EvictedTurns  int
	Usage         provider.Usage
	Status        string
	StartedAt     time.Time
	LastUpdatedAt time.Time
}

// StateManager handles session state tracking and persistence.
// It provides thread-safe access to session state and manages
// the lifecycle of session data.
type StateManager struct {
	mu       sync.RWMutex
	store    SessionStore
	sessions map[string]*SessionState
}

// NewStateManager creates a new state manager. A nil store keeps state in
// memory only.
func NewStateManager(s SessionStore) *StateManager {
	return &StateManager{
		store:    s,
		sessions: make(map[string]*SessionState),
	}
}

// InitSession starts tracking a session and records it in the store.
func (sm *StateManager) InitSession(sessionID, persona string) (*SessionState, error) {
	now := time.Now()
	state := &SessionState{
		SessionID:     sessionID,
		Persona:       persona,
		Status:        store.SessionActive,
		StartedAt:     now,
		LastUpdatedAt: now,
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = state
	sm.mu.Unlock()

	if sm.store == nil {
		return state, nil
	}
	err := sm.store.CreateSession(&store.Session{
		ID:        sessionID,
		Persona:   persona,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    store.SessionActive,
	})
	return state, err
}

// GetState returns a copy of the current state, or nil.
func (sm *StateManager) GetState(sessionID string) *SessionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	state, ok := sm.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

func (sm *StateManager) update(sessionID string, fn func(*SessionState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if state, ok := sm.sessions[sessionID]; ok {
		fn(state)
		state.LastUpdatedAt = time.Now()
	}
}

// RecordTurn counts one appended turn.
func (sm *StateManager) RecordTurn(sessionID string) {
	sm.update(sessionID, func(s *SessionState) { s.Turns++ })
}

// RecordEviction counts turns that left the buffer.
func (sm *StateManager) RecordEviction(sessionID string, n int) {
	sm.update(sessionID, func(s *SessionState) { s.EvictedTurns += n })
}

// RecordReply counts a reply and adds its token usage.
func (sm *StateManager) RecordReply(sessionID string, ok bool, usage provider.Usage) {
	sm.update(sessionID, func(s *SessionState) {
		if ok {
			s.Replies++
		} else {
			s.FailedReplies++
		}
		s.Usage = s.Usage.Add(usage)
	})
}

// SetPersona records a persona switch.
func (sm *StateManager) SetPersona(sessionID, persona string) {
	sm.update(sessionID, func(s *SessionState) { s.Persona = persona })
}

// SetStatus updates the session status.
func (sm *StateManager) SetStatus(sessionID, status string) {
	sm.update(sessionID, func(s *SessionState) { s.Status = status })
}

// PersistSession writes the state to the store as session metadata.
func (sm *StateManager) PersistSession(sessionID string) error {
	state := sm.GetState(sessionID)
	if state == nil || sm.store == nil {
		return nil
	}

	session, err := sm.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	session.Persona = state.Persona
	session.Status = state.Status
	session.Metadata = map[string]string{
		"turns":          strconv.Itoa(state.Turns),
		"replies":        strconv.Itoa(state.Replies),
		"failed_replies": strconv.Itoa(state.FailedReplies),
		"evicted_turns":  strconv.Itoa(state.EvictedTurns),
		"prompt_tokens":  strconv.Itoa(state.Usage.PromptTokens),
		"output_tokens":  strconv.Itoa(state.Usage.CompletionTokens),
	}
	return sm.store.UpdateSession(session)
}

// CleanupSession removes the session state from memory.
func (sm *StateManager) CleanupSession(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
}
