package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doubtsolver/assistant/internal/gate"
	"github.com/doubtsolver/assistant/internal/store"
)

// Session is one open chat attached to a single problem context. The problem
// context is fixed for the session's lifetime; the message sequence is owned
// by the session until persisted.
type Session struct {
	ID      string
	Context store.ProblemContext

	gate *gate.RequestGate

	mu            sync.Mutex
	messages      []store.ChatMessage
	historyLoaded bool
}

func newSession(ctx store.ProblemContext, minInterval time.Duration) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Context: ctx,
		gate:    gate.New(minInterval),
	}
}

func (s *Session) append(role store.Role, text string, ephemeral bool, at time.Time) store.ChatMessage {
	msg := store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: at,
		Ephemeral: ephemeral,
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// remove drops the message with the given ID. Used only for the transient
// loading placeholder, which is removed rather than edited once resolved.
func (s *Session) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) replay(msgs []store.ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

func (s *Session) snapshot() []store.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// persistable returns the messages eligible for history: user and assistant
// exchanges only. Loading placeholders, error notices, and the ephemeral
// welcome greeting stay transcript-only.
func (s *Session) persistable() []store.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ChatMessage
	for _, msg := range s.messages {
		if msg.Ephemeral {
			continue
		}
		if msg.Role == store.RoleUser || msg.Role == store.RoleAssistant {
			out = append(out, msg)
		}
	}
	return out
}

func (s *Session) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) == 0
}
