package store

import "time"

// Role identifies who (or what) produced a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
	RoleLoading   Role = "loading"
)

// ProblemContext identifies the coding problem a chat session is attached to.
// The title doubles as the history key, so it must be stable per problem.
type ProblemContext struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	SelectedLanguage string `json:"selected_language"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Ephemeral marks transcript-only messages (the welcome greeting) that
	// must never be written to history.
	Ephemeral bool `json:"-"`
}

// HistoryRecord is the persisted transcript for one problem. At most one
// record exists per problem title; saving replaces wholesale.
type HistoryRecord struct {
	ProblemTitle string        `json:"problem_title"`
	Messages     []ChatMessage `json:"messages"`
}
