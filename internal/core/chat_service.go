package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doubtsolver/assistant/internal/gate"
	"github.com/doubtsolver/assistant/internal/prompt"
	"github.com/doubtsolver/assistant/internal/render"
	"github.com/doubtsolver/assistant/internal/store"
)

// LLM is the outbound generative-language client.
type LLM interface {
	Send(ctx context.Context, promptText, credential string) (string, error)
}

// Storage is what the controller needs from persistence.
type Storage interface {
	SaveHistory(ctx context.Context, problemTitle string, messages []store.ChatMessage) error
	LoadHistory(ctx context.Context, problemTitle string) ([]store.ChatMessage, error)
	GetCredential(ctx context.Context) (string, error)
	SetCredential(ctx context.Context, value string) error
}

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
)

var keyFormat = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)

const (
	busyText       = "Please wait while processing the previous request..."
	tooSoonText    = "Please wait a moment before sending another message."
	missingKeyText = "Please set your API key in the extension settings."
	sendFailedText = "Sorry, there was an error processing your request."
	loadingText    = "Thinking..."
)

const welcomeTemplate = `**Welcome to AI Doubt Solver! 👋**

I'm here to help you with this coding problem. You can:
• Click "Get Hint" for guided assistance
• Click "Solve in %s" for solution approach
• Ask any specific questions about the problem

How can I help you today?`

// ChatService orchestrates the send cycle: gate check, prompt construction,
// model call, rendering, and history persistence.
type ChatService struct {
	storage     Storage
	llm         LLM
	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewChatService(storage Storage, llm LLM, minInterval time.Duration) *ChatService {
	return &ChatService{
		storage:     storage,
		llm:         llm,
		minInterval: minInterval,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// OpenSession creates a session for the given problem, replays persisted
// history into its transcript, and shows the welcome greeting only when the
// transcript is still empty after replay. Hydration happens at most once per
// session.
func (s *ChatService) OpenSession(ctx context.Context, problemCtx store.ProblemContext) (*Session, []render.DisplayUnit, error) {
	sess := newSession(problemCtx, s.minInterval)
	s.hydrate(ctx, sess)

	if sess.isEmpty() {
		welcome := fmt.Sprintf(welcomeTemplate, problemCtx.SelectedLanguage)
		sess.append(store.RoleAssistant, welcome, true, s.now())
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, render.Messages(sess.snapshot(), s.now()), nil
}

func (s *ChatService) hydrate(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	loaded := sess.historyLoaded
	sess.historyLoaded = true
	sess.mu.Unlock()
	if loaded || sess.Context.Title == "" {
		return
	}

	msgs, err := s.storage.LoadHistory(ctx, sess.Context.Title)
	if err != nil {
		// History is best-effort: the session opens empty rather than failing.
		log.Printf("Failed to load history for %q: %v", sess.Context.Title, err)
		return
	}
	sess.replay(msgs)
}

// GetSession returns a registered open session.
func (s *ChatService) GetSession(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Transcript renders the session's current message sequence.
func (s *ChatService) Transcript(sess *Session) []render.DisplayUnit {
	return render.Messages(sess.snapshot(), s.now())
}

// Send runs one full send cycle and returns the rendered messages this call
// appended to the transcript. Gate denials and the missing-credential case
// are reported through the returned error (gate.ErrBusy, gate.ErrTooSoon,
// store.ErrNoCredential) alongside the user-visible transient message; every
// other failure surfaces only as an error-role transcript entry, leaving the
// session ready for another attempt.
func (s *ChatService) Send(ctx context.Context, sess *Session, userText string, mode prompt.Mode) ([]render.DisplayUnit, error) {
	now := s.now()
	if err := sess.gate.TryAcquire(now); err != nil {
		text := tooSoonText
		if errors.Is(err, gate.ErrBusy) {
			text = busyText
		}
		msg := sess.append(store.RoleError, text, false, now)
		return render.Messages([]store.ChatMessage{msg}, now), err
	}
	defer sess.gate.Release()

	loading := sess.append(store.RoleLoading, loadingText, true, now)
	defer sess.remove(loading.ID)

	credential, err := s.storage.GetCredential(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoCredential) {
			log.Printf("Failed to read credential: %v", err)
		}
		msg := sess.append(store.RoleError, missingKeyText, false, now)
		return render.Messages([]store.ChatMessage{msg}, now), store.ErrNoCredential
	}

	var appended []store.ChatMessage
	if mode == prompt.ModeAsk {
		appended = append(appended, sess.append(store.RoleUser, userText, false, now))
	}

	promptText, sendUpstream := prompt.Build(userText, mode, sess.Context)

	var reply store.ChatMessage
	if !sendUpstream {
		// Off-topic input is answered locally; no model call is made.
		reply = sess.append(store.RoleAssistant, promptText, false, now)
	} else {
		answer, err := s.llm.Send(ctx, promptText, credential)
		if err != nil {
			// The cause is logged for diagnostics; the transcript gets a
			// generic notice so raw API errors never reach the user.
			log.Printf("Model call failed for problem %q: %v", sess.Context.Title, err)
			appended = append(appended, sess.append(store.RoleError, sendFailedText, false, now))
			return render.Messages(appended, now), nil
		}
		reply = sess.append(store.RoleAssistant, answer, false, now)
	}
	appended = append(appended, reply)

	// Render for display and persist the transcript in parallel. The cycle
	// does not report completion until the save finished, so a close
	// immediately after a response always finds it persisted.
	var units []render.DisplayUnit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		units = render.Messages(appended, now)
		return nil
	})
	g.Go(func() error {
		if err := s.storage.SaveHistory(gctx, sess.Context.Title, sess.persistable()); err != nil {
			log.Printf("Failed to save history for %q: %v", sess.Context.Title, err)
		}
		return nil
	})
	g.Wait()

	return units, nil
}

// CloseSession persists the transcript a final time and drops the session.
// An upstream call still in flight is not cancelled; its send cycle finishes
// against the detached session and persists its own result.
func (s *ChatService) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := s.storage.SaveHistory(ctx, sess.Context.Title, sess.persistable()); err != nil {
		log.Printf("Failed to save history on close for %q: %v", sess.Context.Title, err)
	}
	return nil
}

// SetCredential validates a candidate API key and stores it. Validation is a
// format check followed by a live one-prompt probe against the model, so a
// key is only ever stored after it has authenticated successfully.
func (s *ChatService) SetCredential(ctx context.Context, key string) error {
	if !keyFormat.MatchString(key) {
		return ErrInvalidKeyFormat
	}
	if _, err := s.llm.Send(ctx, "Hello", key); err != nil {
		return fmt.Errorf("credential validation failed: %w", err)
	}
	if err := s.storage.SetCredential(ctx, key); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// HasCredential reports whether an API key is stored, without exposing it.
func (s *ChatService) HasCredential(ctx context.Context) bool {
	_, err := s.storage.GetCredential(ctx)
	return err == nil
}
