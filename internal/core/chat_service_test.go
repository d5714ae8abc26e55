package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubtsolver/assistant/internal/gate"
	"github.com/doubtsolver/assistant/internal/prompt"
	"github.com/doubtsolver/assistant/internal/render"
	"github.com/doubtsolver/assistant/internal/store"
)

type fakeStorage struct {
	mu         sync.Mutex
	history    map[string][]store.ChatMessage
	credential string
	saveCount  int
}

func (f *fakeStorage) SaveHistory(_ context.Context, title string, msgs []store.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]store.ChatMessage, len(msgs))
	copy(cp, msgs)
	f.history[title] = cp
	f.saveCount++
	return nil
}

func (f *fakeStorage) LoadHistory(_ context.Context, title string) ([]store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]store.ChatMessage, len(f.history[title]))
	copy(cp, f.history[title])
	return cp, nil
}

func (f *fakeStorage) GetCredential(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credential == "" {
		return "", store.ErrNoCredential
	}
	return f.credential, nil
}

func (f *fakeStorage) SetCredential(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credential = value
	return nil
}

func (f *fakeStorage) saved(title string) []store.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[title]
}

type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	block   chan struct{} // when non-nil, Send waits until closed
	started chan struct{}
	once    sync.Once
}

func (f *fakeLLM) Send(_ context.Context, promptText, credential string) (string, error) {
	f.mu.Lock()
	f.calls++
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var twoSum = store.ProblemContext{
	Title:            "Two Sum",
	Description:      "Find two numbers that add up to a target.",
	SelectedLanguage: "python",
}

func newTestService(t *testing.T) (*ChatService, *fakeStorage, *fakeLLM, *time.Time) {
	t.Helper()
	storage := &fakeStorage{history: map[string][]store.ChatMessage{}, credential: "key"}
	llm := &fakeLLM{reply: "Here is the answer."}
	svc := NewChatService(storage, llm, time.Second)

	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	return svc, storage, llm, &current
}

func roles(units []render.DisplayUnit) []store.Role {
	out := make([]store.Role, len(units))
	for i, u := range units {
		out[i] = u.Role
	}
	return out
}

func TestOpenSessionShowsWelcomeForEmptyHistory(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, transcript, err := svc.OpenSession(context.Background(), twoSum)
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	assert.Equal(t, store.RoleAssistant, transcript[0].Role)
	assert.Contains(t, transcript[0].HTML, "Welcome to AI Doubt Solver")
	assert.Contains(t, transcript[0].HTML, "Solve in python")
}

func TestFreshSessionAskCycle(t *testing.T) {
	svc, storage, llm, clock := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Second)
	units, err := svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.NoError(t, err)

	assert.Equal(t, []store.Role{store.RoleUser, store.RoleAssistant}, roles(units))
	assert.Equal(t, 1, llm.callCount())

	// The welcome greeting is never persisted: history holds the exchange only.
	saved := storage.saved("Two Sum")
	require.Len(t, saved, 2)
	assert.Equal(t, store.RoleUser, saved[0].Role)
	assert.Equal(t, "explain big O", saved[0].Text)
	assert.Equal(t, store.RoleAssistant, saved[1].Role)

	// Transcript still shows welcome + exchange.
	assert.Len(t, svc.Transcript(sess), 3)
}

func TestSecondSendWhileInFlightIsDeniedBusy(t *testing.T) {
	svc, _, llm, _ := newTestService(t)
	ctx := context.Background()
	llm.block = make(chan struct{})
	llm.started = make(chan struct{})

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, sess, "explain slices", prompt.ModeAsk)
		firstDone <- err
	}()
	<-llm.started

	units, err := svc.Send(ctx, sess, "explain maps", prompt.ModeAsk)
	require.ErrorIs(t, err, gate.ErrBusy)
	require.Len(t, units, 1)
	assert.Equal(t, store.RoleError, units[0].Role)
	assert.Contains(t, units[0].HTML, "Please wait while processing the previous request")

	close(llm.block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, llm.callCount())
}

func TestDoubleHintWithinIntervalYieldsOneExchange(t *testing.T) {
	svc, storage, llm, clock := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	units, err := svc.Send(ctx, sess, "", prompt.ModeHint)
	require.NoError(t, err)
	assert.Equal(t, []store.Role{store.RoleAssistant}, roles(units))

	*clock = clock.Add(500 * time.Millisecond)
	units, err = svc.Send(ctx, sess, "", prompt.ModeHint)
	require.ErrorIs(t, err, gate.ErrTooSoon)
	require.Len(t, units, 1)
	assert.Equal(t, store.RoleError, units[0].Role)
	assert.Contains(t, units[0].HTML, "Please wait a moment before sending another message")

	assert.Equal(t, 1, llm.callCount())
	assert.Len(t, storage.saved("Two Sum"), 1, "exactly one hint response persisted")
}

func TestMissingCredentialReleasesGate(t *testing.T) {
	svc, storage, llm, clock := newTestService(t)
	ctx := context.Background()
	storage.credential = ""

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	units, err := svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.ErrorIs(t, err, store.ErrNoCredential)
	require.Len(t, units, 1)
	assert.Equal(t, store.RoleError, units[0].Role)
	assert.Contains(t, units[0].HTML, "Please set your API key in the extension settings")
	assert.Equal(t, 0, llm.callCount())

	// The failed attempt must not leave the gate stuck.
	storage.credential = "key"
	*clock = clock.Add(2 * time.Second)
	_, err = svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.NoError(t, err)
}

func TestOffTopicQuestionSkipsModelCall(t *testing.T) {
	svc, storage, llm, _ := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	units, err := svc.Send(ctx, sess, "What's the weather today?", prompt.ModeAsk)
	require.NoError(t, err)

	assert.Equal(t, 0, llm.callCount(), "off-topic input must not reach the model")
	require.Equal(t, []store.Role{store.RoleUser, store.RoleAssistant}, roles(units))
	assert.Contains(t, units[1].HTML, "programming questions and coding problems")

	// The refusal is a normal assistant reply and persists like one.
	assert.Len(t, storage.saved("Two Sum"), 2)
}

func TestModelFailureAppendsErrorAndRecovers(t *testing.T) {
	svc, storage, llm, clock := newTestService(t)
	ctx := context.Background()
	llm.err = errors.New("connection reset")

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	units, err := svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.NoError(t, err, "API failures are not fatal to the session")
	require.Len(t, units, 2)
	assert.Equal(t, store.RoleError, units[1].Role)
	assert.Contains(t, units[1].HTML, "Sorry, there was an error processing your request.")
	assert.False(t, strings.Contains(units[1].HTML, "connection reset"), "raw API errors must not leak")
	assert.Equal(t, 0, storage.saveCount, "failed cycles do not persist")

	llm.mu.Lock()
	llm.err = nil
	llm.mu.Unlock()
	*clock = clock.Add(2 * time.Second)
	_, err = svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.NoError(t, err)
}

func TestOpenSessionReplaysHistoryAndSuppressesWelcome(t *testing.T) {
	svc, storage, _, _ := newTestService(t)
	ctx := context.Background()
	earlier := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	storage.history["Two Sum"] = []store.ChatMessage{
		{ID: "a", Role: store.RoleUser, Text: "old question", Timestamp: earlier},
		{ID: "b", Role: store.RoleAssistant, Text: "old answer", Timestamp: earlier},
	}

	_, transcript, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "old question", transcript[0].HTML)
	for _, unit := range transcript {
		assert.NotContains(t, unit.HTML, "Welcome to AI Doubt Solver")
	}
}

func TestWelcomeOnlySessionLeavesNoHistory(t *testing.T) {
	svc, storage, _, _ := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)
	require.NoError(t, svc.CloseSession(ctx, sess.ID))
	assert.Empty(t, storage.saved("Two Sum"))

	// With nothing persisted, a reopened session greets again.
	_, transcript, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	assert.Contains(t, transcript[0].HTML, "Welcome to AI Doubt Solver")
}

func TestLoadingPlaceholderAddedAndRemoved(t *testing.T) {
	svc, _, llm, _ := newTestService(t)
	ctx := context.Background()
	llm.block = make(chan struct{})
	llm.started = make(chan struct{})

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
		close(done)
	}()
	<-llm.started

	var sawLoading bool
	for _, unit := range svc.Transcript(sess) {
		if unit.Role == store.RoleLoading {
			sawLoading = true
			assert.Equal(t, "Thinking...", unit.HTML)
		}
	}
	assert.True(t, sawLoading, "loading placeholder visible while in flight")

	close(llm.block)
	<-done
	for _, unit := range svc.Transcript(sess) {
		assert.NotEqual(t, store.RoleLoading, unit.Role, "placeholder removed once resolved")
	}
}

func TestCloseSessionPersistsAndRemoves(t *testing.T) {
	svc, storage, _, clock := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.OpenSession(ctx, twoSum)
	require.NoError(t, err)
	*clock = clock.Add(2 * time.Second)
	_, err = svc.Send(ctx, sess, "explain big O", prompt.ModeAsk)
	require.NoError(t, err)

	require.NoError(t, svc.CloseSession(ctx, sess.ID))
	_, ok := svc.GetSession(sess.ID)
	assert.False(t, ok)
	assert.Len(t, storage.saved("Two Sum"), 2)

	require.ErrorIs(t, svc.CloseSession(ctx, sess.ID), ErrSessionNotFound)
}

func TestSetCredential(t *testing.T) {
	svc, storage, llm, _ := newTestService(t)
	ctx := context.Background()
	storage.credential = ""
	validKey := "AIza" + strings.Repeat("a", 35)

	err := svc.SetCredential(ctx, "not-a-key")
	require.ErrorIs(t, err, ErrInvalidKeyFormat)
	assert.Equal(t, 0, llm.callCount(), "format failures skip the probe")

	require.NoError(t, svc.SetCredential(ctx, validKey))
	assert.Equal(t, 1, llm.callCount(), "valid keys are probed before storing")
	assert.Equal(t, validKey, storage.credential)
}

func TestSetCredentialRejectedByProbe(t *testing.T) {
	svc, storage, llm, _ := newTestService(t)
	ctx := context.Background()
	storage.credential = ""
	llm.err = errors.New("PERMISSION_DENIED: permission to access Gemini denied")

	err := svc.SetCredential(ctx, "AIza"+strings.Repeat("b", 35))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
	assert.Empty(t, storage.credential, "failed keys are never stored")
}
