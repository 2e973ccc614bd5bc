// Package session holds the single source of truth for one interview
// session: the session data, the ordered turn list, the mic state, the
// last user-visible error and ancillary flags.
//
// Every transition is synchronous and total. Callers validate their own
// preconditions; no transition can fail. State is replaced wholesale so
// consumers always observe one consistent snapshot.
package session

import (
	"encoding/json"
	"sync"

	"github.com/ashureev/intervox/internal/domain"
)

// Snapshot is a consistent view of the whole session state.
type Snapshot struct {
	Data            *domain.SessionData
	Conversation    []domain.ConversationTurn
	MicState        domain.MicState
	LastError       string
	AudioPlaying    bool
	CurrentQuestion string
	SpeechAnalysis  json.RawMessage
}

// Listener receives a snapshot after every transition.
type Listener func(Snapshot)

// Container owns the session state. All mutation goes through its methods,
// guaranteeing a single writer per resource.
type Container struct {
	mu              sync.Mutex
	data            *domain.SessionData
	conversation    []domain.ConversationTurn
	micState        domain.MicState
	lastError       string
	audioPlaying    bool
	currentQuestion string
	speechAnalysis  json.RawMessage

	listeners  map[int]Listener
	nextListen int
}

// New creates an empty container with the mic idle.
func New() *Container {
	return &Container{
		micState:  domain.MicIdle,
		listeners: map[int]Listener{},
	}
}

// Subscribe registers a listener notified after every transition. The
// returned function unregisters it; calling it more than once is harmless.
func (c *Container) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// SetSessionData replaces the session data wholesale.
func (c *Container) SetSessionData(data domain.SessionData) {
	c.mu.Lock()
	copied := data
	c.data = &copied
	c.notifyLocked()
}

// SessionData returns a copy of the current session data, and whether any
// session has been loaded yet.
func (c *Container) SessionData() (domain.SessionData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return domain.SessionData{}, false
	}
	return *c.data, true
}

// SetConversation replaces the whole turn list.
func (c *Container) SetConversation(turns []domain.ConversationTurn) {
	c.mu.Lock()
	c.conversation = append([]domain.ConversationTurn(nil), turns...)
	c.notifyLocked()
}

// Conversation returns a copy of the turn list.
func (c *Container) Conversation() []domain.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ConversationTurn(nil), c.conversation...)
}

// AppendTurn appends one turn to the conversation.
func (c *Container) AppendTurn(turn domain.ConversationTurn) {
	c.mu.Lock()
	c.conversation = append(c.conversation, turn)
	c.notifyLocked()
}

// ReplaceLastTurn overwrites the last turn in place. No-op on an empty
// conversation.
func (c *Container) ReplaceLastTurn(turn domain.ConversationTurn) {
	c.mu.Lock()
	if len(c.conversation) == 0 {
		c.mu.Unlock()
		return
	}
	c.conversation[len(c.conversation)-1] = turn
	c.notifyLocked()
}

// RemoveLastTurn drops the last turn. No-op on an empty conversation.
func (c *Container) RemoveLastTurn() {
	c.mu.Lock()
	if len(c.conversation) == 0 {
		c.mu.Unlock()
		return
	}
	c.conversation = c.conversation[:len(c.conversation)-1]
	c.notifyLocked()
}

// SetMicState sets the mutual-exclusion mode.
func (c *Container) SetMicState(state domain.MicState) {
	c.mu.Lock()
	c.micState = state
	c.notifyLocked()
}

// MicState returns the current mode.
func (c *Container) MicState() domain.MicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micState
}

// SetError sets the last user-visible error message. Empty clears it.
func (c *Container) SetError(message string) {
	c.mu.Lock()
	c.lastError = message
	c.notifyLocked()
}

// LastError returns the last user-visible error message.
func (c *Container) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SetAudioPlaying flags whether interviewer audio is audible right now.
func (c *Container) SetAudioPlaying(playing bool) {
	c.mu.Lock()
	c.audioPlaying = playing
	c.notifyLocked()
}

// SetCurrentQuestion updates the active-question pointer.
func (c *Container) SetCurrentQuestion(text string) {
	c.mu.Lock()
	c.currentQuestion = text
	c.notifyLocked()
}

// CurrentQuestion returns the active question text.
func (c *Container) CurrentQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentQuestion
}

// SetSpeechAnalysis stores the cached speech-analysis payload. The payload
// is opaque to the engine.
func (c *Container) SetSpeechAnalysis(payload json.RawMessage) {
	c.mu.Lock()
	c.speechAnalysis = append(json.RawMessage(nil), payload...)
	c.notifyLocked()
}

// Snapshot returns a consistent copy of the whole state.
func (c *Container) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Container) snapshotLocked() Snapshot {
	snap := Snapshot{
		Conversation:    append([]domain.ConversationTurn(nil), c.conversation...),
		MicState:        c.micState,
		LastError:       c.lastError,
		AudioPlaying:    c.audioPlaying,
		CurrentQuestion: c.currentQuestion,
		SpeechAnalysis:  append(json.RawMessage(nil), c.speechAnalysis...),
	}
	if c.data != nil {
		copied := *c.data
		snap.Data = &copied
	}
	return snap
}

// notifyLocked snapshots state and releases the lock before invoking
// listeners, so a listener may call back into the container.
func (c *Container) notifyLocked() {
	snap := c.snapshotLocked()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
