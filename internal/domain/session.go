// Package domain contains core domain types for the interview engine.
package domain

import "encoding/json"

// SessionStatus is the lifecycle status of an interview session.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// MicState is the single mutually exclusive mode for the whole session.
// At most one non-idle mode is active at any time; user-initiated actions
// are no-ops unless the current mode permits them.
type MicState string

const (
	MicIdle       MicState = "idle"
	MicRecording  MicState = "recording"
	MicProcessing MicState = "processing"
	MicGenerating MicState = "generating"
	MicPlaying    MicState = "playing"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// TurnFeedback carries per-turn feedback from the dialogue agent.
// The payload is opaque to the orchestration engine; it is stored and
// forwarded without interpretation.
type TurnFeedback struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ConversationTurn is one exchange unit in the dialogue transcript.
// Turns are totally ordered by append time. A candidate turn may exist
// as a placeholder before its real text is known; it must be overwritten
// in place once resolved, or removed entirely on failure.
type ConversationTurn struct {
	Speaker       Speaker       `json:"speaker"`
	Text          string        `json:"text"`
	Feedback      *TurnFeedback `json:"feedback,omitempty"`
	IsPlaceholder bool          `json:"is_placeholder,omitempty"`
}

// InterviewParameters holds the configured dialogue parameters for a session.
type InterviewParameters struct {
	InterviewType      string `json:"interview_type"`
	DifficultyLevel    string `json:"difficulty_level,omitempty"`
	InterviewerPersona string `json:"interviewer_persona,omitempty"`
	// MaxQuestions of 0 means unbounded.
	MaxQuestions int  `json:"max_questions,omitempty"`
	AutoAnswer   bool `json:"auto_answer,omitempty"`
}

// SessionData is an immutable-until-replaced snapshot of one interview
// session. It is replaced wholesale on every status transition.
type SessionData struct {
	InterviewID string              `json:"interview_id"`
	UserID      string              `json:"user_id"`
	Status      SessionStatus       `json:"status"`
	Parameters  InterviewParameters `json:"parameters"`
}

// WithStatus returns a copy of the session data with the status replaced.
func (s SessionData) WithStatus(status SessionStatus) SessionData {
	s.Status = status
	return s
}
