// Package orchestrator drives the interview session: it coordinates the
// capture → transcription → turn-processing → synthesis pipeline, enforces
// the mic-state mutual exclusion between overlapping user actions, and
// reconciles conversation state on success or failure.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intervox/internal/agent"
	"github.com/ashureev/intervox/internal/audio"
	"github.com/ashureev/intervox/internal/domain"
	"github.com/ashureev/intervox/internal/metrics"
	"github.com/ashureev/intervox/internal/session"
	"github.com/ashureev/intervox/internal/shared"
)

// maxTurnAttempts bounds the automatic retry of a failing turn-processing
// call: exactly one retry, never more.
const maxTurnAttempts = 2

// DialogueAgent is the remote agent contract the engine consumes.
type DialogueAgent interface {
	Start(ctx context.Context, interviewID, userID string) (*agent.StartResponse, error)
	ProcessTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error)
	End(ctx context.Context, req agent.EndRequest) (*agent.EndResponse, error)
	AutoAnswer(ctx context.Context, req agent.AutoAnswerRequest) (*agent.AutoAnswerResponse, error)
}

// Recorder is the capture half of the audio pipeline.
type Recorder interface {
	Start() error
	Stop() (*audio.Recording, error)
}

// Transcriber converts a finished recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec *audio.Recording) (string, error)
}

// Speaker is the synthesis and playback surface.
type Speaker interface {
	Speak(ctx context.Context, text string, onDone func()) (bool, error)
	Replay(onDone func()) (bool, error)
	Stop()
	Release()
}

// CompletionFunc is invoked once when the interview reaches completed.
type CompletionFunc func(finalEvaluation string)

// Engine owns one interview session end to end.
type Engine struct {
	state       *session.Container
	recorder    Recorder
	transcriber Transcriber
	agent       DialogueAgent
	speech      Speaker
	stats       *metrics.Metrics
	onComplete  CompletionFunc

	// mu serializes user-initiated actions. Blocked actions are not
	// queued; the mic-state guard makes them no-ops instead.
	mu sync.Mutex

	// playbackGen identifies the latest started playback, guarded by mu.
	// Completion callbacks from superseded clips are discarded.
	playbackGen uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches engine metrics.
func WithMetrics(stats *metrics.Metrics) Option {
	return func(e *Engine) {
		e.stats = stats
	}
}

// WithCompletionCallback sets the external completion callback.
func WithCompletionCallback(fn CompletionFunc) Option {
	return func(e *Engine) {
		e.onComplete = fn
	}
}

// New creates an engine over the given collaborators. One client per
// external capability is constructed by the caller and passed in here;
// the engine holds no global state.
func New(state *session.Container, recorder Recorder, transcriber Transcriber, dialogue DialogueAgent, speech Speaker, opts ...Option) *Engine {
	e := &Engine{
		state:       state,
		recorder:    recorder,
		transcriber: transcriber,
		agent:       dialogue,
		speech:      speech,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State exposes the session container for consumers that render from it.
func (e *Engine) State() *session.Container {
	return e.state
}

// LoadSession installs the session to orchestrate.
func (e *Engine) LoadSession(data domain.SessionData) {
	e.state.SetSessionData(data)
}

// StartInterview asks the agent for the first question, moves the session
// to in_progress and speaks the question. No-op when the session has
// already started.
func (e *Engine) StartInterview(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, ok := e.state.SessionData()
	if !ok || data.Status != domain.StatusNotStarted {
		return nil
	}

	resp, err := e.agent.Start(ctx, data.InterviewID, data.UserID)
	if err != nil {
		e.state.SetError(shared.UserMessage(err, "The interview could not be started"))
		return err
	}

	e.state.SetSessionData(data.WithStatus(domain.StatusInProgress))
	e.state.SetConversation([]domain.ConversationTurn{{
		Speaker: domain.SpeakerInterviewer,
		Text:    resp.FirstQuestion,
	}})
	e.state.SetCurrentQuestion(resp.FirstQuestion)
	e.state.SetError("")

	e.speakPrompt(ctx, resp.FirstQuestion)
	return nil
}

// StartRecording begins microphone capture. No-op unless the mic is idle.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.MicState() != domain.MicIdle {
		return nil
	}

	if err := e.recorder.Start(); err != nil {
		if e.stats != nil {
			e.stats.RecordingsTotal.WithLabelValues("error").Inc()
		}
		e.state.SetError(shared.UserMessage(err, "Recording could not be started"))
		return err
	}

	if e.stats != nil {
		e.stats.RecordingsTotal.WithLabelValues("ok").Inc()
	}
	e.state.SetError("")
	e.state.SetMicState(domain.MicRecording)
	return nil
}

// StopRecording flushes the capture, transcribes it and runs one turn
// cycle. No-op unless the mic is recording.
func (e *Engine) StopRecording(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.MicState() != domain.MicRecording {
		return nil
	}
	e.state.SetMicState(domain.MicProcessing)

	rec, err := e.recorder.Stop()
	if err != nil {
		e.state.SetError(shared.UserMessage(err, "The recording could not be processed"))
		e.state.SetMicState(domain.MicIdle)
		return err
	}

	transcript, err := e.transcriber.Transcribe(ctx, rec)
	if err != nil {
		if e.stats != nil {
			e.stats.TranscriptionsTotal.WithLabelValues("error").Inc()
		}
		e.state.SetError(shared.UserMessage(err, "Your answer could not be transcribed"))
		e.state.SetMicState(domain.MicIdle)
		return err
	}

	if transcript == "" {
		if e.stats != nil {
			e.stats.TranscriptionsTotal.WithLabelValues("empty").Inc()
		}
		e.state.SetError("No speech detected, please try again")
		e.state.SetMicState(domain.MicIdle)
		return nil
	}

	if e.stats != nil {
		e.stats.TranscriptionsTotal.WithLabelValues("ok").Inc()
	}

	e.state.AppendTurn(domain.ConversationTurn{
		Speaker: domain.SpeakerCandidate,
		Text:    transcript,
	})
	return e.runTurn(ctx, transcript, rec.Seconds())
}

// AutoAnswer asks the agent to answer the current question on the
// candidate's behalf, then runs the normal turn cycle with the generated
// answer. No-op unless the mic is idle.
func (e *Engine) AutoAnswer(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.MicState() != domain.MicIdle {
		return nil
	}

	data, ok := e.state.SessionData()
	if !ok || data.Status != domain.StatusInProgress {
		return nil
	}
	question := e.state.CurrentQuestion()
	if question == "" {
		return nil
	}

	// Placeholder while the answer is being generated; resolved in place
	// below, or removed on failure.
	e.state.AppendTurn(domain.ConversationTurn{
		Speaker:       domain.SpeakerCandidate,
		IsPlaceholder: true,
	})
	e.state.SetMicState(domain.MicProcessing)

	resp, err := e.agent.AutoAnswer(ctx, agent.AutoAnswerRequest{
		Question:            question,
		InterviewType:       data.Parameters.InterviewType,
		ConversationHistory: e.historyForAgent(),
		DifficultyLevel:     data.Parameters.DifficultyLevel,
	})
	if err != nil {
		e.state.RemoveLastTurn()
		e.state.SetError(shared.UserMessage(err, "An answer could not be generated"))
		e.state.SetMicState(domain.MicIdle)
		return err
	}

	e.state.ReplaceLastTurn(domain.ConversationTurn{
		Speaker: domain.SpeakerCandidate,
		Text:    resp.Answer,
	})
	return e.runTurn(ctx, resp.Answer, resp.DurationSeconds)
}

// runTurn drives one request/response cycle with the dialogue agent. The
// optimistic candidate turn is already the last entry of the conversation.
// It is either confirmed by a successful response, or rolled back with an
// explicit error; no third outcome exists.
func (e *Engine) runTurn(ctx context.Context, transcript string, durationSeconds float64) error {
	data, _ := e.state.SessionData()
	started := time.Now()

	var resp *agent.TurnResponse
	var err error
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		resp, err = e.agent.ProcessTurn(ctx, agent.TurnRequest{
			InterviewID:     data.InterviewID,
			UserID:          data.UserID,
			UserResponse:    transcript,
			DurationSeconds: durationSeconds,
		})
		if err == nil {
			break
		}
		if attempt < maxTurnAttempts {
			slog.Warn("Turn processing failed, retrying once",
				"interview_id", data.InterviewID,
				"attempt", attempt,
				"error", err)
			if e.stats != nil {
				e.stats.TurnRetries.Inc()
			}
		}
	}
	if e.stats != nil {
		e.stats.TurnDuration.Observe(time.Since(started).Seconds())
	}

	if err != nil {
		return e.failTurn(err)
	}

	if len(resp.RealTimeFeedback) > 0 {
		e.state.ReplaceLastTurn(domain.ConversationTurn{
			Speaker:  domain.SpeakerCandidate,
			Text:     transcript,
			Feedback: &domain.TurnFeedback{Raw: resp.RealTimeFeedback},
		})
	}
	if len(resp.InterviewState) > 0 {
		e.state.SetSpeechAnalysis(resp.InterviewState)
	}
	e.state.SetError("")

	if resp.Completed() {
		e.complete("")
		if e.stats != nil {
			e.stats.TurnsTotal.WithLabelValues("completed").Inc()
		}
		return nil
	}

	e.state.AppendTurn(domain.ConversationTurn{
		Speaker: domain.SpeakerInterviewer,
		Text:    resp.NextQuestion,
	})
	e.state.SetCurrentQuestion(resp.NextQuestion)
	if e.stats != nil {
		e.stats.TurnsTotal.WithLabelValues("ok").Inc()
	}

	e.speakPrompt(ctx, resp.NextQuestion)
	return nil
}

// failTurn reconciles state after the final failed attempt. A remote
// turn-persistence conflict rolls the optimistic turn back; anything else
// leaves the conversation untouched beyond the already-appended turn.
func (e *Engine) failTurn(err error) error {
	switch {
	case shared.IsTurnConflict(err):
		e.state.RemoveLastTurn()
		e.state.SetError("Your answer could not be saved, please rephrase and try again")
		if e.stats != nil {
			e.stats.TurnRollbacks.Inc()
			e.stats.TurnsTotal.WithLabelValues("conflict").Inc()
		}
	case shared.IsTimeout(err):
		e.state.SetError("The interview service took too long to respond, please try again")
		if e.stats != nil {
			e.stats.TurnsTotal.WithLabelValues("timeout").Inc()
		}
	default:
		e.state.SetError(shared.UserMessage(err, "The interview could not continue, please try again"))
		if e.stats != nil {
			e.stats.TurnsTotal.WithLabelValues("error").Inc()
		}
	}
	e.state.SetMicState(domain.MicIdle)
	return err
}

// EndInterview terminates the session manually.
func (e *Engine) EndInterview(ctx context.Context, finalEvaluation string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, ok := e.state.SessionData()
	if !ok || data.Status == domain.StatusCompleted {
		return nil
	}

	e.speech.Stop()
	e.state.SetAudioPlaying(false)

	resp, err := e.agent.End(ctx, agent.EndRequest{
		InterviewID:     data.InterviewID,
		UserID:          data.UserID,
		FinalEvaluation: finalEvaluation,
	})
	if err != nil {
		e.state.SetError(shared.UserMessage(err, "The interview could not be ended"))
		e.state.SetMicState(domain.MicIdle)
		return err
	}

	e.complete(resp.FinalEvaluation)
	return nil
}

// StopPlayback interrupts active playback. This is the one action always
// permitted irrespective of the mic state.
func (e *Engine) StopPlayback() {
	e.speech.Stop()
	e.state.SetAudioPlaying(false)
	if e.state.MicState() == domain.MicPlaying {
		e.state.SetMicState(domain.MicIdle)
	}
}

// ReplayAudio plays the current question's cached audio again. No-op
// unless the mic is idle.
func (e *Engine) ReplayAudio() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.MicState() != domain.MicIdle {
		return nil
	}

	started, err := e.speech.Replay(e.playbackDoneLocked())
	if err != nil {
		e.state.SetError(shared.UserMessage(err, "The audio could not be replayed"))
		return err
	}
	if started {
		e.state.SetAudioPlaying(true)
		e.state.SetMicState(domain.MicPlaying)
	}
	return nil
}

// Close releases the session's audio resources and drops the turn state.
func (e *Engine) Close() {
	e.speech.Release()
	e.state.SetAudioPlaying(false)
	e.state.SetMicState(domain.MicIdle)
}

func (e *Engine) complete(finalEvaluation string) {
	data, _ := e.state.SessionData()
	e.state.SetSessionData(data.WithStatus(domain.StatusCompleted))
	e.state.SetMicState(domain.MicIdle)
	if e.onComplete != nil {
		e.onComplete(finalEvaluation)
	}
}

// speakPrompt synthesizes and plays the prompt, walking the mic through
// generating → playing → idle. Synthesis trouble is not fatal to the turn:
// the question is already on screen, so the session degrades to text.
func (e *Engine) speakPrompt(ctx context.Context, text string) {
	e.state.SetMicState(domain.MicGenerating)

	started, err := e.speech.Speak(ctx, text, e.playbackDoneLocked())
	if err != nil {
		slog.Warn("Prompt could not be spoken", "error", err)
		e.state.SetError(shared.UserMessage(err, "The interviewer audio is unavailable"))
		e.state.SetMicState(domain.MicIdle)
		return
	}
	if !started {
		e.state.SetMicState(domain.MicIdle)
		return
	}

	e.state.SetAudioPlaying(true)
	e.state.SetMicState(domain.MicPlaying)
}

// playbackDoneLocked binds a completion callback to the playback that is
// about to start. Must be called with mu held. The callback takes mu
// itself, so a clip that finishes before the initiating action has
// committed the playing state waits for that commit and still re-arms the
// pipeline; a callback from a clip that has since been superseded does
// nothing.
func (e *Engine) playbackDoneLocked() func() {
	e.playbackGen++
	gen := e.playbackGen
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.playbackGen {
			return
		}
		e.state.SetAudioPlaying(false)
		if e.state.MicState() == domain.MicPlaying {
			e.state.SetMicState(domain.MicIdle)
		}
	}
}

func (e *Engine) historyForAgent() []agent.HistoryEntry {
	turns := e.state.Conversation()
	history := make([]agent.HistoryEntry, 0, len(turns))
	for _, turn := range turns {
		if turn.IsPlaceholder {
			continue
		}
		history = append(history, agent.HistoryEntry{
			Speaker: string(turn.Speaker),
			Text:    turn.Text,
		})
	}
	return history
}
