package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/intervox/internal/agent"
	"github.com/ashureev/intervox/internal/audio"
	"github.com/ashureev/intervox/internal/domain"
	"github.com/ashureev/intervox/internal/session"
	"github.com/ashureev/intervox/internal/shared"
)

type fakeAgent struct {
	startResp    *agent.StartResponse
	startErr     error
	turnResps    []*agent.TurnResponse
	turnErrs     []error
	turnCalls    int
	endResp      *agent.EndResponse
	endErr       error
	autoResp     *agent.AutoAnswerResponse
	autoErr      error
	lastTurnReq  agent.TurnRequest
	lastAutoReq  agent.AutoAnswerRequest
}

func (f *fakeAgent) Start(ctx context.Context, interviewID, userID string) (*agent.StartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.startResp != nil {
		return f.startResp, nil
	}
	return &agent.StartResponse{FirstQuestion: "Tell me about yourself"}, nil
}

func (f *fakeAgent) ProcessTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error) {
	i := f.turnCalls
	f.turnCalls++
	f.lastTurnReq = req
	if i < len(f.turnErrs) && f.turnErrs[i] != nil {
		return nil, f.turnErrs[i]
	}
	if i < len(f.turnResps) && f.turnResps[i] != nil {
		return f.turnResps[i], nil
	}
	return &agent.TurnResponse{NextQuestion: "Why Go?"}, nil
}

func (f *fakeAgent) End(ctx context.Context, req agent.EndRequest) (*agent.EndResponse, error) {
	if f.endErr != nil {
		return nil, f.endErr
	}
	if f.endResp != nil {
		return f.endResp, nil
	}
	return &agent.EndResponse{Status: "completed"}, nil
}

func (f *fakeAgent) AutoAnswer(ctx context.Context, req agent.AutoAnswerRequest) (*agent.AutoAnswerResponse, error) {
	f.lastAutoReq = req
	if f.autoErr != nil {
		return nil, f.autoErr
	}
	if f.autoResp != nil {
		return f.autoResp, nil
	}
	return &agent.AutoAnswerResponse{Answer: "generated answer", DurationSeconds: 10}, nil
}

type fakeRecorder struct {
	startErr  error
	stopErr   error
	recording *audio.Recording
	started   int
	stopped   int
}

func (f *fakeRecorder) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeRecorder) Stop() (*audio.Recording, error) {
	f.stopped++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	if f.recording != nil {
		return f.recording, nil
	}
	return &audio.Recording{
		WAV:        make([]byte, 1024),
		MediaType:  "audio/wav",
		SampleRate: 16000,
		Duration:   3 * time.Second,
	}, nil
}

type fakeTranscriber struct {
	transcript string
	err        error
	calls      int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, rec *audio.Recording) (string, error) {
	f.calls++
	return f.transcript, f.err
}

type fakeSpeaker struct {
	speakErr error
	spoken   []string
	replays  int
	stops    int
	releases int
	// lastDone lets tests drive playback completion by hand.
	lastDone func()
	// instantDone fires the completion callback from another goroutine
	// before Speak returns, like a clip that hits EOF right away.
	instantDone bool
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string, onDone func()) (bool, error) {
	if f.speakErr != nil {
		return false, f.speakErr
	}
	f.spoken = append(f.spoken, text)
	f.lastDone = onDone
	if f.instantDone {
		go onDone()
	}
	return true, nil
}

func (f *fakeSpeaker) Replay(onDone func()) (bool, error) {
	f.replays++
	f.lastDone = onDone
	if f.instantDone {
		go onDone()
	}
	return true, nil
}

func (f *fakeSpeaker) Stop()    { f.stops++ }
func (f *fakeSpeaker) Release() { f.releases++ }

type fixture struct {
	dialogue    *fakeAgent
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	speaker     *fakeSpeaker
	state       *session.Container
	e           *Engine
}

func newFixture(status domain.SessionStatus) *fixture {
	f := &fixture{
		dialogue:    &fakeAgent{},
		recorder:    &fakeRecorder{},
		transcriber: &fakeTranscriber{transcript: "my answer"},
		speaker:     &fakeSpeaker{},
		state:       session.New(),
	}
	f.e = New(f.state, f.recorder, f.transcriber, f.dialogue, f.speaker)
	f.e.LoadSession(domain.SessionData{
		InterviewID: "iv-1",
		UserID:      "user-1",
		Status:      status,
		Parameters:  domain.InterviewParameters{InterviewType: "technical"},
	})
	return f
}

func TestEngine_StartInterview(t *testing.T) {
	f := newFixture(domain.StatusNotStarted)

	if err := f.e.StartInterview(context.Background()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	snap := f.state.Snapshot()
	if snap.Data.Status != domain.StatusInProgress {
		t.Errorf("Status = %s", snap.Data.Status)
	}
	if len(snap.Conversation) != 1 || snap.Conversation[0].Speaker != domain.SpeakerInterviewer {
		t.Fatalf("Conversation = %+v", snap.Conversation)
	}
	if snap.MicState != domain.MicPlaying {
		t.Errorf("MicState = %s, want playing while the question is spoken", snap.MicState)
	}
	if len(f.speaker.spoken) != 1 || f.speaker.spoken[0] != "Tell me about yourself" {
		t.Errorf("Spoken = %v", f.speaker.spoken)
	}

	// Playback finishing re-arms the mic.
	f.speaker.lastDone()
	if f.state.MicState() != domain.MicIdle {
		t.Errorf("MicState after playback = %s", f.state.MicState())
	}
}

func TestEngine_StartInterview_AlreadyStartedIsNoop(t *testing.T) {
	f := newFixture(domain.StatusInProgress)

	if err := f.e.StartInterview(context.Background()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if len(f.speaker.spoken) != 0 {
		t.Error("Expected no speech for an already started session")
	}
}

func TestEngine_RecordingMutualExclusion(t *testing.T) {
	blocked := []domain.MicState{
		domain.MicRecording,
		domain.MicProcessing,
		domain.MicGenerating,
		domain.MicPlaying,
	}
	for _, micState := range blocked {
		t.Run(string(micState), func(t *testing.T) {
			f := newFixture(domain.StatusInProgress)
			f.state.SetMicState(micState)

			if err := f.e.StartRecording(); err != nil {
				t.Fatalf("StartRecording: %v", err)
			}
			if f.recorder.started != 0 {
				t.Error("Expected StartRecording to be a no-op")
			}
			// StopRecording is the one action the recording state permits.
			if micState != domain.MicRecording {
				if err := f.e.StopRecording(context.Background()); err != nil {
					t.Fatalf("StopRecording: %v", err)
				}
				if f.recorder.stopped != 0 {
					t.Error("Expected StopRecording to be a no-op")
				}
			}
			if err := f.e.AutoAnswer(context.Background()); err != nil {
				t.Fatalf("AutoAnswer: %v", err)
			}
			if err := f.e.ReplayAudio(); err != nil {
				t.Fatalf("ReplayAudio: %v", err)
			}
			if f.speaker.replays != 0 {
				t.Error("Expected ReplayAudio to be a no-op")
			}
			if f.dialogue.turnCalls != 0 {
				t.Error("Expected no turn processing")
			}
		})
	}
}

func TestEngine_FullTurnCycle(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.state.SetCurrentQuestion("Tell me about yourself")

	if err := f.e.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if f.state.MicState() != domain.MicRecording {
		t.Fatalf("MicState = %s", f.state.MicState())
	}

	if err := f.e.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("Conversation length = %d", len(snap.Conversation))
	}
	if snap.Conversation[0].Text != "my answer" || snap.Conversation[0].Speaker != domain.SpeakerCandidate {
		t.Errorf("Candidate turn = %+v", snap.Conversation[0])
	}
	if snap.Conversation[1].Text != "Why Go?" || snap.Conversation[1].Speaker != domain.SpeakerInterviewer {
		t.Errorf("Interviewer turn = %+v", snap.Conversation[1])
	}
	if snap.CurrentQuestion != "Why Go?" {
		t.Errorf("CurrentQuestion = %q", snap.CurrentQuestion)
	}
	if f.dialogue.lastTurnReq.UserResponse != "my answer" {
		t.Errorf("UserResponse = %q", f.dialogue.lastTurnReq.UserResponse)
	}
	if f.dialogue.lastTurnReq.DurationSeconds != 3 {
		t.Errorf("DurationSeconds = %v", f.dialogue.lastTurnReq.DurationSeconds)
	}
	if snap.MicState != domain.MicPlaying {
		t.Errorf("MicState = %s", snap.MicState)
	}
}

func TestEngine_EmptyTranscriptRearmsWithoutTurn(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.transcriber.transcript = ""

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 0 {
		t.Errorf("Conversation = %+v, want empty", snap.Conversation)
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
	if snap.LastError == "" {
		t.Error("Expected a user-facing notice for silent recording")
	}
	if f.dialogue.turnCalls != 0 {
		t.Error("Expected no turn processing for empty transcript")
	}
}

func TestEngine_TurnRetriesExactlyOnce(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.dialogue.turnErrs = []error{
		errors.New("transient"),
		nil, // second attempt succeeds
	}

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if f.dialogue.turnCalls != 2 {
		t.Errorf("Turn calls = %d, want 2", f.dialogue.turnCalls)
	}
	if len(f.state.Conversation()) != 2 {
		t.Errorf("Conversation length = %d", len(f.state.Conversation()))
	}
}

func TestEngine_TurnFailureStopsAfterSecondAttempt(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.dialogue.turnErrs = []error{
		errors.New("boom"),
		errors.New("boom"),
		errors.New("boom"),
	}

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if f.dialogue.turnCalls != 2 {
		t.Errorf("Turn calls = %d, want exactly 2", f.dialogue.turnCalls)
	}

	// The non-conflict failure keeps the candidate turn in place.
	snap := f.state.Snapshot()
	if len(snap.Conversation) != 1 {
		t.Errorf("Conversation length = %d, want 1", len(snap.Conversation))
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
	if snap.LastError == "" {
		t.Error("Expected a user-facing error")
	}
}

func TestEngine_ConflictRollsBackOptimisticTurn(t *testing.T) {
	conflict := &shared.Error{
		Kind:    shared.KindTurnProcessing,
		Message: "rejected",
		Code:    shared.TurnConflictCode,
	}
	f := newFixture(domain.StatusInProgress)
	f.dialogue.turnErrs = []error{conflict, conflict}

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 0 {
		t.Errorf("Conversation = %+v, want rolled back", snap.Conversation)
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
}

func TestEngine_TimeoutLeavesTurnInPlace(t *testing.T) {
	timeout := shared.NewError(shared.KindTimeout, "too slow", nil)
	f := newFixture(domain.StatusInProgress)
	f.dialogue.turnErrs = []error{timeout, timeout}

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 1 {
		t.Errorf("Conversation length = %d, want 1", len(snap.Conversation))
	}
}

func TestEngine_InterviewCompletion(t *testing.T) {
	var evaluations []string
	f := newFixture(domain.StatusInProgress)
	f.e = New(f.state, f.recorder, f.transcriber, f.dialogue, f.speaker,
		WithCompletionCallback(func(finalEvaluation string) {
			evaluations = append(evaluations, finalEvaluation)
		}))
	f.dialogue.turnResps = []*agent.TurnResponse{
		{InterviewComplete: true},
	}

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	snap := f.state.Snapshot()
	if snap.Data.Status != domain.StatusCompleted {
		t.Errorf("Status = %s", snap.Data.Status)
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
	if len(evaluations) != 1 {
		t.Errorf("Completion callbacks = %d, want 1", len(evaluations))
	}
	if len(f.speaker.spoken) != 0 {
		t.Error("Expected no speech after completion")
	}
}

func TestEngine_AutoAnswer(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.state.SetCurrentQuestion("Why Go?")

	if err := f.e.AutoAnswer(context.Background()); err != nil {
		t.Fatalf("AutoAnswer: %v", err)
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("Conversation length = %d", len(snap.Conversation))
	}
	if snap.Conversation[0].Text != "generated answer" || snap.Conversation[0].IsPlaceholder {
		t.Errorf("Candidate turn = %+v, want resolved placeholder", snap.Conversation[0])
	}
	if f.dialogue.lastAutoReq.Question != "Why Go?" {
		t.Errorf("Question = %q", f.dialogue.lastAutoReq.Question)
	}
	if f.dialogue.lastTurnReq.UserResponse != "generated answer" {
		t.Errorf("UserResponse = %q", f.dialogue.lastTurnReq.UserResponse)
	}
}

func TestEngine_AutoAnswerFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.state.SetCurrentQuestion("Why Go?")
	f.dialogue.autoErr = errors.New("generation failed")

	if err := f.e.AutoAnswer(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	snap := f.state.Snapshot()
	if len(snap.Conversation) != 0 {
		t.Errorf("Conversation = %+v, want placeholder removed", snap.Conversation)
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
}

func TestEngine_AutoAnswerWithoutQuestionIsNoop(t *testing.T) {
	f := newFixture(domain.StatusInProgress)

	if err := f.e.AutoAnswer(context.Background()); err != nil {
		t.Fatalf("AutoAnswer: %v", err)
	}
	if f.dialogue.turnCalls != 0 {
		t.Error("Expected no turn processing without a current question")
	}
}

func TestEngine_StopPlaybackAlwaysAllowed(t *testing.T) {
	states := []domain.MicState{
		domain.MicIdle,
		domain.MicRecording,
		domain.MicProcessing,
		domain.MicGenerating,
		domain.MicPlaying,
	}
	for _, micState := range states {
		t.Run(string(micState), func(t *testing.T) {
			f := newFixture(domain.StatusInProgress)
			f.state.SetMicState(micState)
			f.state.SetAudioPlaying(true)

			f.e.StopPlayback()

			if f.speaker.stops != 1 {
				t.Errorf("Speaker stops = %d", f.speaker.stops)
			}
			if f.state.Snapshot().AudioPlaying {
				t.Error("Expected audio playing flag cleared")
			}
			// Only the playing state is released; other in-flight modes keep
			// their guard.
			want := micState
			if micState == domain.MicPlaying {
				want = domain.MicIdle
			}
			if got := f.state.MicState(); got != want {
				t.Errorf("MicState = %s, want %s", got, want)
			}
		})
	}
}

func TestEngine_EndInterview(t *testing.T) {
	var evaluations []string
	f := newFixture(domain.StatusInProgress)
	f.e = New(f.state, f.recorder, f.transcriber, f.dialogue, f.speaker,
		WithCompletionCallback(func(finalEvaluation string) {
			evaluations = append(evaluations, finalEvaluation)
		}))
	f.dialogue.endResp = &agent.EndResponse{Status: "completed", FinalEvaluation: "solid"}

	if err := f.e.EndInterview(context.Background(), ""); err != nil {
		t.Fatalf("EndInterview: %v", err)
	}
	if f.state.Snapshot().Data.Status != domain.StatusCompleted {
		t.Errorf("Status = %s", f.state.Snapshot().Data.Status)
	}
	if len(evaluations) != 1 || evaluations[0] != "solid" {
		t.Errorf("Evaluations = %v", evaluations)
	}
	if f.speaker.stops == 0 {
		t.Error("Expected playback stopped on end")
	}

	// Ending a completed session is a no-op.
	if err := f.e.EndInterview(context.Background(), ""); err != nil {
		t.Fatalf("Second EndInterview: %v", err)
	}
	if len(evaluations) != 1 {
		t.Errorf("Evaluations after repeat = %v", evaluations)
	}
}

func TestEngine_SynthesisFailureDegradesToText(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.speaker.speakErr = shared.NewError(shared.KindSynthesis, "speech unavailable", nil)

	f.e.StartRecording()
	if err := f.e.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	// The turn itself succeeded: both turns are on record and the mic is
	// re-armed despite the missing audio.
	snap := f.state.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("Conversation length = %d", len(snap.Conversation))
	}
	if snap.MicState != domain.MicIdle {
		t.Errorf("MicState = %s", snap.MicState)
	}
}

func TestEngine_ReplayAudio(t *testing.T) {
	f := newFixture(domain.StatusInProgress)

	if err := f.e.ReplayAudio(); err != nil {
		t.Fatalf("ReplayAudio: %v", err)
	}
	if f.speaker.replays != 1 {
		t.Errorf("Replays = %d", f.speaker.replays)
	}
	if f.state.MicState() != domain.MicPlaying {
		t.Errorf("MicState = %s", f.state.MicState())
	}

	f.speaker.lastDone()
	if f.state.MicState() != domain.MicIdle {
		t.Errorf("MicState after playback = %s", f.state.MicState())
	}
}

// waitForMicState polls the container until the state is reached or the
// deadline passes.
func waitForMicState(t *testing.T, c *session.Container, want domain.MicState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.MicState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("MicState = %s, want %s", c.MicState(), want)
}

func TestEngine_InstantPlaybackCompletionStillRearms(t *testing.T) {
	f := newFixture(domain.StatusNotStarted)
	f.speaker.instantDone = true

	// The clip completes before StartInterview has committed the playing
	// state; the completion must wait for that commit and re-arm the mic
	// rather than being dropped.
	if err := f.e.StartInterview(context.Background()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	waitForMicState(t, f.state, domain.MicIdle)
	if f.state.Snapshot().AudioPlaying {
		t.Error("AudioPlaying still set after playback completed")
	}

	// Same ordering through a replay.
	if err := f.e.ReplayAudio(); err != nil {
		t.Fatalf("ReplayAudio: %v", err)
	}
	waitForMicState(t, f.state, domain.MicIdle)
}

func TestEngine_SupersededPlaybackCompletionIgnored(t *testing.T) {
	f := newFixture(domain.StatusNotStarted)

	if err := f.e.StartInterview(context.Background()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	stale := f.speaker.lastDone

	f.e.StopPlayback()
	if err := f.e.ReplayAudio(); err != nil {
		t.Fatalf("ReplayAudio: %v", err)
	}

	// A late completion from the first clip must not disturb the replay
	// that superseded it.
	stale()
	if f.state.MicState() != domain.MicPlaying {
		t.Errorf("MicState = %s, want playing after stale completion", f.state.MicState())
	}

	f.speaker.lastDone()
	if f.state.MicState() != domain.MicIdle {
		t.Errorf("MicState after current playback = %s", f.state.MicState())
	}
}

func TestEngine_Close(t *testing.T) {
	f := newFixture(domain.StatusInProgress)
	f.state.SetMicState(domain.MicPlaying)
	f.state.SetAudioPlaying(true)

	f.e.Close()

	if f.speaker.releases != 1 {
		t.Errorf("Releases = %d", f.speaker.releases)
	}
	snap := f.state.Snapshot()
	if snap.AudioPlaying || snap.MicState != domain.MicIdle {
		t.Errorf("Snapshot after close = %+v", snap)
	}
}
