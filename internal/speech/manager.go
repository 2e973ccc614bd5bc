package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intervox/internal/metrics"
	"github.com/ashureev/intervox/internal/shared"
)

// Synthesizer converts prompt text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Manager owns the per-session playback cache. Audio is synthesized at
// most once per distinct prompt text; entries live until Release. Repeated
// genuine synthesis failures trip a temporary cooldown so a failing
// endpoint is not hammered.
type Manager struct {
	synth  Synthesizer
	player Player
	stats  *metrics.Metrics

	failureLimit int
	cooldown     time.Duration
	now          func() time.Time

	mu            sync.Mutex
	cache         map[string][]byte
	lastPrompt    string
	inFlight      string
	failures      int
	cooldownUntil time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFailureLimit sets how many consecutive synthesis failures trip the
// cooldown.
func WithFailureLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.failureLimit = n
		}
	}
}

// WithCooldown sets how long synthesis stays disabled after tripping.
func WithCooldown(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(stats *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.stats = stats
	}
}

// NewManager creates a playback manager.
func NewManager(synth Synthesizer, player Player, opts ...ManagerOption) *Manager {
	m := &Manager{
		synth:        synth,
		player:       player,
		failureLimit: 3,
		cooldown:     30 * time.Second,
		now:          time.Now,
		cache:        map[string][]byte{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Speak synthesizes the prompt (or serves it from cache) and starts
// playback. The last-processed-prompt marker makes a repeated call for
// text already handled a no-op, and at most one synthesis request is in
// flight for any prompt text. The bool reports whether playback started.
func (m *Manager) Speak(ctx context.Context, text string, onDone func()) (bool, error) {
	m.mu.Lock()
	if text == m.lastPrompt || text == m.inFlight {
		m.mu.Unlock()
		return false, nil
	}
	if until := m.cooldownUntil; m.now().Before(until) {
		m.mu.Unlock()
		return false, shared.NewError(shared.KindSynthesis,
			"Speech is temporarily unavailable, the interview continues in text", nil)
	}

	data, cached := m.cache[text]
	if cached {
		m.lastPrompt = text
		m.mu.Unlock()
		if m.stats != nil {
			m.stats.SynthesisCacheHits.Inc()
		}
		return m.play(text, data, onDone)
	}

	m.inFlight = text
	m.mu.Unlock()

	data, err := m.synth.Synthesize(ctx, text)

	m.mu.Lock()
	m.inFlight = ""
	if err != nil {
		m.failures++
		if m.failures >= m.failureLimit {
			m.cooldownUntil = m.now().Add(m.cooldown)
			m.failures = 0
			if m.stats != nil {
				m.stats.CooldownTrips.Inc()
			}
			slog.Warn("Synthesis cooldown tripped", "until", m.cooldownUntil)
		}
		m.mu.Unlock()
		if m.stats != nil {
			m.stats.SynthesisTotal.WithLabelValues("error").Inc()
		}
		return false, err
	}

	m.failures = 0
	m.cache[text] = data
	m.lastPrompt = text
	m.mu.Unlock()

	if m.stats != nil {
		m.stats.SynthesisTotal.WithLabelValues("ok").Inc()
	}
	return m.play(text, data, onDone)
}

func (m *Manager) play(text string, data []byte, onDone func()) (bool, error) {
	if err := m.player.Play(data, onDone); err != nil {
		// Playback faults do not count toward the synthesis cooldown;
		// the audio itself was valid.
		slog.Warn("Playback failed", "error", err, "prompt_bytes", len(text))
		return false, shared.NewError(shared.KindSynthesis,
			"Could not play the interviewer audio", err)
	}
	return true, nil
}

// Replay plays the cached clip for the current prompt again, bypassing the
// dedup marker. No-op when nothing has been spoken yet.
func (m *Manager) Replay(onDone func()) (bool, error) {
	m.mu.Lock()
	data, ok := m.cache[m.lastPrompt]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if m.stats != nil {
		m.stats.SynthesisCacheHits.Inc()
	}
	return m.play(m.lastPrompt, data, onDone)
}

// Stop cancels active playback. Always allowed.
func (m *Manager) Stop() {
	m.player.Stop()
}

// Release frees all cached audio. Called on session teardown or
// replacement.
func (m *Manager) Release() {
	m.player.Stop()
	m.mu.Lock()
	m.cache = map[string][]byte{}
	m.lastPrompt = ""
	m.inFlight = ""
	m.failures = 0
	m.cooldownUntil = time.Time{}
	m.mu.Unlock()
}
