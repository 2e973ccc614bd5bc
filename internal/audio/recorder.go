package audio

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/ashureev/intervox/internal/shared"
)

// preferredRates is the descending capture preference list. A trailing 0
// requests the device default as the final fallback.
var preferredRates = []int{48000, 44100, 32000, 22050, 16000, 11025, 8000, 0}

// Recording is one finished capture: a WAV-encoded blob plus the elapsed
// capture duration.
type Recording struct {
	WAV        []byte
	MediaType  string
	SampleRate int
	Duration   time.Duration
}

// Recorder buffers microphone samples between Start and Stop.
// It owns the active capture stream exclusively.
type Recorder struct {
	device Device

	mu         sync.Mutex
	stream     CaptureStream
	sampleRate int
	startedAt  time.Time

	// smu guards only the sample buffer. The capture callback must never
	// contend on mu: stopping the stream waits for in-flight callbacks, and
	// Stop holds mu while doing so.
	smu     sync.Mutex
	samples []int16
}

// NewRecorder creates a recorder on the given capture device.
func NewRecorder(device Device) *Recorder {
	return &Recorder{device: device}
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Start negotiates a capture sample rate from the preference list and
// begins buffering samples. Device-access failures surface as permission
// errors; if no rate is negotiable the error kind is unsupported audio.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return nil
	}

	var lastErr error
	for _, rate := range preferredRates {
		stream, actual, err := r.device.Open(rate, r.collect)
		if err != nil {
			if shared.IsKind(err, shared.KindPermission) {
				return err
			}
			lastErr = err
			continue
		}
		if err := stream.Start(); err != nil {
			_ = stream.Close()
			lastErr = err
			continue
		}

		r.stream = stream
		r.sampleRate = actual
		r.smu.Lock()
		r.samples = r.samples[:0]
		r.smu.Unlock()
		r.startedAt = time.Now()
		slog.Info("Recording started", "sample_rate", actual)
		return nil
	}

	return shared.NewError(shared.KindUnsupportedAudio,
		"Your microphone does not support a usable audio format", lastErr)
}

func (r *Recorder) collect(in []int16) {
	r.smu.Lock()
	r.samples = append(r.samples, in...)
	r.smu.Unlock()
}

// Stop flushes the buffered audio into a single WAV blob and returns it
// with the elapsed capture duration.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return nil, shared.NewError(shared.KindUnsupportedAudio,
			"No recording is in progress", nil)
	}

	stream := r.stream
	r.stream = nil
	if err := stream.Stop(); err != nil {
		slog.Warn("Failed to stop capture stream", "error", err)
	}
	if err := stream.Close(); err != nil {
		slog.Warn("Failed to close capture stream", "error", err)
	}

	elapsed := time.Since(r.startedAt)

	r.smu.Lock()
	samples := r.samples
	r.smu.Unlock()

	data, err := encodeWAV(samples, r.sampleRate)
	if err != nil {
		return nil, shared.NewError(shared.KindUnsupportedAudio,
			"Could not encode the recording", err)
	}

	slog.Info("Recording stopped",
		"duration", elapsed,
		"samples", len(samples),
		"bytes", len(data))

	return &Recording{
		WAV:        data,
		MediaType:  "audio/wav",
		SampleRate: r.sampleRate,
		Duration:   elapsed,
	}, nil
}

// Seconds returns the capture duration in seconds, the unit the dialogue
// agent expects.
func (rec *Recording) Seconds() float64 {
	return rec.Duration.Seconds()
}

func encodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), channels, uint32(sampleRate), bitsPerSample)

	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
