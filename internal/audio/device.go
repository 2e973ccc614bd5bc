// Package audio turns microphone input into encoded recordings.
package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ashureev/intervox/internal/shared"
)

const (
	channels        = 1
	framesPerBuffer = 1024
	bitsPerSample   = 16
)

// CaptureStream is an open microphone stream.
type CaptureStream interface {
	Start() error
	Stop() error
	Close() error
}

// Device abstracts the capture hardware so the recorder can be tested
// without a sound card.
type Device interface {
	// Open opens a mono int16 capture stream. A sampleRate of 0 requests
	// the device default; the actual rate is returned.
	Open(sampleRate int, cb func([]int16)) (CaptureStream, int, error)
}

// PortAudioDevice captures from the default input device via PortAudio.
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDevice creates an uninitialized device. PortAudio is
// initialized lazily on first open and torn down by Close.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error { return s.stream.Start() }
func (s *portAudioStream) Stop() error  { return s.stream.Stop() }
func (s *portAudioStream) Close() error { return s.stream.Close() }

// Open opens a capture stream at the requested sample rate.
func (d *PortAudioDevice) Open(sampleRate int, cb func([]int16)) (CaptureStream, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		if err := portaudio.Initialize(); err != nil {
			return nil, 0, shared.NewError(shared.KindPermission,
				"Microphone access is unavailable", err)
		}
		d.initialized = true
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, 0, shared.NewError(shared.KindPermission,
			"No microphone is available", err)
	}

	rate := sampleRate
	if rate == 0 {
		rate = int(device.DefaultSampleRate)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, cb)
	if err != nil {
		return nil, 0, fmt.Errorf("open capture stream at %d Hz: %w", rate, err)
	}

	slog.Debug("Opened capture stream",
		"device", device.Name,
		"sample_rate", rate)

	return &portAudioStream{stream: stream}, rate, nil
}

// Close terminates PortAudio.
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}
