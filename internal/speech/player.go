package speech

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	wav "github.com/youpy/go-wav"
)

const framesPerBuffer = 1024

// Player plays one audio clip at a time. Stop is always allowed,
// regardless of any other guard in the engine.
type Player interface {
	// Play starts asynchronous playback and invokes onDone exactly once
	// on natural completion. onDone is not invoked after an explicit Stop.
	Play(data []byte, onDone func()) error
	// Stop cancels active playback. Safe to call when nothing is playing.
	Stop()
}

// PortAudioPlayer plays WAV clips through the default output device.
type PortAudioPlayer struct {
	mu          sync.Mutex
	stream      *portaudio.Stream
	stopped     bool
	initialized bool
}

// NewPortAudioPlayer creates a player. PortAudio is initialized lazily.
func NewPortAudioPlayer() *PortAudioPlayer {
	return &PortAudioPlayer{}
}

// Play decodes the WAV clip and streams it to the output device.
func (p *PortAudioPlayer) Play(data []byte, onDone func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stopLocked(); err != nil {
		slog.Debug("Failed to stop previous playback", "error", err)
	}

	if !p.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize audio output: %w", err)
		}
		p.initialized = true
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("decode audio clip: %w", err)
	}

	var finished sync.Once
	done := func() {
		finished.Do(func() {
			go func() {
				p.Stop()
				if onDone != nil {
					onDone()
				}
			}()
		})
	}

	stream, err := portaudio.OpenDefaultStream(
		0,
		int(format.NumChannels),
		float64(format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			samples, err := reader.ReadSamples(uint32(len(out)))
			if err == io.EOF {
				for i := range out {
					out[i] = 0
				}
				done()
				return
			}
			if err != nil {
				slog.Error("Error reading audio clip", "error", err)
				done()
				return
			}
			for i := 0; i < len(samples) && i < len(out); i++ {
				out[i] = int16(samples[i].Values[0])
			}
			for i := len(samples); i < len(out); i++ {
				out[i] = 0
			}
		},
	)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}

	// Registered before Start so a clip that completes immediately still
	// gets torn down by done().
	p.stream = stream
	p.stopped = false

	if err := stream.Start(); err != nil {
		p.stream = nil
		p.stopped = true
		_ = stream.Close()
		return fmt.Errorf("start playback stream: %w", err)
	}
	return nil
}

// Stop cancels active playback.
func (p *PortAudioPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.stopLocked(); err != nil {
		slog.Debug("Failed to stop playback", "error", err)
	}
}

func (p *PortAudioPlayer) stopLocked() error {
	if p.stream == nil || p.stopped {
		return nil
	}
	p.stopped = true
	stream := p.stream
	p.stream = nil
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Close()
}

// Close stops playback and terminates PortAudio.
func (p *PortAudioPlayer) Close() error {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	return portaudio.Terminate()
}
