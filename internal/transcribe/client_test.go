package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/intervox/internal/audio"
	"github.com/ashureev/intervox/internal/shared"
)

func testRecording(size int) *audio.Recording {
	return &audio.Recording{
		WAV:        make([]byte, size),
		MediaType:  "audio/wav",
		SampleRate: 16000,
		Duration:   3 * time.Second,
	}
}

func TestTranscribe_Success(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Expected multipart body: %v", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("Expected audio part: %v", err)
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")
		if !strings.HasSuffix(header.Filename, ".wav") {
			t.Errorf("Expected .wav filename, got %q", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcription": "  tell me about yourself  "}`))
	}))
	defer server.Close()

	c := New(server.URL)
	text, err := c.Transcribe(context.Background(), testRecording(2048))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "tell me about yourself" {
		t.Errorf("Expected trimmed transcript, got %q", text)
	}
	if gotContentType != "audio/wav" {
		t.Errorf("Expected normalized part content type, got %q", gotContentType)
	}
}

func TestTranscribe_EmptyTranscriptIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcription": ""}`))
	}))
	defer server.Close()

	c := New(server.URL)
	text, err := c.Transcribe(context.Background(), testRecording(2048))
	if err != nil {
		t.Fatalf("Expected no error for empty transcript, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty transcript, got %q", text)
	}
}

func TestTranscribe_OversizedBlobRejectedBeforeNetwork(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	c := New(server.URL, WithMaxUploadBytes(1024))
	_, err := c.Transcribe(context.Background(), testRecording(2048))
	if !shared.IsKind(err, shared.KindTranscription) {
		t.Fatalf("Expected transcription error, got %v", err)
	}
	if requests != 0 {
		t.Errorf("Expected no network call for oversized blob, got %d", requests)
	}
}

func TestTranscribe_EmptyBlobRejected(t *testing.T) {
	c := New("http://unused.invalid")
	_, err := c.Transcribe(context.Background(), testRecording(0))
	if !shared.IsKind(err, shared.KindTranscription) {
		t.Fatalf("Expected transcription error, got %v", err)
	}
}

func TestTranscribe_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Transcribe(context.Background(), testRecording(2048))
	if !shared.IsKind(err, shared.KindTranscription) {
		t.Fatalf("Expected transcription error, got %v", err)
	}
}

func TestTranscribe_TimeoutEnforcedWithoutCallerDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	// context.Background carries no deadline; the client supplies its own.
	c := New(server.URL, WithTimeout(20*time.Millisecond))
	_, err := c.Transcribe(context.Background(), testRecording(2048))
	if !shared.IsTimeout(err) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
}

func TestNormalizeMediaType(t *testing.T) {
	tests := []struct {
		declared string
		want     string
	}{
		{"audio/webm;codecs=opus", "audio/webm"},
		{"audio/ogg; codecs=vorbis", "audio/ogg"},
		{"audio/wav", "audio/wav"},
		{"AUDIO/WAV", "audio/wav"},
		{"", "audio/wav"},
		{"total garbage;;", "total garbage"},
	}

	for _, tt := range tests {
		if got := NormalizeMediaType(tt.declared); got != tt.want {
			t.Errorf("NormalizeMediaType(%q) = %q, want %q", tt.declared, got, tt.want)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mediaType string
		want      string
	}{
		{"audio/wav", ".wav"},
		{"audio/webm", ".webm"},
		{"audio/mpeg", ".mp3"},
		{"audio/ogg", ".ogg"},
		{"application/unknown", ".wav"},
	}

	for _, tt := range tests {
		if got := ExtensionFor(tt.mediaType); got != tt.want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", tt.mediaType, got, tt.want)
		}
	}
}
