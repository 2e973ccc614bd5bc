// Package transcribe provides the HTTP client for the remote
// transcription service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ashureev/intervox/internal/audio"
	"github.com/ashureev/intervox/internal/shared"
)

// DefaultMaxUploadBytes is the pre-flight cap on recorded audio size.
// Oversized blobs are rejected before any network call.
const DefaultMaxUploadBytes = 25 * 1024 * 1024

// DefaultRequestTimeout bounds every transcription call, independent of
// what the caller's context carries.
const DefaultRequestTimeout = 30 * time.Second

// Client posts recorded audio to the transcription service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxBytes   int64
	timeout    time.Duration
}

// Option configures a transcription client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMaxUploadBytes overrides the upload size cap.
func WithMaxUploadBytes(n int64) Option {
	return func(c *Client) {
		c.maxBytes = n
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a transcription client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		maxBytes:   DefaultMaxUploadBytes,
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

// Transcribe posts the recording and returns the transcript text. An empty
// transcript is returned as "" with a nil error; the caller decides how to
// surface the no-speech condition.
func (c *Client) Transcribe(ctx context.Context, rec *audio.Recording) (string, error) {
	if len(rec.WAV) == 0 {
		return "", shared.NewError(shared.KindTranscription,
			"The recording was empty", nil)
	}
	if int64(len(rec.WAV)) > c.maxBytes {
		return "", shared.NewError(shared.KindTranscription,
			"The recording is too large to transcribe", nil)
	}

	mediaType := NormalizeMediaType(rec.MediaType)
	filename := "recording" + ExtensionFor(mediaType)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := createAudioPart(writer, filename, mediaType)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(rec.WAV); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if shared.IsTimeout(err) || ctx.Err() != nil {
			return "", shared.NewError(shared.KindTimeout,
				"Transcription timed out", err)
		}
		return "", shared.NewError(shared.KindTranscription,
			"Could not reach the transcription service", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", shared.NewError(shared.KindTranscription,
			"Could not read the transcription response", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Transcription request failed",
			"status", resp.StatusCode,
			"body_bytes", len(respBody))
		return "", shared.NewError(shared.KindTranscription,
			"Transcription failed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", shared.NewError(shared.KindTranscription,
			"Transcription returned an unreadable response", err)
	}

	return strings.TrimSpace(decoded.Transcription), nil
}

// createAudioPart builds the form part with an explicit content type, since
// CreateFormFile hardcodes application/octet-stream.
func createAudioPart(w *multipart.Writer, filename, mediaType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	h.Set("Content-Type", mediaType)
	return w.CreatePart(h)
}

// NormalizeMediaType strips codec parameters the transcription endpoint
// rejects, reducing a declared type like "audio/webm;codecs=opus" to its
// base "audio/webm". Unparseable types degrade to audio/wav.
func NormalizeMediaType(declared string) string {
	if declared == "" {
		return "audio/wav"
	}
	base, _, err := mime.ParseMediaType(declared)
	if err != nil {
		// Salvage the part before the first ';' when parameters are garbled.
		if i := strings.Index(declared, ";"); i > 0 {
			return strings.TrimSpace(strings.ToLower(declared[:i]))
		}
		return "audio/wav"
	}
	return base
}

// ExtensionFor picks a filename extension matching the base media type.
func ExtensionFor(mediaType string) string {
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4":
		return ".mp4"
	case "audio/flac":
		return ".flac"
	default:
		return ".wav"
	}
}
