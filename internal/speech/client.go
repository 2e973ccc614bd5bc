// Package speech converts interviewer prompts into audible playback,
// caching synthesized audio per distinct prompt text.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/intervox/internal/shared"
)

// minAudioBytes is the sanity threshold below which a synthesis response
// is rejected as invalid audio.
const minAudioBytes = 100

// Client posts prompt text to the synthesis service and returns audio bytes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a synthesis client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a synthesis client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// Synthesize converts text to audio bytes. The response must declare an
// audio content type and carry at least minAudioBytes bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if shared.IsTimeout(err) || ctx.Err() != nil {
			return nil, shared.NewError(shared.KindTimeout,
				"Speech synthesis timed out", err)
		}
		return nil, shared.NewError(shared.KindSynthesis,
			"Could not reach the speech service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewError(shared.KindSynthesis,
			"Speech synthesis failed",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if !isAudioContentType(resp.Header.Get("Content-Type")) {
		return nil, shared.NewError(shared.KindSynthesis,
			"Speech service returned something that is not audio", nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewError(shared.KindSynthesis,
			"Could not read the synthesized audio", err)
	}
	if len(data) < minAudioBytes {
		return nil, shared.NewError(shared.KindSynthesis,
			"Speech service returned invalid audio",
			fmt.Errorf("payload of %d bytes is below the %d byte minimum", len(data), minAudioBytes))
	}

	return data, nil
}

func isAudioContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "audio/") ||
		strings.HasPrefix(ct, "application/octet-stream")
}
