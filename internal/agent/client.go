package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/intervox/internal/shared"
)

// DefaultRequestTimeout bounds every turn-affecting call to the agent.
const DefaultRequestTimeout = 30 * time.Second

// Client is the HTTP client for the remote dialogue agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures an agent client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
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

// NewClient creates an agent client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the interview and returns the first question.
func (c *Client) Start(ctx context.Context, interviewID, userID string) (*StartResponse, error) {
	var out StartResponse
	err := c.post(ctx, "/interview/start", StartRequest{
		InterviewID: interviewID,
		UserID:      userID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessTurn submits the candidate's answer and returns the next prompt
// or the completion signal.
func (c *Client) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	var out TurnResponse
	if err := c.post(ctx, "/interview/process_turn", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// End terminates the interview manually.
func (c *Client) End(ctx context.Context, req EndRequest) (*EndResponse, error) {
	var out EndResponse
	if err := c.post(ctx, "/interview/end", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AutoAnswer asks the agent to generate a candidate answer. The endpoint
// may respond with a single object or an array; an array is normalized to
// its first element and an empty array is an error.
func (c *Client) AutoAnswer(ctx context.Context, req AutoAnswerRequest) (*AutoAnswerResponse, error) {
	body, err := c.postRaw(ctx, "/auto_answer", req)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var many []AutoAnswerResponse
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, shared.NewError(shared.KindTurnProcessing,
				"The agent returned an unreadable answer", err)
		}
		if len(many) == 0 {
			return nil, shared.NewError(shared.KindTurnProcessing,
				"The agent returned no answer", nil)
		}
		return &many[0], nil
	}

	var one AutoAnswerResponse
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, shared.NewError(shared.KindTurnProcessing,
			"The agent returned an unreadable answer", err)
	}
	return &one, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := c.postRaw(ctx, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return shared.NewError(shared.KindTurnProcessing,
			"The interview service returned an unreadable response", err)
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, path string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if shared.IsTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return nil, shared.NewError(shared.KindTimeout,
				"The interview service took too long to respond", err)
		}
		return nil, shared.NewError(shared.KindTurnProcessing,
			"Could not reach the interview service", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewError(shared.KindTurnProcessing,
			"Could not read the interview service response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(path, resp.StatusCode, body)
	}
	return body, nil
}

// statusError maps HTTP failures onto distinct user-facing messages and
// preserves the agent's structured error code for conflict classification.
func (c *Client) statusError(path string, status int, body []byte) error {
	var envelope errorBody
	_ = json.Unmarshal(body, &envelope)

	slog.Warn("Agent request failed",
		"path", path,
		"status", status,
		"code", envelope.Code)

	var message string
	switch {
	case status == http.StatusNotFound:
		message = "This interview could not be found"
	case status == http.StatusServiceUnavailable:
		message = "The interview service is starting up, please try again shortly"
	case status >= 500:
		message = "The interview service is temporarily unavailable"
	default:
		message = "The interview service rejected the request"
	}
	if envelope.Detail != "" {
		message = fmt.Sprintf("%s (%s)", message, envelope.Detail)
	}

	return &shared.Error{
		Kind:    shared.KindTurnProcessing,
		Message: message,
		Code:    envelope.Code,
		Err:     fmt.Errorf("%s: status %d", path, status),
	}
}
