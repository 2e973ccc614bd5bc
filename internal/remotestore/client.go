// Package remotestore provides the HTTP client for the remote record
// store holding interview and job records.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/intervox/internal/domain"
)

// Client talks to the remote record store.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a store client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a store client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListInterviews returns all interview records for an owner, newest first.
func (c *Client) ListInterviews(ctx context.Context, userID string) ([]domain.Interview, error) {
	var out []domain.Interview
	err := c.get(ctx, "/interviews?user_id="+url.QueryEscape(userID), &out)
	return out, err
}

// GetInterview fetches a single interview record. The second return is
// false when the record does not exist.
func (c *Client) GetInterview(ctx context.Context, id string) (domain.Interview, bool, error) {
	var out domain.Interview
	found, err := c.getOne(ctx, "/interviews/"+url.PathEscape(id), &out)
	return out, found, err
}

// CreateInterview stores a new interview record.
func (c *Client) CreateInterview(ctx context.Context, rec domain.Interview) error {
	return c.send(ctx, http.MethodPost, "/interviews", rec)
}

// UpdateInterview replaces an interview record.
func (c *Client) UpdateInterview(ctx context.Context, rec domain.Interview) error {
	return c.send(ctx, http.MethodPut, "/interviews/"+url.PathEscape(rec.ID), rec)
}

// DeleteInterview removes an interview record.
func (c *Client) DeleteInterview(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/interviews/"+url.PathEscape(id), nil)
}

// ListJobs returns all job records for an owner, newest first.
func (c *Client) ListJobs(ctx context.Context, userID string) ([]domain.Job, error) {
	var out []domain.Job
	err := c.get(ctx, "/jobs?user_id="+url.QueryEscape(userID), &out)
	return out, err
}

// GetJob fetches a single job record. The second return is false when the
// record does not exist.
func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	var out domain.Job
	found, err := c.getOne(ctx, "/jobs/"+url.PathEscape(id), &out)
	return out, found, err
}

// CreateJob stores a new job record.
func (c *Client) CreateJob(ctx context.Context, rec domain.Job) error {
	return c.send(ctx, http.MethodPost, "/jobs", rec)
}

// UpdateJob replaces a job record.
func (c *Client) UpdateJob(ctx context.Context, rec domain.Job) error {
	return c.send(ctx, http.MethodPut, "/jobs/"+url.PathEscape(rec.ID), rec)
}

// DeleteJob removes a job record.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	_, err := c.getOne(ctx, path, out)
	return err
}

func (c *Client) getOne(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("create request for %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read %s response: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	return true, nil
}

func (c *Client) send(ctx context.Context, method, path string, in any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request for %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}
