package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound matches HTTP 404 responses via errors.Is.
var ErrNotFound = errors.New("not found")

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404s.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the autocoder backend over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	signer  *Signer
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithSigner attaches bearer tokens to every request.
func WithSigner(s *Signer) Option {
	return func(c *Client) { c.signer = s }
}

// New constructs a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListProjects returns all projects known to the backend.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	var projects []ProjectSummary
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*ProjectSummary, error) {
	if err := ValidateProjectName(req.Name); err != nil {
		return nil, err
	}
	if req.SpecMethod == "" {
		req.SpecMethod = "manual"
	}
	var project ProjectSummary
	if err := c.do(ctx, http.MethodPost, "/api/projects", req, &project); err != nil {
		return nil, fmt.Errorf("create project %s: %w", req.Name, err)
	}
	return &project, nil
}

// GetProject returns a single project.
func (c *Client) GetProject(ctx context.Context, name string) (*ProjectDetail, error) {
	var project ProjectDetail
	if err := c.do(ctx, http.MethodGet, projectPath(name, ""), nil, &project); err != nil {
		return nil, fmt.Errorf("get project %s: %w", name, err)
	}
	return &project, nil
}

// ListFeatures returns the project's features partitioned by status.
func (c *Client) ListFeatures(ctx context.Context, project string) (*FeatureList, error) {
	var list FeatureList
	if err := c.do(ctx, http.MethodGet, projectPath(project, "/features"), nil, &list); err != nil {
		return nil, fmt.Errorf("list features %s: %w", project, err)
	}
	return &list, nil
}

// CreateFeature adds a feature to the project's backlog.
func (c *Client) CreateFeature(ctx context.Context, project string, req CreateFeatureRequest) (*Feature, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("feature name is required")
	}
	var f Feature
	if err := c.do(ctx, http.MethodPost, projectPath(project, "/features"), req, &f); err != nil {
		return nil, fmt.Errorf("create feature %s: %w", project, err)
	}
	return &f, nil
}

// AgentStatus asks the backend for the agent process state.
func (c *Client) AgentStatus(ctx context.Context, project string) (*AgentStatusResponse, error) {
	var st AgentStatusResponse
	if err := c.do(ctx, http.MethodGet, projectPath(project, "/agent/status"), nil, &st); err != nil {
		return nil, fmt.Errorf("agent status %s: %w", project, err)
	}
	return &st, nil
}

// SendCommand issues a lifecycle command. A nil error only means the backend
// accepted the request; the effect is observed on the event stream.
func (c *Client) SendCommand(ctx context.Context, project string, cmd Command) error {
	if _, err := ParseCommand(string(cmd)); err != nil {
		return err
	}
	var resp AgentActionResponse
	if err := c.do(ctx, http.MethodPost, projectPath(project, "/agent/"+string(cmd)), nil, &resp); err != nil {
		return fmt.Errorf("%s agent %s: %w", cmd, project, err)
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "rejected by server"
		}
		return fmt.Errorf("%s agent %s: %s", cmd, project, msg)
	}
	return nil
}

// StreamURL returns the WebSocket URL of the project's event stream.
func (c *Client) StreamURL(project string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/projects/" + url.PathEscape(project)
}

// AuthHeader returns the headers needed to authenticate a stream dial.
func (c *Client) AuthHeader() (http.Header, error) {
	h := http.Header{}
	if c.signer == nil {
		return h, nil
	}
	token, err := c.signer.Token()
	if err != nil {
		return nil, err
	}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func projectPath(name, suffix string) string {
	return "/api/projects/" + url.PathEscape(name) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	auth, err := c.AuthHeader()
	if err != nil {
		return err
	}
	for k, v := range auth {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeHTTPError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func decodeHTTPError(status int, body []byte) error {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.Detail != "" {
			return &HTTPError{Status: status, Message: resp.Detail}
		}
		if resp.Error != "" {
			return &HTTPError{Status: status, Message: resp.Error}
		}
	}
	return &HTTPError{Status: status}
}
