package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the API address used when none is configured.
const DefaultBaseURL = "http://localhost:5000"

// Client provides typed access to the SphereDev API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	// Deployments run their whole pipeline inside one request.
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Stage   string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		apiErr := extractError(resp.Body)
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return resp, nil
}

func extractError(body io.Reader) APIError {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Stage string `json:"stage"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return APIError{}
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return APIError{Message: strings.TrimSpace(string(data))}
	}
	return APIError{Code: payload.Code, Stage: payload.Stage, Message: strings.TrimSpace(payload.Error)}
}

// Banner is the API identification payload.
type Banner struct {
	Message     string `json:"message"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Project mirrors API project payloads.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Template    string    `json:"template"`
	Domain      string    `json:"domain,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	Path        string    `json:"path"`
}

// CreateProjectInput is the create project request body.
type CreateProjectInput struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Template    string `json:"template,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Description string `json:"description,omitempty"`
	Database    string `json:"database,omitempty"`
}

// File is a project file listing entry.
type File struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Commit mirrors ledger entries.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	TreeHash  string    `json:"treeHash"`
	Files     []string  `json:"files"`
}

// Deployment mirrors API deployment payloads.
type Deployment struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Server      string     `json:"server"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty"`
}

// Resources is a cpu/memory/storage triple.
type Resources struct {
	CPU     int `json:"cpu"`
	Memory  int `json:"memory"`
	Storage int `json:"storage"`
}

// Server mirrors deployment target snapshots.
type Server struct {
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	Host             string    `json:"host"`
	Capacity         int       `json:"capacity"`
	Budget           Resources `json:"budget"`
	Available        Resources `json:"available"`
	DeployedProjects []string  `json:"deployedProjects"`
	Pending          int       `json:"pending"`
}

// Metrics is a synthetic runtime sample.
type Metrics struct {
	Status       string  `json:"status"`
	CPU          float64 `json:"cpu"`
	Memory       float64 `json:"memory"`
	Traffic      float64 `json:"traffic"`
	Requests     float64 `json:"requests"`
	ResponseTime float64 `json:"responseTime"`
	Uptime       int64   `json:"uptime"`
}

// TerminalResult is the output of one sandbox command.
type TerminalResult struct {
	Output string `json:"output"`
	Clear  bool   `json:"clear,omitempty"`
}

func projectPath(projectID string, rest ...string) string {
	parts := append([]string{"/api/projects", url.PathEscape(projectID)}, rest...)
	return strings.Join(parts, "/")
}

// Banner fetches the API identification payload.
func (c *Client) Banner(ctx context.Context) (Banner, error) {
	var out Banner
	err := c.do(ctx, http.MethodGet, "/api", nil, &out)
	return out, err
}

// ListProjects returns every project.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.do(ctx, http.MethodGet, "/api/projects", nil, &out)
	return out, err
}

// CreateProject provisions a new project.
func (c *Client) CreateProject(ctx context.Context, input CreateProjectInput) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "/api/projects", input, &out)
	return out, err
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodGet, projectPath(projectID), nil, &out)
	return out, err
}

// ListFiles returns the user files of a project.
func (c *Client) ListFiles(ctx context.Context, projectID string) ([]File, error) {
	var out []File
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "tree"), nil, &out)
	return out, err
}

// ReadFile returns the raw content of a project file.
func (c *Client) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, projectPath(projectID, "files")+"?path="+url.QueryEscape(path), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

// WriteFile creates or replaces a project file.
func (c *Client) WriteFile(ctx context.Context, projectID, path, content string) error {
	body := map[string]string{"path": path, "content": content}
	return c.do(ctx, http.MethodPut, projectPath(projectID, "files"), body, nil)
}

// Commit records a snapshot of the project tree.
func (c *Client) Commit(ctx context.Context, projectID, message, author string) (Commit, error) {
	var out Commit
	body := map[string]string{"message": message, "author": author}
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "commit"), body, &out)
	return out, err
}

// ListCommits returns the commit history, oldest first.
func (c *Client) ListCommits(ctx context.Context, projectID string) ([]Commit, error) {
	var out struct {
		Commits []Commit `json:"commits"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "commits"), nil, &out)
	return out.Commits, err
}

// Deploy runs a deployment and waits for its outcome.
func (c *Client) Deploy(ctx context.Context, projectID, server string) (Deployment, error) {
	var out Deployment
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "deploy"), map[string]string{"server": server}, &out)
	return out, err
}

// DeploymentStatus returns the latest deployment of a project.
func (c *Client) DeploymentStatus(ctx context.Context, projectID string) (Deployment, error) {
	var out Deployment
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "deploy"), nil, &out)
	return out, err
}

// Release tears down an active deployment. An empty server searches all.
func (c *Client) Release(ctx context.Context, projectID, server string) (Deployment, error) {
	var out Deployment
	path := projectPath(projectID, "deploy")
	if server != "" {
		path += "?server=" + url.QueryEscape(server)
	}
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

// ListDeployments returns recent deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, projectID string, limit int) ([]Deployment, error) {
	var out []Deployment
	path := projectPath(projectID, "deployments")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Metrics samples runtime metrics of a project.
func (c *Client) Metrics(ctx context.Context, projectID string) (Metrics, error) {
	var out struct {
		Current Metrics `json:"current"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "metrics"), nil, &out)
	return out.Current, err
}

// ListServers returns the deployment targets.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out struct {
		Servers []Server `json:"servers"`
	}
	err := c.do(ctx, http.MethodGet, "/api/servers", nil, &out)
	return out.Servers, err
}

// Execute runs one sandbox terminal command.
func (c *Client) Execute(ctx context.Context, projectID, command string) (TerminalResult, error) {
	var out TerminalResult
	body := map[string]string{"command": command, "projectId": projectID}
	err := c.do(ctx, http.MethodPost, "/api/terminal/execute", body, &out)
	return out, err
}
