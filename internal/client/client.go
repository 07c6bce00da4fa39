package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:7788"
	defaultRequestTimeout = 10 * time.Second
)

type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  logging.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		stream:  &http.Client{},
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var resp ProjectsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var project types.Project
	if err := c.doJSON(ctx, http.MethodGet, projectPath(id), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*types.Project, error) {
	var project types.Project
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects", req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error) {
	var project types.Project
	if err := c.doJSON(ctx, http.MethodPatch, projectPath(id), patch, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, projectPath(id), nil, nil)
}

// ListCards returns the cards of a project, or of every project when
// projectID is empty.
func (c *Client) ListCards(ctx context.Context, projectID string, column types.ColumnID, includeArchived bool) ([]*types.Card, error) {
	query := url.Values{}
	if projectID = strings.TrimSpace(projectID); projectID != "" {
		query.Set("project", projectID)
	}
	if column != "" {
		query.Set("column", string(column))
	}
	if includeArchived {
		query.Set("archived", "1")
	}
	path := "/v1/cards"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp CardsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cards, nil
}

func (c *Client) GetCard(ctx context.Context, id string) (*types.Card, error) {
	var card types.Card
	if err := c.doJSON(ctx, http.MethodGet, cardPath(id), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) CreateCard(ctx context.Context, req CreateCardRequest) (*types.Card, error) {
	var card types.Card
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cards", req, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) UpdateCard(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error) {
	var card types.Card
	if err := c.doJSON(ctx, http.MethodPatch, cardPath(id), patch, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) DeleteCard(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, cardPath(id), nil, nil)
}

func (c *Client) MoveCard(ctx context.Context, id string, req MoveCardRequest) (*MoveCardResponse, error) {
	var resp MoveCardResponse
	if err := c.doJSON(ctx, http.MethodPost, cardPath(id)+"/move", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StartRun(ctx context.Context, id string, req StartRunRequest) (*StartRunResult, error) {
	var resp StartRunResult
	if err := c.doJSON(ctx, http.MethodPost, cardPath(id)+"/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RunStatus(ctx context.Context, id string) (*RunStatusResponse, error) {
	var resp RunStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, cardPath(id)+"/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelRun(ctx context.Context, id string) (*CancelRunResult, error) {
	var resp CancelRunResult
	if err := c.doJSON(ctx, http.MethodDelete, cardPath(id)+"/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitInput(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message is required")
	}
	return c.doJSON(ctx, http.MethodPost, cardPath(id)+"/input", SubmitInputRequest{Message: message}, nil)
}

// CardLogs returns the stored logs with a sequence above after.
func (c *Client) CardLogs(ctx context.Context, id string, after int64) ([]*types.CardLog, error) {
	path := cardPath(id) + "/logs"
	if after > 0 {
		path += "?after=" + strconv.FormatInt(after, 10)
	}
	var resp CardLogsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (c *Client) AutoModeLoops(ctx context.Context) ([]types.AutoModeStatus, error) {
	var resp AutoModeLoopsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/auto-mode", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Loops, nil
}

func (c *Client) GetAutoMode(ctx context.Context, projectID string) (*AutoModeResponse, error) {
	var resp AutoModeResponse
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID)+"/auto-mode", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateAutoMode(ctx context.Context, projectID string, req UpdateAutoModeRequest) (*AutoModeResponse, error) {
	var resp AutoModeResponse
	if err := c.doJSON(ctx, http.MethodPut, projectPath(projectID)+"/auto-mode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnsureDaemon starts a background daemon when none answers the health check.
func (c *Client) EnsureDaemon(ctx context.Context) error {
	if resp, err := c.Health(ctx); err == nil && resp.OK {
		return nil
	}
	if err := StartBackgroundDaemon(); err != nil {
		return err
	}
	deadline := time.Now().Add(4 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := c.Health(ctx)
		if err == nil && resp.OK {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("daemon not healthy after start")
	}
	return lastErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func projectPath(id string) string {
	return "/v1/projects/" + url.PathEscape(strings.TrimSpace(id))
}

func cardPath(id string) string {
	return "/v1/cards/" + url.PathEscape(strings.TrimSpace(id))
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
