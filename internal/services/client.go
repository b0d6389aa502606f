package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

const (
	defaultBaseURL  = "http://localhost:8000"
	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

// Client talks to the audio processing backend.
//
// It is stateless apart from its configuration and safe for concurrent use.
//
// The request timeout bounds JSON calls only. Uploads and downloads stream for as long as the
// transfer takes and are bounded by the transport's connect and response header timeouts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout bounds each JSON request, including reading its response.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithToken authenticates every request with a static bearer token.
//
// Apply it after [WithHTTPClient] so the token transport wraps the custom client.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token == "" {
			return
		}
		base := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout: c.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   base,
			},
		}
	}
}

// NewClient creates a [Client] for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     shared.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a [Client] from the [shared.ServerConfig] section.
func NewClientFromConfig(cfg shared.ServerConfig, logger *log.Logger) *Client {
	return NewClient(cfg.BaseURL,
		WithHTTPClient(&http.Client{Transport: newTransport(cfg.Timeout())}),
		WithTimeout(cfg.Timeout()),
		WithLogger(logger),
		WithToken(cfg.APIToken),
	)
}

// newTransport limits connection setup and the wait for response headers, leaving request and
// response bodies unbounded.
func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if timeout <= 0 {
		return t
	}
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	return t
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the configured [http.Client], for raw access.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// DownloadURL returns the address of a resource in the given directory.
func (c *Client) DownloadURL(fileID string, dir models.Directory) string {
	q := url.Values{"directory": {string(dir)}}
	return fmt.Sprintf("%s/api/files/%s/download?%s", c.baseURL, url.PathEscape(fileID), q.Encode())
}

// ProcessedURL returns the address of a processed output resource.
func (c *Client) ProcessedURL(resourceID string) string {
	return fmt.Sprintf("%s/api/audio/download/%s", c.baseURL, url.PathEscape(resourceID))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, shared.GenerateID())
	return req, nil
}

// send executes req. Network failures become [shared.TransportError] and non-2xx statuses become
// [shared.ServerRejectedError]. On success the caller owns the response body.
func (c *Client) send(req *http.Request, op string) (*http.Response, error) {
	c.logger.Debug("backend request", "op", op, "method", req.Method, "path", req.URL.Path, "request_id", req.Header.Get(requestIDHeader))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "op", op, "error", err)
		return nil, &shared.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		rejected := decodeRejection(resp)
		c.logger.Debug("backend rejected request", "op", op, "status", resp.StatusCode, "detail", rejected.Detail)
		return nil, rejected
	}
	return resp, nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.send(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if req.Context().Err() != nil {
			return &shared.TransportError{Op: op, Err: err}
		}
		return fmt.Errorf("%w: %s: malformed response: %v", shared.ErrProtocolViolation, op, err)
	}
	return nil
}

// withTimeout applies the JSON request timeout to ctx.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) doJSON(ctx context.Context, method, path, op string, in, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

// decodeRejection reads a FastAPI style {"detail": ...} body. Detail may be a string or, for
// request validation failures, a list of objects; the latter is passed through as raw JSON.
func decodeRejection(resp *http.Response) *shared.ServerRejectedError {
	rejected := &shared.ServerRejectedError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return rejected
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		rejected.Detail = strings.TrimSpace(string(raw))
		return rejected
	}

	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		rejected.Detail = detail
		return rejected
	}
	rejected.Detail = string(envelope.Detail)
	return rejected
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", "health", nil, nil)
}

// GetTask fetches the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), "get task", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask asks the backend to cancel a running task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(taskID), "cancel task", nil, nil)
}

// GetFileInfo fetches the descriptor of an uploaded file.
func (c *Client) GetFileInfo(ctx context.Context, fileID string) (*models.AudioFile, error) {
	var file models.AudioFile
	if err := c.doJSON(ctx, http.MethodGet, "/api/files/"+url.PathEscape(fileID), "get file", nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DeleteFile removes an uploaded file and its outputs from the backend.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(fileID), "delete file", nil, nil)
}

// Download streams a resource. The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, fileID string, dir models.Directory) (io.ReadCloser, error) {
	if !dir.Valid() {
		return nil, shared.NewValidationError("directory", "must be upload or processed, got %q", dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(fileID, dir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(requestIDHeader, shared.GenerateID())

	resp, err := c.send(req, "download")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// submit posts a transformation request body.
func (c *Client) submit(ctx context.Context, op models.Operation, body []byte) (*models.JobHandle, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, op.Path(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var handle models.JobHandle
	if err := c.do(req, "submit "+string(op), &handle); err != nil {
		return nil, err
	}
	if handle.TaskID == "" {
		return nil, fmt.Errorf("%w: submit %s: response has no task id", shared.ErrProtocolViolation, op)
	}
	return &handle, nil
}
