// Package comfy is a client for the remote job-graph service that runs the
// synthesis workflows. It covers the small slice of the HTTP API the pipeline
// needs: uploading input assets, submitting a prompt graph, polling job
// history, and downloading output files.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"adweave/internal/logging"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultRetryBackoff = 1 * time.Second
	defaultMaxAttempts  = 5
	maxErrorBodyBytes   = 500
)

// Extensions routed to the audio upload endpoint. Everything else goes to the
// image endpoint.
var audioUploadExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
}

// ErrJobFailed reports that a submitted job finished with an error status.
var ErrJobFailed = errors.New("remote job failed")

// ErrJobTimeout reports that a job did not finish within the wait budget.
var ErrJobTimeout = errors.New("remote job timed out")

// Client talks to a single remote job service endpoint. A fresh client ID is
// minted per client so job submissions are attributable in the service logs.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger

	maxAttempts int
	backoff     time.Duration
	sleeper     func(time.Duration)
	jitter      func() float64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the request retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the per-attempt backoff unit.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(c *Client) {
		c.backoff = backoff
	}
}

// WithSleeper overrides how retry and poll sleeps are performed (useful for
// tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client for the service at baseURL, e.g.
// "http://127.0.0.1:8188".
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID:    "adweave-" + uuid.NewString(),
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logging.NewNop(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ClientID returns the identifier sent with prompt submissions.
func (c *Client) ClientID() string { return c.clientID }

// UploadResult is the service's record of an uploaded input asset.
type UploadResult struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadFile uploads a local file as a workflow input. Audio files go to the
// audio endpoint, everything else to the image endpoint; existing files with
// the same name are overwritten.
func (c *Client) UploadFile(ctx context.Context, path string) (UploadResult, error) {
	field := "image"
	if audioUploadExts[strings.ToLower(filepath.Ext(path))] {
		field = "audio"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload file: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("upload file: build form: %w", err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return UploadResult{}, fmt.Errorf("upload file: build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("upload file: build form: %w", err)
	}

	c.logger.Info("uploading asset",
		logging.String("file", filepath.Base(path)),
		logging.String("endpoint", field))

	body, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/upload/"+field, writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return UploadResult{}, err
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return UploadResult{}, fmt.Errorf("upload file: decode response: %w", err)
	}
	if result.Name == "" {
		return UploadResult{}, fmt.Errorf("upload file: service returned no name")
	}
	return result, nil
}

// SubmitPrompt queues a workflow graph for execution and returns the prompt
// ID. A response carrying node errors means the graph itself is invalid and
// is not retried.
func (c *Client) SubmitPrompt(ctx context.Context, graph map[string]any) (string, error) {
	payload, err := json.Marshal(struct {
		Prompt   map[string]any `json:"prompt"`
		ClientID string         `json:"client_id"`
	}{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("submit prompt: encode graph: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/prompt", "application/json", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		PromptID   string                     `json:"prompt_id"`
		NodeErrors map[string]json.RawMessage `json:"node_errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("submit prompt: decode response: %w", err)
	}
	if len(result.NodeErrors) > 0 {
		detail, _ := json.Marshal(result.NodeErrors)
		return "", fmt.Errorf("submit prompt: graph rejected: %s", detail)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("submit prompt: service returned no prompt id")
	}

	c.logger.Info("job submitted", logging.String("prompt_id", result.PromptID))
	return result.PromptID, nil
}

// OutputFile identifies one file a finished job produced.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Outputs maps node ID to that node's typed output lists ("images", "gifs",
// "audio", ...).
type Outputs map[string]map[string]json.RawMessage

// File returns the first output of the given type from the given node.
func (o Outputs) File(nodeID, fileType string) (OutputFile, error) {
	node, ok := o[nodeID]
	if !ok {
		return OutputFile{}, fmt.Errorf("node %s produced no outputs", nodeID)
	}
	raw, ok := node[fileType]
	if !ok {
		keys := make([]string, 0, len(node))
		for key := range node {
			keys = append(keys, key)
		}
		return OutputFile{}, fmt.Errorf("node %s has no %q output (available: %s)", nodeID, fileType, strings.Join(keys, ", "))
	}
	var files []OutputFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return OutputFile{}, fmt.Errorf("node %s: decode %q output: %w", nodeID, fileType, err)
	}
	if len(files) == 0 || files[0].Filename == "" {
		return OutputFile{}, fmt.Errorf("node %s: empty %q output", nodeID, fileType)
	}
	return files[0], nil
}

// FileByType scans all nodes for the first output of the given type. Node
// IDs are template-specific, so callers locate outputs by type instead.
func (o Outputs) FileByType(fileType string) (OutputFile, error) {
	nodeIDs := make([]string, 0, len(o))
	for nodeID := range o {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)
	for _, nodeID := range nodeIDs {
		if _, ok := o[nodeID][fileType]; !ok {
			continue
		}
		return o.File(nodeID, fileType)
	}
	return OutputFile{}, fmt.Errorf("no node produced a %q output", fileType)
}

// JobStatus is one history entry for a submitted prompt.
type JobStatus struct {
	Status struct {
		StatusStr string          `json:"status_str"`
		Completed bool            `json:"completed"`
		Messages  json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs Outputs `json:"outputs"`
}

// History fetches the history entry for a prompt. A nil status with no error
// means the job is still queued and has not started executing.
func (c *Client) History(ctx context.Context, promptID string) (*JobStatus, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), "", nil)
	if err != nil {
		return nil, err
	}
	var entries map[string]JobStatus
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("job history: decode response: %w", err)
	}
	status, ok := entries[promptID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// AwaitCompletion polls job history until the job succeeds, fails, or the
// wait budget runs out. On success it returns the job's outputs.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, timeout, pollInterval time.Duration) (Outputs, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		if timeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s: %w after %s", promptID, ErrJobTimeout, timeout)
		}

		status, err := c.History(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if status != nil {
			switch status.Status.StatusStr {
			case "success":
				c.logger.Info("job finished", logging.String("prompt_id", promptID))
				return status.Outputs, nil
			case "error":
				detail := strings.TrimSpace(string(status.Status.Messages))
				if detail == "" || detail == "null" {
					detail = "no detail reported"
				}
				return nil, fmt.Errorf("job %s: %w: %s", promptID, ErrJobFailed, detail)
			}
		}

		if err := c.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

// DownloadOutput fetches a job output file and writes it to destPath.
func (c *Client) DownloadOutput(ctx context.Context, file OutputFile, destPath string) error {
	query := url.Values{}
	query.Set("filename", file.Filename)
	query.Set("type", "output")
	if file.Subfolder != "" {
		query.Set("subfolder", file.Subfolder)
	}

	body, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), "", nil)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("download output: %w", err)
	}
	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return fmt.Errorf("download output: %w", err)
	}
	c.logger.Info("output downloaded",
		logging.String("file", file.Filename),
		logging.Int("bytes", len(body)))
	return nil
}

// Ping verifies the service is reachable via its stats endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/system_stats", "", nil)
	if err != nil {
		return fmt.Errorf("remote job service unreachable: %w", err)
	}
	return nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// doRequest performs one HTTP call with retries. Server errors and transport
// failures retry with linear backoff plus jitter; client errors are terminal.
func (c *Client) doRequest(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		payload, err := c.doRequestOnce(ctx, method, endpoint, contentType, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == c.maxAttempts {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
		}

		delay := c.backoff*time.Duration(attempt) + time.Duration(c.jitter()*float64(500*time.Millisecond))
		c.logger.Warn("request failed, retrying",
			logging.String("endpoint", endpoint),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s %s: %w", method, endpoint, lastErr)
}

func (c *Client) doRequestOnce(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	// Some reverse proxies mishandle keep-alive on long polls.
	req.Header.Set("Connection", "close")
	req.Close = true
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet := string(payload)
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return payload, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	// Transport-level failures (connection refused, resets, timeouts).
	return true
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
