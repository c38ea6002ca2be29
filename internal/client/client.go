// Package client is the Go SDK for the Poise gateway API. It wraps the
// HTTP surface in typed calls, drives the submit-then-poll lifecycle
// through Poller, and feeds the directory Watcher used by the CLI.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/poiselabs/poise-gateway/internal/analysis"
)

const (
	analyzePath = "/api/analyze-video"
	statusPath  = "/api/check-analysis-status"
	historyPath = "/api/video-history"
	healthPath  = "/api/health"

	// errorBodyLimit caps how much of an error body is retained.
	errorBodyLimit = 4096
)

// Submission statuses returned by the analyze endpoint.
const (
	StatusCompleted  = "completed"
	StatusRecovered  = "recovered"
	StatusProcessing = "processing"
)

// APIError is a non-2xx answer from the gateway, decoded from its error
// envelope when one is present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether resubmitting the same request could succeed.
// Server errors (5xx) are transient; client errors (4xx) are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// SubmitResult is the gateway's answer to one submission. Status is one of
// the Status* constants; Result is set for completed and recovered.
type SubmitResult struct {
	Status  string           `json:"status"`
	JobID   string           `json:"jobId"`
	Result  *analysis.Result `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
}

// StatusResponse answers one status check. Completed false means the
// analysis is still running or unknown; the gateway does not distinguish.
type StatusResponse struct {
	Success   bool             `json:"success"`
	Completed bool             `json:"completed"`
	Data      *analysis.Result `json:"data,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// HistoryPage is one page of the owner's analysis history, newest first.
type HistoryPage struct {
	Records []*analysis.Result `json:"records"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// Health reports the gateway's own status and its view of the analysis
// backend.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	Backend struct {
		Available bool `json:"available"`
	} `json:"backend"`
}

// Options configures the SDK client.
type Options struct {
	// BaseURL is the gateway address, e.g. http://127.0.0.1:8090.
	BaseURL string
	// Token is the bearer session token sent on every call.
	Token string
	// HTTPClient overrides the transport. The default carries no overall
	// timeout: a submission blocks until the gateway answers, which it
	// does within its own deadline. Bound calls with the context instead.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Poise gateway on behalf of one owner.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		httpc:   httpc,
		logger:  logger,
	}
}

// SubmitVideo uploads the file at videoPath for analysis and blocks until
// the gateway answers. A "processing" result is not an error: the job may
// still finish server-side and CheckStatus will find it.
func (c *Client) SubmitVideo(ctx context.Context, videoPath, displayName string) (*SubmitResult, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	return c.SubmitReader(ctx, filepath.Base(videoPath), f, displayName)
}

// SubmitReader uploads a video from a reader under the given file name.
// The payload is streamed; memory stays flat regardless of video size.
func (c *Client) SubmitReader(ctx context.Context, fileName string, payload io.Reader, displayName string) (*SubmitResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		if displayName != "" {
			if err := mw.WriteField("displayName", displayName); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("video", fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, payload); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, analyzePath, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Info("submitting video", "filename", fileName)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit video: %w", err)
	}

	// 202 means the attempt outlived the gateway's window; the envelope
	// still decodes and Status says "processing".
	var out SubmitResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckStatus asks whether an analysis of the named video completed
// recently. Completed false is the normal still-running answer.
func (c *Client) CheckStatus(ctx context.Context, videoFileName string) (*StatusResponse, error) {
	body, err := json.Marshal(map[string]string{"videoFileName": videoFileName})
	if err != nil {
		return nil, fmt.Errorf("marshal status request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, statusPath, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check status: %w", err)
	}

	var out StatusResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches one page of the owner's analysis records, newest first.
func (c *Client) History(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := historyPath
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	var out HistoryPage
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record fetches a single analysis record by id.
func (c *Client) Record(ctx context.Context, id string) (*analysis.Result, error) {
	req, err := c.newRequest(ctx, http.MethodGet, historyPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch record: %w", err)
	}

	var out analysis.Result
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes one analysis record.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, historyPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return decode(resp, nil)
}

// Health probes the gateway. It needs no token.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	var out Health
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// decode consumes the response: non-2xx becomes an *APIError, 2xx is
// unmarshalled into out when out is non-nil.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Code = envelope.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
