package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/poiselabs/poise-gateway/internal/metrics"
)

const (
	analyzeAllPath     = "/api/analyze-all"
	analyzeGesturePath = "/api/analyze-gesture"
	analyzeSmilePath   = "/api/analyze-smile"
	healthPath         = "/api/health"

	// HeaderClientJobID carries the client-generated job id. The service
	// has no correlation field of its own; the header is an opaque
	// passthrough it is free to ignore.
	HeaderClientJobID = "X-Client-Job-ID"

	// errorBodyLimit caps how much of a rejection body is retained.
	errorBodyLimit = 4096

	dialTimeout = 10 * time.Second

	// The breaker counts only connection-level failures (see
	// IsSuccessful), so three in a row means the service is down, not
	// slow.
	breakerFailureThreshold = 3
	breakerCooldown         = 30 * time.Second
)

// Options configures the backend client.
type Options struct {
	// BaseURL is the service address, e.g. http://localhost:8000.
	BaseURL string
	// HeaderTimeout bounds the wait for response headers. Zero disables
	// it and leaves only the per-call context deadline.
	HeaderTimeout time.Duration
	Logger        *slog.Logger
}

// AnalyzeRequest is one video submission.
type AnalyzeRequest struct {
	JobID       string
	FileName    string
	ContentType string
	Size        int64
	Payload     io.Reader
}

// Client talks to the analysis service. A single call can stay open for
// hours: the service holds the connection until scoring completes, so the
// underlying http.Client carries no overall timeout — each call is bounded
// by its context.
type Client struct {
	baseURL string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "analysis-backend",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// A slow backend is not a broken backend: rejections and
		// timeouts never open the breaker, only failed connections do.
		IsSuccessful: func(err error) bool {
			return err == nil || !isConnectionFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpc:   &http.Client{Transport: transport},
		breaker: breaker,
		logger:  logger,
	}
}

// AnalyzeAll submits a video for combined gesture and smile analysis and
// blocks until the service answers or the context deadline passes.
func (c *Client) AnalyzeAll(ctx context.Context, req AnalyzeRequest) (*AnalyzeAllResponse, error) {
	var out AnalyzeAllResponse
	if err := c.postAndDecode(ctx, analyzeAllPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeGesture submits a video for gesture analysis only.
func (c *Client) AnalyzeGesture(ctx context.Context, req AnalyzeRequest) (*GestureAnalysis, error) {
	var out GestureAnalysis
	if err := c.postAndDecode(ctx, analyzeGesturePath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeSmile submits a video for smile analysis only.
func (c *Client) AnalyzeSmile(ctx context.Context, req AnalyzeRequest) (*SmileAnalysis, error) {
	var out SmileAnalysis
	if err := c.postAndDecode(ctx, analyzeSmilePath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// postAndDecode runs one submit round-trip and records its result under
// the endpoint's metric label.
func (c *Client) postAndDecode(ctx context.Context, path string, req AnalyzeRequest, out any) error {
	resp, err := c.postVideo(ctx, path, req)
	if err == nil {
		err = decodeResponse(resp, out)
	}
	if err != nil {
		metrics.RecordBackendRequest(path, Classify(err).String())
		return err
	}
	metrics.RecordBackendRequest(path, "ok")
	return nil
}

// Health probes the service directly, bypassing the circuit breaker so a
// recovering backend can be observed while the breaker is still open.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if isConnectionFailure(err) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		} else {
			err = fmt.Errorf("health request: %w", err)
		}
		metrics.RecordBackendRequest(healthPath, Classify(err).String())
		return nil, err
	}

	var status HealthStatus
	if err := decodeResponse(resp, &status); err != nil {
		metrics.RecordBackendRequest(healthPath, Classify(err).String())
		return nil, err
	}
	metrics.RecordBackendRequest(healthPath, "ok")
	return &status, nil
}

// postVideo streams the payload as a multipart body. The pipe keeps memory
// flat regardless of video size; the writer goroutine ends when the copy
// finishes or the request is torn down and the reader side closes.
func (c *Client) postVideo(ctx context.Context, path string, req AnalyzeRequest) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := newVideoPart(mw, req.FileName, req.ContentType)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, req.Payload); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if req.JobID != "" {
		httpReq.Header.Set(HeaderClientJobID, req.JobID)
	}

	c.logger.Info("submitting video to analysis backend",
		"path", path,
		"job_id", req.JobID,
		"filename", req.FileName,
		"bytes", req.Size,
	)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpc.Do(httpReq)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		case isConnectionFailure(err):
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return nil, fmt.Errorf("analysis request: %w", err)
		}
	}
	return resp, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// newVideoPart creates the "file" form part with an explicit Content-Type;
// the service validates the part's media type, so the default
// application/octet-stream from CreateFormFile would be rejected.
func newVideoPart(mw *multipart.Writer, fileName, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &RequestError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode analysis response: %w", err)
	}
	return nil
}
