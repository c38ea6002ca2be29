package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTestVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake video bytes"), 0o644); err != nil {
		t.Fatalf("write test video: %v", err)
	}
	return path
}

func TestClient_SubmitVideo_Success(t *testing.T) {
	var receivedAuth string
	var receivedFileName string
	var receivedDisplayName string
	var receivedBytes []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze-video" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		receivedAuth = r.Header.Get("Authorization")
		receivedDisplayName = r.FormValue("displayName")

		file, header, err := r.FormFile("video")
		if err != nil {
			t.Errorf("missing video part: %v", err)
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		defer file.Close()
		receivedFileName = header.Filename
		receivedBytes, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"completed","jobId":"job-42","result":{"id":"job-42","videoName":"interview.mp4","gestureSuccess":true,"smileSuccess":true,"smileScore":64.2}}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	res, err := c.SubmitVideo(context.Background(), writeTestVideo(t, "interview.mp4"), "Mock interview 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", res.Status, StatusCompleted)
	}
	if res.JobID != "job-42" {
		t.Errorf("job_id = %q, want %q", res.JobID, "job-42")
	}
	if res.Result == nil || res.Result.ID != "job-42" {
		t.Errorf("result = %+v, want id job-42", res.Result)
	}
	if res.Result.SmileScore == nil || *res.Result.SmileScore != 64.2 {
		t.Errorf("smile_score = %v, want 64.2", res.Result.SmileScore)
	}

	if receivedAuth != "Bearer test-token" {
		t.Errorf("auth = %q, want %q", receivedAuth, "Bearer test-token")
	}
	if receivedFileName != "interview.mp4" {
		t.Errorf("filename = %q, want %q", receivedFileName, "interview.mp4")
	}
	if receivedDisplayName != "Mock interview 3" {
		t.Errorf("display_name = %q, want %q", receivedDisplayName, "Mock interview 3")
	}
	if string(receivedBytes) != "fake video bytes" {
		t.Errorf("payload = %q, want %q", receivedBytes, "fake video bytes")
	}
}

func TestClient_SubmitVideo_Processing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"status":"processing","jobId":"job-7","message":"analysis is taking longer than the request window"}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	res, err := c.SubmitVideo(context.Background(), writeTestVideo(t, "interview.mp4"), "")
	if err != nil {
		t.Fatalf("202 must not be an error, got: %v", err)
	}
	if res.Status != StatusProcessing {
		t.Errorf("status = %q, want %q", res.Status, StatusProcessing)
	}
	if res.JobID != "job-7" {
		t.Errorf("job_id = %q, want %q", res.JobID, "job-7")
	}
	if res.Result != nil {
		t.Errorf("result = %+v, want nil", res.Result)
	}
}

func TestClient_SubmitVideo_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"models are still loading","code":"BACKEND_REJECTED"}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	_, err := c.SubmitVideo(context.Background(), writeTestVideo(t, "interview.mp4"), "")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status_code = %d, want %d", apiErr.StatusCode, http.StatusServiceUnavailable)
	}
	if apiErr.Code != "BACKEND_REJECTED" {
		t.Errorf("code = %q, want %q", apiErr.Code, "BACKEND_REJECTED")
	}
	if apiErr.Message != "models are still loading" {
		t.Errorf("message = %q, want the backend's own words", apiErr.Message)
	}
}

func TestClient_SubmitVideo_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SubmitVideo(ctx, writeTestVideo(t, "interview.mp4"), "")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClient_CheckStatus_Completed(t *testing.T) {
	var receivedFileName string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/check-analysis-status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			VideoFileName string `json:"videoFileName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode status request: %v", err)
		}
		receivedFileName = req.VideoFileName

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"completed":true,"data":{"id":"job-1","videoName":"interview.mp4","gestureSuccess":true,"smileSuccess":true}}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	res, err := c.CheckStatus(context.Background(), "interview.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedFileName != "interview.mp4" {
		t.Errorf("video_file_name = %q, want %q", receivedFileName, "interview.mp4")
	}
	if !res.Completed {
		t.Error("completed = false, want true")
	}
	if res.Data == nil || res.Data.ID != "job-1" {
		t.Errorf("data = %+v, want id job-1", res.Data)
	}
}

func TestClient_CheckStatus_Pending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"completed":false,"message":"analysis still processing"}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	res, err := c.CheckStatus(context.Background(), "interview.mp4")
	if err != nil {
		t.Fatalf("pending must not be an error, got: %v", err)
	}
	if res.Completed {
		t.Error("completed = true, want false")
	}
	if res.Data != nil {
		t.Errorf("data = %+v, want nil", res.Data)
	}
}

func TestClient_History(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/video-history" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q, want %q", got, "2")
		}
		if got := r.URL.Query().Get("offset"); got != "4" {
			t.Errorf("offset = %q, want %q", got, "4")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records":[{"id":"job-2","videoName":"b.mp4"},{"id":"job-1","videoName":"a.mp4"}],"total":6,"limit":2,"offset":4}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	page, err := c.History(context.Background(), 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(page.Records))
	}
	if page.Records[0].ID != "job-2" {
		t.Errorf("records[0].id = %q, want %q", page.Records[0].ID, "job-2")
	}
	if page.Total != 6 {
		t.Errorf("total = %d, want 6", page.Total)
	}
}

func TestClient_Record(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/video-history/job-9" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"job-9","videoName":"interview.mp4","gestureSuccess":true,"smileSuccess":true}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	res, err := c.Record(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "job-9" {
		t.Errorf("id = %q, want %q", res.ID, "job-9")
	}
}

func TestClient_Delete(t *testing.T) {
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		if r.URL.Path != "/api/video-history/job-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	if err := c.Delete(context.Background(), "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedMethod != http.MethodDelete {
		t.Errorf("method = %q, want %q", receivedMethod, http.MethodDelete)
	}
}

func TestClient_Delete_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"record not found","code":"NOT_FOUND"}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	err := c.Delete(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status_code = %d, want %d", apiErr.StatusCode, http.StatusNotFound)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want %q", apiErr.Code, "NOT_FOUND")
	}
}

func TestClient_Health_NoTokenRequired(t *testing.T) {
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		receivedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","version":"0.1.0","uptime_s":12,"backend":{"available":true}}`)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Logger: testLogger()})

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedAuth != "" {
		t.Errorf("auth = %q, want no header without a token", receivedAuth)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q, want %q", h.Status, "ok")
	}
	if !h.Backend.Available {
		t.Error("backend.available = false, want true")
	}
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Token: "test-token", Logger: testLogger()})

	_, err := c.History(context.Background(), 0, 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status_code = %d, want %d", apiErr.StatusCode, http.StatusBadGateway)
	}
	if apiErr.Message != "bad gateway" {
		t.Errorf("message = %q, want the raw body", apiErr.Message)
	}
	if apiErr.Code != "" {
		t.Errorf("code = %q, want empty", apiErr.Code)
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	if !(&APIError{StatusCode: http.StatusInternalServerError}).IsRetryable() {
		t.Error("expected 5xx to be retryable")
	}
	if (&APIError{StatusCode: http.StatusBadRequest}).IsRetryable() {
		t.Error("expected 4xx to be permanent")
	}
}

func TestClient_ImplementsPollerAPI(t *testing.T) {
	var _ API = (*Client)(nil)
}
