package api

import (
	"github.com/poiselabs/poise-gateway/internal/analysis"
)

// AnalyzeResponse is the terminal answer to one submission.
//
// Status mirrors the orchestrator outcome: "completed" and "recovered"
// carry a result; "processing" means the job may still finish server-side
// and the caller should poll the status-check route.
type AnalyzeResponse struct {
	Status  string           `json:"status"`
	JobID   string           `json:"jobId"`
	Result  *analysis.Result `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
}

// StatusCheckRequest asks whether an analysis for the named video finished.
type StatusCheckRequest struct {
	VideoFileName string `json:"videoFileName" validate:"required,min=1,max=512"`
}

// StatusCheckResponse always answers 200; Completed carries the verdict.
// A pending job and an unknown job are indistinguishable by design, so
// there is no error arm for "not found".
type StatusCheckResponse struct {
	Success   bool             `json:"success"`
	Completed bool             `json:"completed"`
	Data      *analysis.Result `json:"data,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// HistoryResponse is one page of an owner's analysis records, newest first.
type HistoryResponse struct {
	Records []*analysis.Result `json:"records"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

type BackendHealth struct {
	Available bool `json:"available"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	UptimeS int64         `json:"uptime_s"`
	Backend BackendHealth `json:"backend"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
