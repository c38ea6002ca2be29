package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/backend"
)

const (
	// displayNameLimit caps the optional display name form field.
	displayNameLimit = 512

	// maxFormOverhead is slack on top of the video cap for multipart
	// boundaries and the small form fields. The precise limit is enforced
	// per file in spoolPart.
	maxFormOverhead = 1 << 20
)

type uploadTooLargeError struct {
	limit int64
}

func (e *uploadTooLargeError) Error() string {
	return fmt.Sprintf("video exceeds the %d byte upload limit", e.limit)
}

// analyzeVideoHandler accepts a multipart video upload and runs one
// analysis attempt to completion before answering. The attempt runs under
// its own deadline detached from the request context: analysis can take
// hours, and a client that gives up must not abandon a job the backend is
// still working on — the result is persisted and picked up by polling.
func analyzeVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := OwnerID(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+maxFormOverhead)
		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data", "BAD_REQUEST")
			return
		}

		upload, displayName, err := readUpload(mr, cfg.SpoolDir, cfg.MaxUploadBytes)
		if err != nil {
			var tooLarge *uploadTooLargeError
			var maxErr *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				WriteError(w, http.StatusRequestEntityTooLarge, tooLarge.Error(), "VALIDATION_ERROR")
			case errors.As(err, &maxErr):
				WriteError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds the %d byte limit", maxErr.Limit), "VALIDATION_ERROR")
			default:
				WriteError(w, http.StatusBadRequest, "malformed upload: "+err.Error(), "BAD_REQUEST")
			}
			return
		}
		defer upload.discard()

		if msg := validateUpload(upload); msg != "" {
			WriteError(w, http.StatusBadRequest, msg, "VALIDATION_ERROR")
			return
		}

		jobID := analysis.NewJobID()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.SubmissionDeadline)
		defer cancel()

		outcome := cfg.Orchestrator.Execute(ctx, analysis.Submission{
			JobID:          jobID,
			OwnerID:        ownerID,
			SourceFileName: upload.fileName,
			DisplayName:    displayName,
			ContentType:    upload.contentType,
			Size:           upload.size,
			Payload:        upload.file,
		})

		writeOutcome(w, jobID, outcome)
	}
}

// spooledUpload is a video payload staged on local disk so it can be
// streamed to the backend and rewound for archival.
type spooledUpload struct {
	file        *os.File
	fileName    string
	contentType string
	size        int64
}

func (u *spooledUpload) discard() {
	if u == nil || u.file == nil {
		return
	}
	u.file.Close()
	os.Remove(u.file.Name())
}

// readUpload walks the multipart stream, spooling the "video" file part and
// collecting the optional "displayName" field. The caller owns the returned
// upload; on error any partial spool is already removed.
func readUpload(mr *multipart.Reader, spoolDir string, maxBytes int64) (up *spooledUpload, displayName string, err error) {
	defer func() {
		if err != nil {
			up.discard()
			up = nil
		}
	}()

	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return up, "", perr
		}

		switch part.FormName() {
		case "video":
			if up != nil {
				part.Close()
				continue // first file wins
			}
			up, err = spoolPart(part, spoolDir, maxBytes)
			part.Close()
			if err != nil {
				return up, "", err
			}
		case "displayName":
			b, rerr := io.ReadAll(io.LimitReader(part, displayNameLimit))
			part.Close()
			if rerr != nil {
				return up, "", rerr
			}
			displayName = strings.TrimSpace(string(b))
		default:
			part.Close()
		}
	}

	if up == nil {
		return nil, "", errors.New(`missing "video" file field`)
	}
	return up, displayName, nil
}

func spoolPart(part *multipart.Part, spoolDir string, maxBytes int64) (*spooledUpload, error) {
	f, err := os.CreateTemp(spoolDir, "poise-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	size, err := io.Copy(f, io.LimitReader(part, maxBytes+1))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if size > maxBytes {
		f.Close()
		os.Remove(f.Name())
		return nil, &uploadTooLargeError{limit: maxBytes}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}

	return &spooledUpload{
		file:        f,
		fileName:    part.FileName(),
		contentType: part.Header.Get("Content-Type"),
		size:        size,
	}, nil
}

// validateUpload rejects payloads the backend is guaranteed to refuse,
// before any network call. Returns an empty string when the upload is
// acceptable.
func validateUpload(up *spooledUpload) string {
	if up.size == 0 {
		return "uploaded video is empty"
	}
	if up.fileName == "" {
		return "video file name is required"
	}
	if !analysis.IsVideoFileName(up.fileName) {
		ext := filepath.Ext(up.fileName)
		if ext == "" {
			return "video file name has no extension"
		}
		return fmt.Sprintf("unsupported video format %q", ext)
	}

	mtype, err := mimetype.DetectReader(up.file)
	if err != nil {
		return "could not inspect video content"
	}
	if _, err := up.file.Seek(0, io.SeekStart); err != nil {
		return "could not inspect video content"
	}
	if !strings.HasPrefix(mtype.String(), "video/") {
		return fmt.Sprintf("file content is %s, not video", mtype.String())
	}
	return ""
}

// writeOutcome maps an attempt outcome onto the HTTP response. Rejections
// carry the backend's own status and message so the caller sees exactly
// what the service said.
func writeOutcome(w http.ResponseWriter, jobID string, outcome analysis.Outcome) {
	switch outcome.Status {
	case analysis.OutcomeCompleted, analysis.OutcomeRecovered:
		WriteJSON(w, http.StatusOK, AnalyzeResponse{
			Status: outcome.Status.String(),
			JobID:  jobID,
			Result: outcome.Result,
		})

	case analysis.OutcomeProcessing:
		WriteJSON(w, http.StatusAccepted, AnalyzeResponse{
			Status:  outcome.Status.String(),
			JobID:   jobID,
			Message: "analysis is taking longer than the request window; poll check-analysis-status for the result",
		})

	case analysis.OutcomeRejected:
		status := http.StatusBadGateway
		msg := "analysis backend rejected the video"
		var reqErr *backend.RequestError
		if errors.As(outcome.Err, &reqErr) {
			msg = reqErr.Message()
			if reqErr.StatusCode >= 400 && reqErr.StatusCode <= 599 {
				status = reqErr.StatusCode
			}
		}
		WriteError(w, status, msg, "BACKEND_REJECTED")

	default:
		WriteError(w, http.StatusServiceUnavailable,
			"analysis backend unavailable, try again shortly", "BACKEND_UNAVAILABLE")
	}
}
