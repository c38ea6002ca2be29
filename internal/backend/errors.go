package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
)

// ErrUnavailable marks connection-level failures: the service never accepted
// the request, so the job definitely did not start. Distinct from timeouts,
// where the job may be running.
var ErrUnavailable = errors.New("analysis backend unavailable")

// RequestError is a rejection from a reachable backend. The status and body
// are carried verbatim so callers can surface exactly what the service said.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("analysis backend rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}

// Message extracts the human-readable part of the rejection body. The
// service answers with {"detail": ...} or {"error": ...} JSON, or plain
// text; structured validation details are passed through as raw JSON.
func (e *RequestError) Message() string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if len(envelope.Detail) > 0 {
			var s string
			if json.Unmarshal(envelope.Detail, &s) == nil && s != "" {
				return s
			}
			return string(envelope.Detail)
		}
	}
	if strings.TrimSpace(e.Body) == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Body
}

// Fault classifies backend call errors into the categories the orchestrator
// acts on.
type Fault int

const (
	FaultNone Fault = iota
	// FaultRejected: reachable backend answered with an error status.
	FaultRejected
	// FaultUnavailable: the connection was never established.
	FaultUnavailable
	// FaultHeaderTimeout: the transport gave up waiting for response
	// headers; the backend may still be computing.
	FaultHeaderTimeout
	// FaultDeadline: the attempt's own deadline elapsed.
	FaultDeadline
	// FaultOther: anything else (malformed response, cancelled context).
	FaultOther
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultRejected:
		return "rejected"
	case FaultUnavailable:
		return "unavailable"
	case FaultHeaderTimeout:
		return "header_timeout"
	case FaultDeadline:
		return "deadline"
	default:
		return "other"
	}
}

// Classify maps an error from a backend call to its fault category.
// Deadline expiry is checked before generic timeouts: the HTTP client
// reports both through net.Error, and only the header-timeout case implies
// the backend might still deliver a result to nobody.
func Classify(err error) Fault {
	if err == nil {
		return FaultNone
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return FaultRejected
	}
	if errors.Is(err, ErrUnavailable) {
		return FaultUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FaultDeadline
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultHeaderTimeout
	}
	return FaultOther
}

// IsAmbiguousTimeout reports whether the error leaves the job's fate
// unknown: the backend may have finished (or may yet finish) without this
// caller ever seeing the response.
func IsAmbiguousTimeout(err error) bool {
	f := Classify(err)
	return f == FaultHeaderTimeout || f == FaultDeadline
}

// isConnectionFailure reports errors where the request never reached the
// service: refused, unroutable, or unresolvable. Timeouts are excluded —
// a timed-out connection may still have delivered the request.
func isConnectionFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
