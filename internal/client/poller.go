package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/config"
)

// PollState is the lifecycle of one tracked submission.
type PollState int

const (
	// StateIdle means no submission has started.
	StateIdle PollState = iota
	// StateSubmitting means the upload is in flight.
	StateSubmitting
	// StatePolling means the gateway's answer was ambiguous and the
	// status loop is running.
	StatePolling
	// StateDone means a result is in hand, live or recovered.
	StateDone
	// StateFailed means the submission failed definitively or the wait
	// was cancelled.
	StateFailed
	// StateExhausted means the poll budget ran out with no result yet.
	StateExhausted
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrPollBudgetExhausted means the poll budget ran out before a result
// appeared. The analysis may still complete server-side; check again later
// rather than treating the job as failed.
var ErrPollBudgetExhausted = errors.New("status poll budget exhausted; the analysis may still complete, check again later")

// API is the slice of the SDK the poller drives; *Client implements it.
type API interface {
	SubmitVideo(ctx context.Context, videoPath, displayName string) (*SubmitResult, error)
	CheckStatus(ctx context.Context, videoFileName string) (*StatusResponse, error)
}

// Poller drives one submission from upload to a terminal state. When the
// gateway cannot give a live answer it falls back to a fixed-cadence,
// budget-bounded status loop instead of failing.
type Poller struct {
	api           API
	interval      time.Duration
	budget        int
	statusTimeout time.Duration
	logger        *slog.Logger

	// OnTransition, when set, observes every state change. It is called
	// synchronously from SubmitAndWait, so it must not block.
	OnTransition func(from, to PollState)

	mu    sync.Mutex
	state PollState
}

func NewPoller(api API, timeouts config.Timeouts, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := timeouts.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	budget := timeouts.PollBudget
	if budget < 1 {
		budget = 1
	}
	statusTimeout := timeouts.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = config.DefaultStatusTimeout
	}
	return &Poller{
		api:           api,
		interval:      interval,
		budget:        budget,
		statusTimeout: statusTimeout,
		logger:        logger,
		state:         StateIdle,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SubmitAndWait submits one video and blocks until the analysis resolves:
// a result in hand, a definitive failure, or the poll budget spent.
//
// Ambiguity never fails the wait. A submit that times out at the transport
// level and a "processing" answer both start the polling loop, because the
// gateway may finish and persist the result at any moment. Cancelling ctx
// abandons the wait, not the job: the gateway keeps working and the result
// lands in history.
func (p *Poller) SubmitAndWait(ctx context.Context, videoPath, displayName string) (*analysis.Result, error) {
	p.transition(StateSubmitting)
	fileName := filepath.Base(videoPath)

	res, err := p.api.SubmitVideo(ctx, videoPath, displayName)
	if err != nil {
		if !ambiguousSubmitFailure(ctx, err) {
			p.transition(StateFailed)
			return nil, err
		}
		p.logger.Warn("submit outcome unknown, polling for the result",
			"filename", fileName, "error", err)
	} else {
		switch res.Status {
		case StatusCompleted, StatusRecovered:
			p.transition(StateDone)
			return res.Result, nil
		case StatusProcessing:
			p.logger.Info("analysis still processing server-side",
				"filename", fileName, "job_id", res.JobID)
		default:
			p.transition(StateFailed)
			return nil, fmt.Errorf("gateway answered with unknown status %q", res.Status)
		}
	}

	p.transition(StatePolling)
	return p.poll(ctx, fileName)
}

// poll runs the status loop: fixed cadence, one check in flight at a time,
// each check under its own deadline. A failed check is noise, not a
// verdict — only the budget ends the loop.
func (p *Poller) poll(ctx context.Context, fileName string) (*analysis.Result, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.budget; attempt++ {
		select {
		case <-ctx.Done():
			p.transition(StateFailed)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := p.checkOnce(ctx, fileName)
		if err != nil {
			if ctx.Err() != nil {
				p.transition(StateFailed)
				return nil, ctx.Err()
			}
			p.logger.Warn("status poll failed",
				"filename", fileName, "attempt", attempt, "error", err)
			continue
		}
		if status.Completed {
			p.logger.Info("poll found completed analysis",
				"filename", fileName, "attempt", attempt)
			p.transition(StateDone)
			return status.Data, nil
		}
	}

	p.logger.Warn("poll budget exhausted", "filename", fileName, "budget", p.budget)
	p.transition(StateExhausted)
	return nil, ErrPollBudgetExhausted
}

func (p *Poller) checkOnce(ctx context.Context, fileName string) (*StatusResponse, error) {
	pctx, cancel := context.WithTimeout(ctx, p.statusTimeout)
	defer cancel()
	return p.api.CheckStatus(pctx, fileName)
}

func (p *Poller) transition(to PollState) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	if p.OnTransition != nil && from != to {
		p.OnTransition(from, to)
	}
}

// ambiguousSubmitFailure reports whether a failed submit left the job fate
// unknown. A transport timeout with the caller's context still live means
// the gateway may be mid-attempt, so polling can find the result. A
// cancelled caller, an unreachable gateway, or a definitive gateway answer
// is final.
func ambiguousSubmitFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
