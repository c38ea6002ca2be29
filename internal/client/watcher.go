package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/poiselabs/poise-gateway/internal/analysis"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultSettleScans  = 2
)

// WatcherConfig configures the recording watcher.
type WatcherConfig struct {
	// Dir is the directory to scan for finished recordings.
	Dir string
	// ScanInterval is the cadence of directory scans. Default 5s.
	ScanInterval time.Duration
	// SettleScans is how many consecutive unchanged scans a file needs
	// before it counts as fully written. Default 2.
	SettleScans int
	// Submit consumes one settled video. It runs inline on the scan
	// goroutine, so one recording is in flight at a time.
	Submit func(ctx context.Context, path string) error
	Logger *slog.Logger
}

// Watcher polls a directory for new video recordings. Recorders write
// files incrementally, so a file is submitted only after its size and
// mtime hold still across consecutive scans.
type Watcher struct {
	cfg     WatcherConfig
	running atomic.Bool

	// files is touched only from the scan goroutine.
	files map[string]*fileTrack
}

type fileTrack struct {
	size      int64
	modTime   time.Time
	stable    int
	submitted bool
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", cfg.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: not a directory", cfg.Dir)
	}
	if cfg.Submit == nil {
		return nil, errors.New("submit callback is required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.SettleScans < 1 {
		cfg.SettleScans = defaultSettleScans
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Watcher{
		cfg:   cfg,
		files: make(map[string]*fileTrack),
	}, nil
}

// Start runs the scan loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	w.cfg.Logger.Info("watching for new recordings",
		"dir", w.cfg.Dir,
		"scan_interval", w.cfg.ScanInterval.String(),
	)

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.cfg.Logger.Info("watcher stopping")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// IsRunning reports whether the scan loop is active.
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// scan walks the directory once, updating per-file tracking state and
// submitting anything that settled.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.cfg.Logger.Error("cannot read watch directory", "dir", w.cfg.Dir, "error", err)
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !analysis.IsVideoFileName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between listing and stat.
			continue
		}
		seen[entry.Name()] = true
		w.observe(ctx, entry.Name(), info)
	}

	for name := range w.files {
		if !seen[name] {
			delete(w.files, name)
		}
	}
}

func (w *Watcher) observe(ctx context.Context, name string, info fs.FileInfo) {
	track, ok := w.files[name]
	if !ok {
		w.files[name] = &fileTrack{size: info.Size(), modTime: info.ModTime()}
		w.cfg.Logger.Info("new recording detected", "file", name, "bytes", info.Size())
		return
	}
	if track.submitted {
		return
	}

	if info.Size() != track.size || !info.ModTime().Equal(track.modTime) {
		track.size = info.Size()
		track.modTime = info.ModTime()
		track.stable = 0
		return
	}

	track.stable++
	if track.stable < w.cfg.SettleScans || track.size == 0 {
		return
	}

	track.submitted = true
	path := filepath.Join(w.cfg.Dir, name)
	w.cfg.Logger.Info("recording settled, submitting", "file", name, "bytes", track.size)

	if err := w.cfg.Submit(ctx, path); err != nil {
		w.resolveSubmitError(name, track, err)
	}
}

// resolveSubmitError decides whether a failed submission gets another try.
// An unresolved job may still finish server-side and a rejected video will
// be rejected again, so neither is resubmitted; transport failures are.
func (w *Watcher) resolveSubmitError(name string, track *fileTrack, err error) {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrPollBudgetExhausted):
		w.cfg.Logger.Warn("submission unresolved, not resubmitting", "file", name, "error", err)
	case errors.As(err, &apiErr) && !apiErr.IsRetryable():
		w.cfg.Logger.Warn("gateway rejected recording", "file", name, "error", err)
	default:
		track.submitted = false
		track.stable = 0
		w.cfg.Logger.Warn("submission failed, will retry after next settle", "file", name, "error", err)
	}
}
