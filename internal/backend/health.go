package backend

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// CachedProber caches backend health probes with a TTL so the gateway's own
// health endpoint doesn't turn into a probe amplifier.
type CachedProber struct {
	client *Client
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	available bool
	checkedAt time.Time
}

// NewCachedProber creates a caching wrapper around backend health probes.
func NewCachedProber(client *Client, ttl time.Duration, logger *slog.Logger) *CachedProber {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CachedProber{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Available returns the cached availability if fresh, otherwise re-probes.
// A probe error counts as unavailable.
func (p *CachedProber) Available(ctx context.Context) bool {
	p.mu.RLock()
	if !p.checkedAt.IsZero() && time.Since(p.checkedAt) < p.ttl {
		available := p.available
		p.mu.RUnlock()
		return available
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (p *CachedProber) Refresh(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, err := p.client.Health(ctx)
	if err != nil {
		p.logger.Warn("backend health probe failed", "error", err)
	}

	p.available = err == nil && status.Available()
	p.checkedAt = time.Now()
	return p.available
}

// Invalidate clears the cached probe result.
func (p *CachedProber) Invalidate() {
	p.mu.Lock()
	p.checkedAt = time.Time{}
	p.mu.Unlock()
}
