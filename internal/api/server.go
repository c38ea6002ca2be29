package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/archive"
	"github.com/poiselabs/poise-gateway/internal/backend"
	"github.com/poiselabs/poise-gateway/internal/config"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr         string
	Orchestrator *analysis.Orchestrator
	Reconciler   *analysis.Reconciler
	Store        analysis.Store
	Prober       *backend.CachedProber
	Archive      archive.Store
	Verifier     *TokenVerifier
	Timeouts     config.Timeouts

	// AllowedOrigins feeds the CORS allowlist; loopback origins are
	// always allowed for local frontend development.
	AllowedOrigins []string
	// SpoolDir is where uploads are staged; empty means the OS temp dir.
	SpoolDir string
	// MaxUploadBytes caps one submission body.
	MaxUploadBytes int64
	// RateLimitPerMinute caps submissions per owner.
	RateLimitPerMinute int

	Logger    *slog.Logger
	StartTime time.Time
}

// NewServer builds the HTTP server. WriteTimeout stays zero: a submission
// response is written hours after the request line arrives, and ReadTimeout
// would also cover the hours-long body upload, so only the header read is
// bounded.
func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       0,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
