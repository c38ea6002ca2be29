// Package config provides configuration management for the Poise gateway.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultListenAddr     = "127.0.0.1:8090"
	DefaultLogLevel       = "info"
	DefaultDBPath         = "poise.db"
	DefaultBackendURL     = "http://localhost:8000"
	DefaultMaxUploadBytes = 512 << 20 // 512 MiB
	DefaultMaxConcurrent  = 2
	DefaultRateLimit      = 10 // submissions per owner per minute
	DefaultArchiveBucket  = "poise-videos"

	// Timeout defaults. The submission deadline is deliberately huge:
	// the analysis service holds the connection open until scoring
	// finishes, which can take hours for long recordings.
	DefaultSubmissionDeadline = 2 * time.Hour
	DefaultHeaderTimeout      = 5 * time.Minute
	DefaultPollInterval       = 5 * time.Second
	DefaultPollBudget         = 60
	DefaultRecoveryWindow     = 45 * time.Minute
	DefaultStatusTimeout      = 15 * time.Second
	DefaultHealthCacheTTL     = 30 * time.Second

	// Environment variable names
	EnvListenAddr     = "POISE_LISTEN_ADDR"
	EnvLogLevel       = "POISE_LOG_LEVEL"
	EnvDBPath         = "POISE_DB_PATH"
	EnvBackendURL     = "POISE_BACKEND_URL"
	EnvAuthSecret     = "POISE_AUTH_SECRET"
	EnvAllowedOrigins = "POISE_ALLOWED_ORIGINS"
	EnvSpoolDir       = "POISE_SPOOL_DIR"
	EnvMaxUploadBytes = "POISE_MAX_UPLOAD_BYTES"
	EnvMaxConcurrent  = "POISE_MAX_CONCURRENT"
	EnvRateLimit      = "POISE_RATE_LIMIT"

	EnvSubmissionDeadline = "POISE_SUBMISSION_DEADLINE"
	EnvHeaderTimeout      = "POISE_HEADER_TIMEOUT"
	EnvPollInterval       = "POISE_POLL_INTERVAL"
	EnvPollBudget         = "POISE_POLL_BUDGET"
	EnvRecoveryWindow     = "POISE_RECOVERY_WINDOW"
	EnvStatusTimeout      = "POISE_STATUS_TIMEOUT"
	EnvHealthCacheTTL     = "POISE_HEALTH_CACHE_TTL"

	EnvS3Endpoint  = "POISE_S3_ENDPOINT"
	EnvS3Bucket    = "POISE_S3_BUCKET"
	EnvS3AccessKey = "POISE_S3_ACCESS_KEY"
	EnvS3SecretKey = "POISE_S3_SECRET_KEY"
	EnvS3UseSSL    = "POISE_S3_USE_SSL"

	// MinAuthSecretLen is the minimum accepted HMAC secret length.
	MinAuthSecretLen = 32
)

// Timeouts groups every duration and budget governing a submission's
// lifecycle. One instance is built at startup and injected into the
// orchestrator, reconciler, backend client and poller, so no component
// hard-codes its own constants.
type Timeouts struct {
	// SubmissionDeadline bounds one whole analysis attempt.
	SubmissionDeadline time.Duration
	// HeaderTimeout bounds the wait for response headers on the outbound
	// call. Zero disables it. When it fires before the submission
	// deadline the backend may well still be computing.
	HeaderTimeout time.Duration
	// PollInterval is the fixed cadence of the client-side poller.
	PollInterval time.Duration
	// PollBudget is the maximum number of status polls per job.
	PollBudget int
	// RecoveryWindow bounds how old a persisted record may be to count
	// as the recovered result of an ambiguous attempt.
	RecoveryWindow time.Duration
	// StatusTimeout bounds a single status-check request.
	StatusTimeout time.Duration
	// HealthCacheTTL is how long a backend health probe is reused.
	HealthCacheTTL time.Duration
}

// ArchiveConfig holds the optional S3-compatible archive settings.
// An empty endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether the raw-video archive is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

// Config defines the application configuration interface
type Config interface {
	ListenAddr() string
	LogLevel() string
	DBPath() string
	BackendURL() string
	AuthSecret() string
	AllowedOrigins() []string
	SpoolDir() string
	MaxUploadBytes() int64
	MaxConcurrent() int
	RateLimitPerMinute() int
	Timeouts() Timeouts
	Archive() ArchiveConfig
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	listenAddr     string
	logLevel       string
	dbPath         string
	backendURL     string
	authSecret     string
	allowedOrigins []string
	spoolDir       string
	maxUploadBytes int64
	maxConcurrent  int
	rateLimit      int
	timeouts       Timeouts
	archive        ArchiveConfig
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		listenAddr:     DefaultListenAddr,
		logLevel:       DefaultLogLevel,
		dbPath:         DefaultDBPath,
		backendURL:     DefaultBackendURL,
		spoolDir:       os.TempDir(),
		maxUploadBytes: DefaultMaxUploadBytes,
		maxConcurrent:  DefaultMaxConcurrent,
		rateLimit:      DefaultRateLimit,
		timeouts: Timeouts{
			SubmissionDeadline: DefaultSubmissionDeadline,
			HeaderTimeout:      DefaultHeaderTimeout,
			PollInterval:       DefaultPollInterval,
			PollBudget:         DefaultPollBudget,
			RecoveryWindow:     DefaultRecoveryWindow,
			StatusTimeout:      DefaultStatusTimeout,
			HealthCacheTTL:     DefaultHealthCacheTTL,
		},
		archive: ArchiveConfig{Bucket: DefaultArchiveBucket},
	}

	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.listenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.logLevel = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.dbPath = v
	}
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.backendURL = v
	}
	if u, err := url.Parse(cfg.backendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s: %q is not an absolute URL", EnvBackendURL, cfg.backendURL)
	}

	cfg.authSecret = os.Getenv(EnvAuthSecret)
	if cfg.authSecret == "" {
		return nil, fmt.Errorf("%s is required", EnvAuthSecret)
	}
	if len(cfg.authSecret) < MinAuthSecretLen {
		return nil, fmt.Errorf("%s must be at least %d bytes", EnvAuthSecret, MinAuthSecretLen)
	}

	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				cfg.allowedOrigins = append(cfg.allowedOrigins, o)
			}
		}
	}
	if v := os.Getenv(EnvSpoolDir); v != "" {
		cfg.spoolDir = v
	}

	var err error
	if cfg.maxUploadBytes, err = envInt64(EnvMaxUploadBytes, cfg.maxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.maxUploadBytes <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", EnvMaxUploadBytes)
	}
	if cfg.maxConcurrent, err = envInt(EnvMaxConcurrent, cfg.maxConcurrent); err != nil {
		return nil, err
	}
	if cfg.maxConcurrent < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxConcurrent)
	}
	if cfg.rateLimit, err = envInt(EnvRateLimit, cfg.rateLimit); err != nil {
		return nil, err
	}
	if cfg.rateLimit < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", EnvRateLimit)
	}

	t := &cfg.timeouts
	if t.SubmissionDeadline, err = envDuration(EnvSubmissionDeadline, t.SubmissionDeadline); err != nil {
		return nil, err
	}
	if t.HeaderTimeout, err = envDuration(EnvHeaderTimeout, t.HeaderTimeout); err != nil {
		return nil, err
	}
	if t.PollInterval, err = envDuration(EnvPollInterval, t.PollInterval); err != nil {
		return nil, err
	}
	if t.PollBudget, err = envInt(EnvPollBudget, t.PollBudget); err != nil {
		return nil, err
	}
	if t.RecoveryWindow, err = envDuration(EnvRecoveryWindow, t.RecoveryWindow); err != nil {
		return nil, err
	}
	if t.StatusTimeout, err = envDuration(EnvStatusTimeout, t.StatusTimeout); err != nil {
		return nil, err
	}
	if t.HealthCacheTTL, err = envDuration(EnvHealthCacheTTL, t.HealthCacheTTL); err != nil {
		return nil, err
	}
	if err := validateTimeouts(cfg.timeouts); err != nil {
		return nil, err
	}

	cfg.archive.Endpoint = os.Getenv(EnvS3Endpoint)
	if v := os.Getenv(EnvS3Bucket); v != "" {
		cfg.archive.Bucket = v
	}
	cfg.archive.AccessKey = os.Getenv(EnvS3AccessKey)
	cfg.archive.SecretKey = os.Getenv(EnvS3SecretKey)
	if cfg.archive.UseSSL, err = envBool(EnvS3UseSSL, false); err != nil {
		return nil, err
	}
	if cfg.archive.Enabled() && (cfg.archive.AccessKey == "" || cfg.archive.SecretKey == "") {
		return nil, fmt.Errorf("%s and %s are required when %s is set", EnvS3AccessKey, EnvS3SecretKey, EnvS3Endpoint)
	}

	return cfg, nil
}

func validateTimeouts(t Timeouts) error {
	if t.SubmissionDeadline <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvSubmissionDeadline)
	}
	if t.HeaderTimeout < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvHeaderTimeout)
	}
	if t.PollInterval <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvPollInterval)
	}
	if t.PollBudget < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvPollBudget)
	}
	if t.RecoveryWindow <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvRecoveryWindow)
	}
	if t.StatusTimeout <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvStatusTimeout)
	}
	if t.HealthCacheTTL < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvHealthCacheTTL)
	}
	return nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envInt64(name string, def int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// ListenAddr returns the HTTP listen address
func (c *EnvConfig) ListenAddr() string {
	return c.listenAddr
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DBPath returns the path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return c.dbPath
}

// BackendURL returns the analysis service base URL
func (c *EnvConfig) BackendURL() string {
	return c.backendURL
}

// AuthSecret returns the HMAC secret used to verify session tokens
func (c *EnvConfig) AuthSecret() string {
	return c.authSecret
}

// AllowedOrigins returns the browser origins permitted by CORS
func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

// SpoolDir returns the directory used to spool uploads before submission
func (c *EnvConfig) SpoolDir() string {
	return c.spoolDir
}

// MaxUploadBytes returns the maximum accepted video payload size
func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

// MaxConcurrent returns the maximum number of concurrent backend submissions
func (c *EnvConfig) MaxConcurrent() int {
	return c.maxConcurrent
}

// RateLimitPerMinute returns the per-owner submission rate limit
func (c *EnvConfig) RateLimitPerMinute() int {
	return c.rateLimit
}

// Timeouts returns the submission lifecycle timeouts and budgets
func (c *EnvConfig) Timeouts() Timeouts {
	return c.timeouts
}

// Archive returns the optional raw-video archive settings
func (c *EnvConfig) Archive() ArchiveConfig {
	return c.archive
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
