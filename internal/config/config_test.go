package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// resetEnv clears every POISE_ variable and installs a valid auth secret
// so New() can succeed unless a test breaks something on purpose.
func resetEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "POISE_") {
			name, _, _ := strings.Cut(kv, "=")
			os.Unsetenv(name)
		}
	}
	os.Setenv(EnvAuthSecret, testSecret)
	t.Cleanup(func() { os.Unsetenv(EnvAuthSecret) })
}

func TestNew_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr() != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr(), DefaultListenAddr)
	}
	if cfg.BackendURL() != DefaultBackendURL {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL(), DefaultBackendURL)
	}
	if cfg.Archive().Enabled() {
		t.Error("archive should be disabled by default")
	}

	got := cfg.Timeouts()
	if got.SubmissionDeadline != DefaultSubmissionDeadline {
		t.Errorf("SubmissionDeadline = %v, want %v", got.SubmissionDeadline, DefaultSubmissionDeadline)
	}
	if got.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", got.PollInterval, DefaultPollInterval)
	}
	if got.PollBudget != DefaultPollBudget {
		t.Errorf("PollBudget = %d, want %d", got.PollBudget, DefaultPollBudget)
	}
	if got.RecoveryWindow != DefaultRecoveryWindow {
		t.Errorf("RecoveryWindow = %v, want %v", got.RecoveryWindow, DefaultRecoveryWindow)
	}
}

func TestNew_MissingSecret(t *testing.T) {
	resetEnv(t)
	os.Unsetenv(EnvAuthSecret)

	if _, err := New(); err == nil {
		t.Fatal("expected error for missing auth secret, got nil")
	}
}

func TestNew_ShortSecret(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvAuthSecret, "too-short")

	if _, err := New(); err == nil {
		t.Fatal("expected error for short auth secret, got nil")
	}
}

func TestNew_TimeoutOverrides(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvSubmissionDeadline, "30m")
	os.Setenv(EnvPollInterval, "2s")
	os.Setenv(EnvPollBudget, "10")
	os.Setenv(EnvRecoveryWindow, "1h")
	defer func() {
		os.Unsetenv(EnvSubmissionDeadline)
		os.Unsetenv(EnvPollInterval)
		os.Unsetenv(EnvPollBudget)
		os.Unsetenv(EnvRecoveryWindow)
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.Timeouts()
	if got.SubmissionDeadline != 30*time.Minute {
		t.Errorf("SubmissionDeadline = %v, want 30m", got.SubmissionDeadline)
	}
	if got.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", got.PollInterval)
	}
	if got.PollBudget != 10 {
		t.Errorf("PollBudget = %d, want 10", got.PollBudget)
	}
	if got.RecoveryWindow != time.Hour {
		t.Errorf("RecoveryWindow = %v, want 1h", got.RecoveryWindow)
	}
}

func TestNew_InvalidDuration(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvPollInterval, "five seconds")
	defer os.Unsetenv(EnvPollInterval)

	if _, err := New(); err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestNew_InvalidBackendURL(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvBackendURL, "not a url")
	defer os.Unsetenv(EnvBackendURL)

	if _, err := New(); err == nil {
		t.Fatal("expected error for invalid backend URL, got nil")
	}
}

func TestNew_ZeroPollBudget(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvPollBudget, "0")
	defer os.Unsetenv(EnvPollBudget)

	if _, err := New(); err == nil {
		t.Fatal("expected error for zero poll budget, got nil")
	}
}

func TestNew_AllowedOrigins(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvAllowedOrigins, "https://app.poise.dev, https://staging.poise.dev")
	defer os.Unsetenv(EnvAllowedOrigins)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 {
		t.Fatalf("AllowedOrigins length = %d, want 2", len(origins))
	}
	if origins[1] != "https://staging.poise.dev" {
		t.Errorf("origins[1] = %q, want trimmed origin", origins[1])
	}
}

func TestNew_ArchiveRequiresCredentials(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvS3Endpoint, "minio.internal:9000")
	defer os.Unsetenv(EnvS3Endpoint)

	if _, err := New(); err == nil {
		t.Fatal("expected error for archive endpoint without credentials, got nil")
	}
}

func TestNew_ArchiveEnabled(t *testing.T) {
	resetEnv(t)
	os.Setenv(EnvS3Endpoint, "minio.internal:9000")
	os.Setenv(EnvS3AccessKey, "access")
	os.Setenv(EnvS3SecretKey, "secret")
	defer func() {
		os.Unsetenv(EnvS3Endpoint)
		os.Unsetenv(EnvS3AccessKey)
		os.Unsetenv(EnvS3SecretKey)
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Archive().Enabled() {
		t.Error("archive should be enabled when endpoint is set")
	}
	if cfg.Archive().Bucket != DefaultArchiveBucket {
		t.Errorf("Bucket = %q, want %q", cfg.Archive().Bucket, DefaultArchiveBucket)
	}
}
