package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_DIR", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("MAX_UPLOAD_MB", "")
	t.Setenv("RATE_LIMIT", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "3000" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "3000")
	}
	if cfg.StorageDir != "./storage" {
		t.Fatalf("StorageDir mismatch: got %q", cfg.StorageDir)
	}
	if cfg.PublicBaseURL != "http://localhost:3000" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
	if cfg.MaxUploadMB != 8 {
		t.Fatalf("MaxUploadMB mismatch: got %d want 8", cfg.MaxUploadMB)
	}
	if cfg.MaxUploadBytes() != 8<<20 {
		t.Fatalf("MaxUploadBytes mismatch: got %d", cfg.MaxUploadBytes())
	}
	if cfg.RateLimit != 60 || cfg.RateLimitWindow != 60*time.Second {
		t.Fatalf("rate limit mismatch: got %d per %s", cfg.RateLimit, cfg.RateLimitWindow)
	}
	if cfg.GeminiTextModel != "gemini-1.5-flash" {
		t.Fatalf("GeminiTextModel mismatch: got %q", cfg.GeminiTextModel)
	}
}

func TestLoadConfigInheritsPortInPublicBaseURL(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
}

func TestLoadConfigTrimsPublicBaseURL(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PUBLIC_BASE_URL", "https://cdn.example.com/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "https://cdn.example.com" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing GEMINI_API_KEY")
	}
}

func TestLoadConfigRejectsNonPositiveUploadLimit(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("MAX_UPLOAD_MB", "-3")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for non-positive MAX_UPLOAD_MB")
	}
}
