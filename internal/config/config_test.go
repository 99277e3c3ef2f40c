package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("expected 30m token ttl, got %v", cfg.Auth.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.External.Timeout != 10*time.Second {
		t.Errorf("expected 10s external timeout, got %v", cfg.External.Timeout)
	}
}

func TestLoadRejectsLongExternalTimeout(t *testing.T) {
	t.Setenv("EXTERNAL_TIMEOUT", "1m")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SOME_BOOL", "maybe")
	t.Setenv("SOME_DURATION", "soon")
	if !getEnvBool("SOME_BOOL", true) {
		t.Error("expected fallback for unparsable bool")
	}
	if getEnvDuration("SOME_DURATION", time.Second) != time.Second {
		t.Error("expected fallback for unparsable duration")
	}
}
