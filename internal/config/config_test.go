package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("GOOGLE_REDIRECT_URL", "")
	t.Setenv("CLIENT_LOAD_TIMEOUT", "")
	t.Setenv("READINESS_TIMEOUT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ClientLoadTimeout != 5*time.Second {
		t.Fatalf("expected 5s client load timeout, got %s", cfg.ClientLoadTimeout)
	}
	if cfg.ReadinessPollInterval != 100*time.Millisecond {
		t.Fatalf("expected 100ms poll interval, got %s", cfg.ReadinessPollInterval)
	}
	if cfg.ReadinessTimeout != 0 {
		t.Fatalf("expected readiness timeout disabled by default, got %s", cfg.ReadinessTimeout)
	}
	if cfg.GoogleRedirectURL != "http://localhost:8080/oauth/callback" {
		t.Fatalf("expected redirect derived from base url, got %s", cfg.GoogleRedirectURL)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.LocalStatePath == "" {
		t.Fatal("expected a local state path default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("PUBLIC_BASE_URL", "https://records.example.com/")
	t.Setenv("GOOGLE_API_KEY", "key-123")
	t.Setenv("GOOGLE_CLIENT_ID", "client-123")
	t.Setenv("CLIENT_LOAD_TIMEOUT", "2s")
	t.Setenv("READINESS_TIMEOUT", "30s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.GoogleRedirectURL != "https://records.example.com/oauth/callback" {
		t.Fatalf("expected redirect from trimmed base url, got %s", cfg.GoogleRedirectURL)
	}
	if cfg.GoogleAPIKey != "key-123" || cfg.GoogleClientID != "client-123" {
		t.Fatalf("expected google credentials override, got %q/%q", cfg.GoogleAPIKey, cfg.GoogleClientID)
	}
	if cfg.ClientLoadTimeout != 2*time.Second {
		t.Fatalf("expected load timeout override, got %s", cfg.ClientLoadTimeout)
	}
	if cfg.ReadinessTimeout != 30*time.Second {
		t.Fatalf("expected readiness timeout override, got %s", cfg.ReadinessTimeout)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitRPS)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis tls enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("CONSENT_TIMEOUT", "soon")
	cfg := Load()
	if cfg.RateLimitBurst != 20 {
		t.Fatalf("expected default burst, got %d", cfg.RateLimitBurst)
	}
	if cfg.ConsentTimeout != 10*time.Minute {
		t.Fatalf("expected default consent timeout, got %s", cfg.ConsentTimeout)
	}
}
