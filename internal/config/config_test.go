package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected default port, got %q", cfg.Port)
	}
	if cfg.PaymentWindow != DefaultPaymentWindow {
		t.Errorf("expected default payment window, got %v", cfg.PaymentWindow)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Errorf("expected default sweep interval, got %v", cfg.SweepInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PAYMENT_WINDOW", "10m")
	t.Setenv("TRADE_TTL", "1h")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("RATE_LIMIT_RPM", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %q", cfg.Port)
	}
	if cfg.PaymentWindow != 10*time.Minute {
		t.Errorf("expected 10m payment window, got %v", cfg.PaymentWindow)
	}
	if cfg.TradeTTL != time.Hour {
		t.Errorf("expected 1h trade TTL, got %v", cfg.TradeTTL)
	}
	if cfg.RateLimitRPM != 10 {
		t.Errorf("expected rate limit 10, got %d", cfg.RateLimitRPM)
	}
}

func TestValidate_TradeTTLBelowPaymentWindow(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "2h")
	t.Setenv("TRADE_TTL", "1h")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error when TRADE_TTL < PAYMENT_WINDOW")
	}
}

func TestValidate_ProductionRequiresAdminKey(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for missing admin key in production")
	}

	t.Setenv("ADMIN_API_KEY", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
}
