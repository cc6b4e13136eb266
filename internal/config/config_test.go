package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if s.Mode != ModeShadow {
		t.Errorf("default mode = %s, want shadow", s.Mode)
	}
	if s.Exchange.LiveEnabled {
		t.Error("live execution enabled by default")
	}
}

func TestModeValid(t *testing.T) {
	for _, m := range []Mode{ModeShadow, ModeTrickle, ModeLive} {
		if !m.Valid() {
			t.Errorf("%s reported invalid", m)
		}
	}
	for _, m := range []Mode{"", "paper", "LIVE"} {
		if m.Valid() {
			t.Errorf("%q reported valid", m)
		}
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livegate.yaml")
	content := `
mode: trickle
trickle_notional_max: 42
rbac:
  confirm_token: file-token
  required_role: operator
exchange:
  http_timeout_ms: 2500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Mode != ModeTrickle {
		t.Errorf("mode = %s", s.Mode)
	}
	if s.TrickleNotionalMax != 42 {
		t.Errorf("trickle_notional_max = %v", s.TrickleNotionalMax)
	}
	if s.RBAC.ConfirmToken != "file-token" || s.RBAC.RequiredRole != "operator" {
		t.Errorf("rbac = %+v", s.RBAC)
	}
	if s.Exchange.HTTPTimeout() != 2500*time.Millisecond {
		t.Errorf("http timeout = %v", s.Exchange.HTTPTimeout())
	}
	// untouched fields keep their defaults
	if s.MaxNotionalPerSec != 1000 {
		t.Errorf("max_notional_per_sec = %v, want default 1000", s.MaxNotionalPerSec)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livegate.yaml")
	if err := os.WriteFile(path, []byte("live_symbol: ETHUSDT\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LIVE_SYMBOL", "SOLUSDT")
	t.Setenv("CONFIRM_TOKEN", "env-token")
	t.Setenv("KILL_SWITCH", "true")
	t.Setenv("LIVEGATE_MODE", "LIVE")
	t.Setenv("MIN_NOTIONAL", "not-a-number")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.LiveSymbol != "SOLUSDT" {
		t.Errorf("live symbol = %s, env must win over file", s.LiveSymbol)
	}
	if s.RBAC.ConfirmToken != "env-token" {
		t.Errorf("confirm token = %s", s.RBAC.ConfirmToken)
	}
	if !s.KillSwitch {
		t.Error("KILL_SWITCH=true ignored")
	}
	if s.Mode != ModeLive {
		t.Errorf("mode = %s, LIVEGATE_MODE is case-insensitive", s.Mode)
	}
	if s.MinNotional != Default().MinNotional {
		t.Errorf("malformed MIN_NOTIONAL overwrote the field: %v", s.MinNotional)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file did not error")
	}
}

func TestValidateRejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad mode", func(s *Settings) { s.Mode = "paper" }},
		{"zero breaker window", func(s *Settings) { s.Breaker.WindowSec = 0 }},
		{"zero breaker limit", func(s *Settings) { s.Breaker.MaxPerWindow = 0 }},
		{"zero idempotency ttl", func(s *Settings) { s.Idempotency.TTLMin = 0 }},
		{"zero drift tolerance", func(s *Settings) { s.ClockDriftMaxMs = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIdempotencyTTL(t *testing.T) {
	s := Default()
	s.Idempotency.TTLMin = 7
	if got := s.IdempotencyTTL(); got != 7*time.Minute {
		t.Errorf("ttl = %v", got)
	}
}
