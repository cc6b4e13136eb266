// Package config holds the resolved settings snapshot for the live gate.
// Settings are built once at startup from YAML plus environment overrides;
// runtime mutation happens only through guardrail.Holder snapshot replacement.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the trading promotion stage.
type Mode string

const (
	ModeShadow  Mode = "shadow"
	ModeTrickle Mode = "trickle"
	ModeLive    Mode = "live"
)

// Valid reports whether m is a recognized trading mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeShadow, ModeTrickle, ModeLive:
		return true
	}
	return false
}

// SLOConfig holds the service-level thresholds guardrails compare against.
type SLOConfig struct {
	P95PlaceAckMaxMs  float64 `yaml:"p95_place_ack_max_ms"`
	P95FeedDBMaxMs    float64 `yaml:"p95_feed_db_max_ms"`
	NonceErrorRateMax float64 `yaml:"nonce_error_rate_max"`
	RateLimitBurstMax float64 `yaml:"rate_limit_burst_max"`
}

// RBACConfig holds the shared-secret token and required role for live apply.
// The token is compared, never issued, by this service.
type RBACConfig struct {
	ConfirmToken string `yaml:"confirm_token"`
	RequiredRole string `yaml:"required_role"`
}

// BreakerConfig configures the apply-rate circuit breaker window.
type BreakerConfig struct {
	WindowSec    int `yaml:"window_sec"`
	MaxPerWindow int `yaml:"max_per_window"`
}

// IdempotencyConfig configures dedup record lifetime.
type IdempotencyConfig struct {
	TTLMin int `yaml:"ttl_min"`
}

// ExchangeConfig configures the order adapter.
type ExchangeConfig struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	LiveEnabled        bool    `yaml:"live_enabled"`
	QtyScale           int32   `yaml:"qty_scale"`
	PriceScale         int32   `yaml:"price_scale"`
	MinQty             float64 `yaml:"min_qty"`
	HTTPTimeoutMs      int     `yaml:"http_timeout_ms"`
	FillPollIntervalMs int     `yaml:"fill_poll_interval_ms"`
	FillPollTimeoutMs  int     `yaml:"fill_poll_timeout_ms"`
	DriftMaxAgeSec     int     `yaml:"drift_max_age_sec"`
	SubmitPerSec       float64 `yaml:"submit_per_sec"`
	SubmitBurst        int     `yaml:"submit_burst"`
}

// HTTPTimeout is the per-call exchange HTTP deadline.
func (c ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

// FillPollInterval is the base delay between fill-status polls.
func (c ExchangeConfig) FillPollInterval() time.Duration {
	return time.Duration(c.FillPollIntervalMs) * time.Millisecond
}

// FillPollTimeout is the hard cap on the fill-confirmation poll loop.
func (c ExchangeConfig) FillPollTimeout() time.Duration {
	return time.Duration(c.FillPollTimeoutMs) * time.Millisecond
}

// DriftMaxAge is how long a sampled clock drift stays fresh.
func (c ExchangeConfig) DriftMaxAge() time.Duration {
	return time.Duration(c.DriftMaxAgeSec) * time.Second
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// ReadTimeout returns the listener read deadline.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSec) * time.Second
}

// WriteTimeout returns the listener write deadline.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSec) * time.Second
}

// IdleTimeout returns the keep-alive idle deadline.
func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// RedisConfig configures the optional Redis evidence backend.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Settings is the immutable per-process settings snapshot. Consumers must
// never write fields in place; mutations go through guardrail.Holder which
// replaces the whole snapshot atomically.
type Settings struct {
	Mode       Mode `yaml:"mode"`
	KillSwitch bool `yaml:"kill_switch"`

	Whitelist      []string `yaml:"whitelist"`
	TrickleSymbols []string `yaml:"trickle_symbols"`

	TrickleNotionalMax float64 `yaml:"trickle_notional_max"`
	MaxNotionalPerSec  float64 `yaml:"max_notional_per_sec"`
	VolumeRampPercent  float64 `yaml:"volume_ramp_percent"`

	MinNotional   float64 `yaml:"min_notional"`
	PriceHintUSDT float64 `yaml:"price_hint_usdt"`
	LiveSymbol    string  `yaml:"live_symbol"`
	LiveTinyQty   float64 `yaml:"live_tiny_qty"`

	ClockDriftMaxMs float64 `yaml:"clock_drift_max_ms"`

	SLO         SLOConfig         `yaml:"slo"`
	RBAC        RBACConfig        `yaml:"rbac"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`

	EvidenceRoot string `yaml:"evidence_root"`
	PostgresDSN  string `yaml:"postgres_dsn"`
}

// Default returns built-in settings suitable for shadow-mode operation.
func Default() Settings {
	return Settings{
		Mode:               ModeShadow,
		KillSwitch:         false,
		Whitelist:          []string{"BTCUSDT", "ETHUSDT"},
		TrickleSymbols:     []string{"BTCUSDT"},
		TrickleNotionalMax: 25.0,
		MaxNotionalPerSec:  1000.0,
		VolumeRampPercent:  10.0,
		MinNotional:        5.0,
		PriceHintUSDT:      50000.0,
		LiveSymbol:         "BTCUSDT",
		LiveTinyQty:        0.0002,
		ClockDriftMaxMs:    500,
		SLO: SLOConfig{
			P95PlaceAckMaxMs:  1000,
			P95FeedDBMaxMs:    300,
			NonceErrorRateMax: 0.01,
			RateLimitBurstMax: 5,
		},
		RBAC: RBACConfig{
			RequiredRole: "admin",
		},
		Breaker: BreakerConfig{
			WindowSec:    60,
			MaxPerWindow: 10,
		},
		Idempotency: IdempotencyConfig{
			TTLMin: 10,
		},
		Exchange: ExchangeConfig{
			BaseURL:            "https://testnet.binance.vision",
			LiveEnabled:        false,
			QtyScale:           5,
			PriceScale:         2,
			MinQty:             0.00001,
			HTTPTimeoutMs:      5000,
			FillPollIntervalMs: 1000,
			FillPollTimeoutMs:  15000,
			DriftMaxAgeSec:     60,
			SubmitPerSec:       5,
			SubmitBurst:        5,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            4001,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  60,
		},
		EvidenceRoot: "evidence",
	}
}

// Load reads settings from path, layering the file over Default and the
// environment over the file.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// applyEnv overlays the environment variables the executor contract reserves
// for operators. Unset or malformed values leave the current field untouched.
func (s *Settings) applyEnv() {
	if v := os.Getenv("CONFIRM_TOKEN"); v != "" {
		s.RBAC.ConfirmToken = v
	}
	if v := os.Getenv("LIVE_SYMBOL"); v != "" {
		s.LiveSymbol = v
	}
	if v, ok := envFloat("MIN_NOTIONAL"); ok {
		s.MinNotional = v
	}
	if v, ok := envFloat("PRICE_HINT_USDT"); ok {
		s.PriceHintUSDT = v
	}
	if v, ok := envFloat("LIVE_TINY_QTY"); ok {
		s.LiveTinyQty = v
	}
	if v, ok := envBool("KILL_SWITCH"); ok {
		s.KillSwitch = v
	}
	if v := os.Getenv("LIVEGATE_MODE"); v != "" {
		s.Mode = Mode(strings.ToLower(v))
	}
}

// Validate rejects snapshots that would make every guardrail meaningless.
func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid mode: %q", s.Mode)
	}
	if s.Breaker.WindowSec <= 0 || s.Breaker.MaxPerWindow <= 0 {
		return fmt.Errorf("breaker window_sec and max_per_window must be positive")
	}
	if s.Idempotency.TTLMin <= 0 {
		return fmt.Errorf("idempotency ttl_min must be positive")
	}
	if s.ClockDriftMaxMs <= 0 {
		return fmt.Errorf("clock_drift_max_ms must be positive")
	}
	return nil
}

// IdempotencyTTL returns the dedup record lifetime as a duration.
func (s Settings) IdempotencyTTL() time.Duration {
	return time.Duration(s.Idempotency.TTLMin) * time.Minute
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
