package guardrail

import (
	"testing"

	"github.com/sawpanic/livegate/internal/config"
)

func testSettings() config.Settings {
	s := config.Default()
	s.Mode = config.ModeShadow
	s.Whitelist = []string{"BTCUSDT", "ETHUSDT"}
	s.TrickleSymbols = []string{"BTCUSDT"}
	s.TrickleNotionalMax = 100
	s.MaxNotionalPerSec = 1000
	s.VolumeRampPercent = 10
	s.ClockDriftMaxMs = 250
	return s
}

func TestTradingAllowed(t *testing.T) {
	testCases := []struct {
		name       string
		mode       config.Mode
		killSwitch bool
		want       bool
	}{
		{"shadow", config.ModeShadow, false, true},
		{"trickle", config.ModeTrickle, false, true},
		{"live", config.ModeLive, false, true},
		{"kill switch overrides live", config.ModeLive, true, false},
		{"kill switch overrides shadow", config.ModeShadow, true, false},
		{"unknown mode", config.Mode("paper"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSettings()
			s.Mode = tc.mode
			s.KillSwitch = tc.killSwitch
			if got := For(&s).TradingAllowed(); got != tc.want {
				t.Errorf("TradingAllowed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSymbolAllowed(t *testing.T) {
	testCases := []struct {
		name   string
		mode   config.Mode
		symbol string
		want   bool
	}{
		{"live accepts anything", config.ModeLive, "DOGEUSDT", true},
		{"trickle accepts trickle symbol", config.ModeTrickle, "BTCUSDT", true},
		{"trickle rejects non-trickle symbol", config.ModeTrickle, "ETHUSDT", false},
		{"shadow accepts whitelisted", config.ModeShadow, "ETHUSDT", true},
		{"shadow rejects unlisted", config.ModeShadow, "DOGEUSDT", false},
		{"unknown mode rejects", config.Mode("paper"), "BTCUSDT", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSettings()
			s.Mode = tc.mode
			if got := For(&s).SymbolAllowed(tc.symbol); got != tc.want {
				t.Errorf("SymbolAllowed(%q) = %v, want %v", tc.symbol, got, tc.want)
			}
		})
	}
}

func TestNotionalAllowed(t *testing.T) {
	testCases := []struct {
		name     string
		mode     config.Mode
		notional float64
		want     bool
	}{
		{"shadow unconstrained", config.ModeShadow, 1e9, true},
		{"trickle below cap", config.ModeTrickle, 99, true},
		{"trickle at cap", config.ModeTrickle, 100, true},
		{"trickle above cap", config.ModeTrickle, 100.01, false},
		// live cap = 1000 * 10% = 100
		{"live within ramped cap", config.ModeLive, 100, true},
		{"live above ramped cap", config.ModeLive, 101, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSettings()
			s.Mode = tc.mode
			if got := For(&s).NotionalAllowed(tc.notional); got != tc.want {
				t.Errorf("NotionalAllowed(%v) = %v, want %v", tc.notional, got, tc.want)
			}
		})
	}
}

func TestClockDriftOK(t *testing.T) {
	s := testSettings()
	p := For(&s)

	if !p.ClockDriftOK(250) {
		t.Error("drift at tolerance should pass")
	}
	if !p.ClockDriftOK(-250) {
		t.Error("negative drift uses absolute value")
	}
	if p.ClockDriftOK(251) {
		t.Error("drift above tolerance should fail")
	}
}

func TestErrorRateOK(t *testing.T) {
	s := testSettings()
	s.SLO.NonceErrorRateMax = 0.01
	s.SLO.RateLimitBurstMax = 5
	p := For(&s)

	if !p.ErrorRateOK(0.01, 5) {
		t.Error("rates at maxima should pass")
	}
	if p.ErrorRateOK(0.011, 5) {
		t.Error("nonce error rate above max should fail")
	}
	if p.ErrorRateOK(0.01, 5.1) {
		t.Error("burst rate above max should fail")
	}
}

func TestShouldTriggerKillSwitch(t *testing.T) {
	s := testSettings()
	// misconfigured SLO must not disable the hard-coded trigger
	s.SLO.P95PlaceAckMaxMs = 1e9
	p := For(&s)

	if p.ShouldTriggerKillSwitch(2000, 0.01) {
		t.Error("values at trigger thresholds should not fire")
	}
	if !p.ShouldTriggerKillSwitch(2001, 0) {
		t.Error("ack p95 above 2000ms should fire")
	}
	if !p.ShouldTriggerKillSwitch(0, 0.02) {
		t.Error("nonce error rate above 1% should fire")
	}
}

func TestHolderReplaceIsAtomicSnapshot(t *testing.T) {
	h := NewHolder(testSettings())

	before := h.Current()
	h.Replace(func(s config.Settings) config.Settings {
		s.Mode = config.ModeLive
		return s
	})
	after := h.Current()

	if before == after {
		t.Fatal("Replace must install a new snapshot pointer")
	}
	if before.Mode != config.ModeShadow {
		t.Error("old snapshot mutated in place")
	}
	if after.Mode != config.ModeLive {
		t.Errorf("new snapshot mode = %s, want live", after.Mode)
	}
}

func TestHolderTripKillSwitch(t *testing.T) {
	h := NewHolder(testSettings())
	h.TripKillSwitch("p95 breach")

	s := h.Current()
	if !s.KillSwitch {
		t.Error("kill switch not set")
	}
	if For(s).TradingAllowed() {
		t.Error("trading still allowed after trip")
	}
}
