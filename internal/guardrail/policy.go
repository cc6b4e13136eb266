// Package guardrail implements the static safety policy evaluated before any
// live order is considered. Every check is a pure function over one immutable
// settings snapshot; callers obtain the snapshot once per request so a
// concurrent kill-switch flip can never produce a torn read mid-evaluation.
package guardrail

import (
	"math"

	"github.com/sawpanic/livegate/internal/config"
)

// Kill-switch trigger thresholds. These are deliberately hard-coded: the
// advisory signal must fire even when an operator misconfigures the SLO table.
const (
	killTriggerP95AckMs     = 2000.0
	killTriggerNonceErrRate = 0.01
)

// Policy evaluates guardrail checks against a single settings snapshot.
// Construct one per request with For; never retain across requests.
type Policy struct {
	s *config.Settings
}

// For binds a policy to the given snapshot.
func For(s *config.Settings) Policy {
	return Policy{s: s}
}

// TradingAllowed is false whenever the kill switch is set, and otherwise true
// only for a recognized mode.
func (p Policy) TradingAllowed() bool {
	if p.s.KillSwitch {
		return false
	}
	return p.s.Mode.Valid()
}

// SymbolAllowed applies the per-mode symbol restriction: live trades any
// symbol, trickle is limited to the trickle subset, shadow to the whitelist.
func (p Policy) SymbolAllowed(symbol string) bool {
	switch p.s.Mode {
	case config.ModeLive:
		return true
	case config.ModeTrickle:
		return contains(p.s.TrickleSymbols, symbol)
	case config.ModeShadow:
		return contains(p.s.Whitelist, symbol)
	}
	return false
}

// NotionalAllowed caps order notional per mode. Shadow is unconstrained;
// trickle uses the fixed trickle cap; live ramps the per-second cap by the
// configured volume percentage.
func (p Policy) NotionalAllowed(notional float64) bool {
	switch p.s.Mode {
	case config.ModeShadow:
		return true
	case config.ModeTrickle:
		return notional <= p.s.TrickleNotionalMax
	case config.ModeLive:
		return notional <= p.s.MaxNotionalPerSec*(p.s.VolumeRampPercent/100.0)
	}
	return false
}

// ClockDriftOK compares absolute measured drift to the configured tolerance.
func (p Policy) ClockDriftOK(driftMs float64) bool {
	return math.Abs(driftMs) <= p.s.ClockDriftMaxMs
}

// P95OK reports whether an observed p95 latency is within its SLO maximum.
func (p Policy) P95OK(metricMs, maxMs float64) bool {
	return metricMs <= maxMs
}

// ErrorRateOK compares nonce-error and rate-limit-burst rates to the SLO.
func (p Policy) ErrorRateOK(nonceErrorRate, burstRate float64) bool {
	return nonceErrorRate <= p.s.SLO.NonceErrorRateMax &&
		burstRate <= p.s.SLO.RateLimitBurstMax
}

// ShouldTriggerKillSwitch is an advisory signal: the caller, not the policy,
// decides whether to persist a kill-switch flip, preserving single-writer
// discipline on settings.
func (p Policy) ShouldTriggerKillSwitch(p95PlaceAckMs, nonceErrorRate float64) bool {
	return p95PlaceAckMs > killTriggerP95AckMs || nonceErrorRate > killTriggerNonceErrRate
}

func contains(set []string, symbol string) bool {
	for _, s := range set {
		if s == symbol {
			return true
		}
	}
	return false
}
