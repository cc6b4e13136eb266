package apply

import "strings"

// Stable rejection codes. Internally reasons stay an ordered list; they are
// joined to a comma-separated string only at the serialization boundary so
// machine consumers can still pattern-match individual codes.
const (
	ReasonOK               = "ok"
	ReasonTokenInvalid     = "token_invalid"
	ReasonRBACDenied       = "rbac_denied"
	ReasonKillSwitch       = "kill_switch"
	ReasonGatesFail        = "gates_fail"
	ReasonNotionalLtMin    = "notional_lt_min"
	ReasonNotionalCap      = "notional_cap"
	ReasonAllowLiveFalse   = "allowLive_false"
	ReasonSymbolDenied     = "symbol_denied"
	ReasonMinQty           = "min_qty"
	ReasonClockDrift       = "clock_drift"
	ReasonBreakerTripped   = "breaker_tripped"
	ReasonLiveDisabled     = "live_disabled"
	ReasonExchangeError    = "exchange_error"
	ReasonDuplicatePending = "duplicate_pending"
)

// JoinReasons serializes the ordered failure list; "ok" when empty.
func JoinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ReasonOK
	}
	return strings.Join(reasons, ",")
}
