// Package exchange places authorized orders against the venue and
// instruments them: ack latency, local persist latency, fill latency, and
// server clock drift. Rejections here never panic or retry; retries belong to
// the caller, made safe by the idempotency key.
package exchange

import (
	"context"
	"fmt"
	"time"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide validates a caller-supplied side string.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), true
	}
	return "", false
}

// OrderRequest is one authorized order.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          Side
	ClientOrderID string
}

// Result is the instrumented execution outcome. Latency fields hold whatever
// was measured before any failure; evidence is written even on failure paths.
type Result struct {
	Provider    string    `json:"provider"`
	OrderID     string    `json:"id,omitempty"`
	Symbol      string    `json:"symbol"`
	Qty         float64   `json:"qty"`
	Side        Side      `json:"side"`
	Status      string    `json:"status"`
	AckMs       int64     `json:"ack_ms"`
	EventToDBMs int64     `json:"event_to_db_ms"`
	FillMs      int64     `json:"fill_ms"`
	TS          time.Time `json:"ts"`
}

// Placer executes one order.
type Placer interface {
	Place(ctx context.Context, req OrderRequest) (*Result, error)
}

// Pre-flight rejection codes.
const (
	RejectMinQty       = "min_qty"
	RejectClockDrift   = "clock_drift"
	RejectLiveDisabled = "live_disabled"
)

// RejectError is a fail-closed pre-flight rejection: no order reached the
// network. Code is a stable machine-readable reason.
type RejectError struct {
	Code   string
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Detail)
}

// ProviderError is an exchange-side failure: HTTP error or timeout. Carries
// provider detail for the 502 surface.
type ProviderError struct {
	StatusCode int
	Detail     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("exchange error (HTTP %d): %s", e.StatusCode, e.Detail)
}
