package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SimulatedPlacer fulfils the Placer contract without touching a venue. Used
// in shadow mode, in tests, and whenever no exchange endpoint is configured.
type SimulatedPlacer struct {
	QtyScale int32
	MinQty   float64
	now      func() time.Time
}

// NewSimulatedPlacer builds a simulator with the same rounding rules as the
// real adapter so min-qty behavior matches.
func NewSimulatedPlacer(qtyScale int32, minQty float64) *SimulatedPlacer {
	return &SimulatedPlacer{QtyScale: qtyScale, MinQty: minQty, now: time.Now}
}

// Place simulates an immediate fill with zero measured latencies.
func (p *SimulatedPlacer) Place(_ context.Context, req OrderRequest) (*Result, error) {
	qty := decimal.NewFromFloat(req.Qty).RoundFloor(p.QtyScale)
	if qty.IsZero() || qty.LessThan(decimal.NewFromFloat(p.MinQty)) {
		return nil, &RejectError{
			Code:   RejectMinQty,
			Detail: fmt.Sprintf("rounded qty %s below venue minimum %g", qty, p.MinQty),
		}
	}

	now := p.now().UTC()
	return &Result{
		Provider: "simulated",
		OrderID:  fmt.Sprintf("sim-%d", now.UnixMilli()),
		Symbol:   req.Symbol,
		Qty:      qty.InexactFloat64(),
		Side:     req.Side,
		Status:   "SIMULATED",
		TS:       now,
	}, nil
}
