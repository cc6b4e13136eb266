package apply

import (
	"context"

	"github.com/sawpanic/livegate/internal/audit"
	"github.com/sawpanic/livegate/internal/canary"
)

// AuditSampler derives gate observations from the order audit trail. Ack
// latency comes from measured place→ack timings; feed-side metrics
// (ingest lag, sequence gaps) are owned by the market-data readers and stay
// Unknown here, which keeps the gate closed until that evidence is supplied
// by a real canary run. Slippage stays Unknown too and is advisory until
// fill analysis reports it.
type AuditSampler struct {
	Audit audit.Store
}

// Sample builds the observation from current audit stats.
func (s *AuditSampler) Sample(ctx context.Context) canary.Observation {
	var obs canary.Observation

	stats, err := s.Audit.Stats(ctx)
	if err != nil || stats.Total == 0 {
		return obs
	}

	if stats.P95AckMs > 0 {
		obs.AckP95Ms = canary.Number(stats.P95AckMs)
	}
	return obs
}
