// Package canary implements the evidence-based promotion gate: observed
// latency and consistency metrics compared against SLO thresholds to decide
// whether live trading may proceed.
package canary

// Default gate thresholds, applied to any field a stored plan leaves unset.
// slippage_p95_bps is canonically 20 (the normalizer value in the executor
// contract; an older constants table said 25 and is treated as stale).
const (
	DefaultAckP95Ms       = 1000.0
	DefaultEventToDBP95Ms = 300.0
	DefaultIngestLagP95S  = 2.0
	DefaultSeqGapTotal    = 0.0
	DefaultSlippageP95Bps = 20.0
)

// Thresholds holds the gate limits for one canary run. Construct via
// Normalize or DefaultThresholds; immutable once built.
type Thresholds struct {
	AckP95Ms       float64 `json:"ack_p95_ms" yaml:"ack_p95_ms"`
	EventToDBP95Ms float64 `json:"event_to_db_p95_ms" yaml:"event_to_db_p95_ms"`
	IngestLagP95S  float64 `json:"ingest_lag_p95_s" yaml:"ingest_lag_p95_s"`
	SeqGapTotal    float64 `json:"seq_gap_total" yaml:"seq_gap_total"`
	SlippageP95Bps float64 `json:"slippage_p95_bps" yaml:"slippage_p95_bps"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AckP95Ms:       DefaultAckP95Ms,
		EventToDBP95Ms: DefaultEventToDBP95Ms,
		IngestLagP95S:  DefaultIngestLagP95S,
		SeqGapTotal:    DefaultSeqGapTotal,
		SlippageP95Bps: DefaultSlippageP95Bps,
	}
}

// Normalize fills unset fields with their defaults. A zero or negative value
// counts as unset for every field except seq_gap_total, whose default is
// itself zero (any sequence gap fails the gate).
func Normalize(t Thresholds) Thresholds {
	if t.AckP95Ms <= 0 {
		t.AckP95Ms = DefaultAckP95Ms
	}
	if t.EventToDBP95Ms <= 0 {
		t.EventToDBP95Ms = DefaultEventToDBP95Ms
	}
	if t.IngestLagP95S <= 0 {
		t.IngestLagP95S = DefaultIngestLagP95S
	}
	if t.SeqGapTotal < 0 {
		t.SeqGapTotal = DefaultSeqGapTotal
	}
	if t.SlippageP95Bps <= 0 {
		t.SlippageP95Bps = DefaultSlippageP95Bps
	}
	return t
}
