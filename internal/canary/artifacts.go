package canary

import "time"

// LatencyArtifact is the latency.json payload: the raw gate observation for
// one run. Written once by the canary runner, read many times by the gate.
type LatencyArtifact struct {
	Metrics    Observation `json:"metrics"`
	Samples    int         `json:"samples"`
	CapturedAt time.Time   `json:"captured_at"`
}

// PlanArtifact is the plan.json payload: the run's thresholds and decision.
// Once written it is never mutated, only superseded by a newer nonce.
type PlanArtifact struct {
	Nonce      string     `json:"nonce"`
	Thresholds Thresholds `json:"thresholds"`
	Gates      Result     `json:"gates"`
	CreatedAt  time.Time  `json:"created_at"`
}
