package canary

import (
	"encoding/json"
	"fmt"
)

// Metric is a gate observation field: either a known number or the explicit
// "unknown" sentinel. The zero value is Unknown, so fields absent from an
// evidence artifact degrade to unknown rather than to zero.
type Metric struct {
	Known bool
	Value float64
}

// Number returns a known metric.
func Number(v float64) Metric {
	return Metric{Known: true, Value: v}
}

// Unknown is the fail-closed sentinel.
var Unknown = Metric{}

// MarshalJSON encodes a known metric as a number and an unknown one as the
// string sentinel "unknown", matching the on-disk evidence format.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Known {
		return []byte(`"unknown"`), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts numbers as known values; anything else, including the
// "unknown" string, null, or garbage, decodes to Unknown. Corrupt evidence
// must degrade the gate, never error out of a read.
func (m *Metric) UnmarshalJSON(data []byte) error {
	// json.Unmarshal into *float64 treats null as a no-op with a nil error,
	// which would mark the metric known at zero.
	if string(data) == "null" {
		*m = Unknown
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		m.Known = true
		m.Value = v
		return nil
	}
	*m = Unknown
	return nil
}

func (m Metric) String() string {
	if !m.Known {
		return "unknown"
	}
	return fmt.Sprintf("%g", m.Value)
}

// Observation carries one canary run's observed gate metrics. Field names
// mirror Thresholds; each field may be unknown.
type Observation struct {
	AckP95Ms       Metric `json:"ack_p95_ms"`
	EventToDBP95Ms Metric `json:"event_to_db_p95_ms"`
	IngestLagP95S  Metric `json:"ingest_lag_p95_s"`
	SeqGapTotal    Metric `json:"seq_gap_total"`
	SlippageP95Bps Metric `json:"slippage_p95_bps"`
}
