package canary

// Status is the canary readiness status.
type Status string

const (
	StatusArmed   Status = "ARMED"
	StatusWarning Status = "WARNING"
	StatusBlocked Status = "BLOCKED"
)

// Decision is the promotion outcome derived from the gate comparison.
type Decision string

const (
	DecisionProceed Decision = "PROCEED"
	DecisionHold    Decision = "HOLD"
)

// GateCheck records one observed metric against its threshold.
type GateCheck struct {
	Name      string  `json:"name"`
	Observed  Metric  `json:"observed"`
	Threshold float64 `json:"threshold"`
	Pass      bool    `json:"pass"`
}

// Result is the promotion decision for one canary run. Deterministic and
// side-effect-free: safe to recompute for monitoring without re-running the
// underlying canary traffic.
type Result struct {
	Gates    []GateCheck `json:"gates"`
	GatesOK  bool        `json:"gatesOk"`
	Status   Status      `json:"status"`
	Decision Decision    `json:"decision"`
}

// Evaluate compares an observation to normalized thresholds. Comparators:
// ack and event_to_db pass strictly below threshold, ingest_lag at or below,
// seq_gap only on exact match (normally zero). An unknown value in any of
// those four fails the whole gate set. Slippage (at or below) gates only
// when observed: the canary measures the four latency/consistency fields
// itself, while slippage arrives from fill analysis that may lag a run.
func Evaluate(obs Observation, th Thresholds) Result {
	th = Normalize(th)

	checks := []GateCheck{
		gate("ack_p95_ms", obs.AckP95Ms, th.AckP95Ms, func(v, t float64) bool { return v < t }),
		gate("event_to_db_p95_ms", obs.EventToDBP95Ms, th.EventToDBP95Ms, func(v, t float64) bool { return v < t }),
		gate("ingest_lag_p95_s", obs.IngestLagP95S, th.IngestLagP95S, func(v, t float64) bool { return v <= t }),
		gate("seq_gap_total", obs.SeqGapTotal, th.SeqGapTotal, func(v, t float64) bool { return v == t }),
		slippageGate(obs.SlippageP95Bps, th.SlippageP95Bps),
	}

	ok := true
	for _, c := range checks {
		if !c.Pass {
			ok = false
		}
	}

	res := Result{Gates: checks, GatesOK: ok}
	if ok {
		res.Status = StatusArmed
		res.Decision = DecisionProceed
	} else {
		res.Status = StatusWarning
		res.Decision = DecisionHold
	}
	return res
}

// WithKillSwitch downgrades a result to BLOCKED/HOLD when the guardrail kill
// switch is independently active. Gate checks are preserved for audit.
func (r Result) WithKillSwitch(active bool) Result {
	if !active {
		return r
	}
	r.GatesOK = false
	r.Status = StatusBlocked
	r.Decision = DecisionHold
	return r
}

func gate(name string, obs Metric, threshold float64, cmp func(v, t float64) bool) GateCheck {
	return GateCheck{
		Name:      name,
		Observed:  obs,
		Threshold: threshold,
		Pass:      obs.Known && cmp(obs.Value, threshold),
	}
}

// slippageGate passes when the metric is unobserved; an observed breach
// still fails the run.
func slippageGate(obs Metric, threshold float64) GateCheck {
	return GateCheck{
		Name:      "slippage_p95_bps",
		Observed:  obs,
		Threshold: threshold,
		Pass:      !obs.Known || obs.Value <= threshold,
	}
}
