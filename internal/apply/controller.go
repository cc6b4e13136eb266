// Package apply orchestrates one live-order authorization: guardrail policy,
// promotion gate, idempotency, circuit breaking, and finally the exchange
// adapter. States: RECEIVED → CHECKED → DEDUPED → EXECUTING →
// {SUCCEEDED | REJECTED | BREAKER_TRIPPED}.
package apply

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/livegate/internal/audit"
	"github.com/sawpanic/livegate/internal/breaker"
	"github.com/sawpanic/livegate/internal/canary"
	"github.com/sawpanic/livegate/internal/config"
	"github.com/sawpanic/livegate/internal/evidence"
	"github.com/sawpanic/livegate/internal/exchange"
	"github.com/sawpanic/livegate/internal/guardrail"
	"github.com/sawpanic/livegate/internal/idempotency"
	"github.com/sawpanic/livegate/internal/metrics"
)

// Sampler supplies the observed gate metrics for a canary run. Fields it
// cannot measure stay Unknown, which fails the gate closed.
type Sampler interface {
	Sample(ctx context.Context) canary.Observation
}

// Controller wires the admission pipeline.
type Controller struct {
	Holder   *guardrail.Holder
	Evidence evidence.Store
	Idem     *idempotency.Store
	Breaker  *breaker.Window
	Placer   exchange.Placer
	Metrics  *metrics.Metrics
	Audit    audit.Store
	Sampler  Sampler
}

// EvidenceRefs points at the artifacts written for a response.
type EvidenceRefs struct {
	Root      string `json:"root"`
	Plan      string `json:"plan,omitempty"`
	Latency   string `json:"latency,omitempty"`
	LivePlan  string `json:"live_plan,omitempty"`
	LiveApply string `json:"live_apply,omitempty"`
}

// RunResponse answers POST /canary/run. Policy failures are encoded in the
// body, never as an HTTP error.
type RunResponse struct {
	Nonce    string             `json:"nonce"`
	Status   canary.Status      `json:"status"`
	Decision canary.Decision    `json:"decision"`
	Gates    []canary.GateCheck `json:"gates"`
	Evidence EvidenceRefs       `json:"evidence"`
}

// CanaryRun samples gate metrics, writes latency and plan evidence under a
// fresh nonce, and returns the promotion decision.
func (c *Controller) CanaryRun(ctx context.Context, dryRun bool) (*RunResponse, error) {
	settings := c.Holder.Current()
	nonce := c.Evidence.NewNonce()

	var obs canary.Observation
	if dryRun {
		obs = simulatedObservation()
	} else if c.Sampler != nil {
		obs = c.Sampler.Sample(ctx)
	}

	if err := c.Evidence.Write(nonce, evidence.KindLatency, canary.LatencyArtifact{
		Metrics:    obs,
		CapturedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	th := canary.DefaultThresholds()
	result := canary.Evaluate(obs, th).WithKillSwitch(settings.KillSwitch)

	if err := c.Evidence.Write(nonce, evidence.KindPlan, canary.PlanArtifact{
		Nonce:      nonce,
		Thresholds: th,
		Gates:      result,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	log.Info().Str("nonce", nonce).Str("status", string(result.Status)).
		Str("decision", string(result.Decision)).Bool("dry_run", dryRun).
		Msg("Canary run evaluated")

	return &RunResponse{
		Nonce:    nonce,
		Status:   result.Status,
		Decision: result.Decision,
		Gates:    result.Gates,
		Evidence: EvidenceRefs{
			Root:    c.Evidence.NonceRoot(nonce),
			Plan:    c.Evidence.Location(nonce, evidence.KindPlan),
			Latency: c.Evidence.Location(nonce, evidence.KindLatency),
		},
	}, nil
}

// PlanRequest is the live-trade plan input. Symbol/qty/side default to the
// configured tiny live order when omitted.
type PlanRequest struct {
	Symbol    string
	Qty       float64
	Side      exchange.Side
	AllowLive bool
	DryRun    bool
	Token     string
	Role      string
}

// WouldPlace previews the order a passing plan would submit.
type WouldPlace struct {
	Symbol       string        `json:"symbol"`
	Qty          float64       `json:"qty"`
	Side         exchange.Side `json:"side"`
	NotionalUSDT float64       `json:"notional_usdt"`
}

// PlanResponse answers POST /canary/live-trade.plan. A computed,
// re-derivable view persisted as live_plan evidence.
type PlanResponse struct {
	Nonce         string          `json:"nonce"`
	Accepted      bool            `json:"accepted"`
	Reason        string          `json:"reason"`
	TokenVerified bool            `json:"tokenVerified"`
	RbacOK        bool            `json:"rbacOk"`
	KillSwitch    bool            `json:"killSwitch"`
	GatesOK       bool            `json:"gatesOk"`
	NotionalOK    bool            `json:"notionalOk"`
	Checks        map[string]bool `json:"checks"`
	WouldPlace    *WouldPlace     `json:"wouldPlace"`
	Evidence      EvidenceRefs    `json:"evidence"`
}

// Plan is the dry preview: every live-apply check except idempotency and the
// breaker, with no side effects beyond the live_plan artifact.
func (c *Controller) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	settings := c.Holder.Current()
	policy := guardrail.For(settings)

	if req.Symbol == "" {
		req.Symbol = settings.LiveSymbol
	}
	if req.Qty == 0 {
		req.Qty = settings.LiveTinyQty
	}
	if req.Side == "" {
		req.Side = exchange.SideBuy
	}

	checks := c.evaluateChecks(settings, policy, checkInput{
		token:     req.Token,
		role:      req.Role,
		symbol:    req.Symbol,
		qty:       req.Qty,
		allowLive: req.AllowLive,
	})

	nonce, ok := c.Evidence.LatestNonce()
	if !ok {
		nonce = c.Evidence.NewNonce()
	}

	resp := &PlanResponse{
		Nonce:         nonce,
		Accepted:      len(checks.reasons) == 0,
		Reason:        JoinReasons(checks.reasons),
		TokenVerified: checks.tokenVerified,
		RbacOK:        checks.rbacOK,
		KillSwitch:    settings.KillSwitch,
		GatesOK:       checks.gatesOK,
		NotionalOK:    checks.notionalOK,
		Checks: map[string]bool{
			"tokenVerified": checks.tokenVerified,
			"rbacOk":        checks.rbacOK,
			"killSwitchOk":  !settings.KillSwitch,
			"gatesOk":       checks.gatesOK,
			"notionalOk":    checks.notionalOK,
			"allowLive":     req.AllowLive,
		},
		Evidence: EvidenceRefs{
			Root:     c.Evidence.NonceRoot(nonce),
			LivePlan: c.Evidence.Location(nonce, evidence.KindLivePlan),
		},
	}
	if resp.Accepted {
		resp.WouldPlace = &WouldPlace{
			Symbol:       req.Symbol,
			Qty:          req.Qty,
			Side:         req.Side,
			NotionalUSDT: checks.notional,
		}
	}

	c.countBlocks(checks.reasons, req.Symbol)

	if err := c.Evidence.Write(nonce, evidence.KindLivePlan, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ApplyRequest is the live-apply input after header extraction.
type ApplyRequest struct {
	Symbol         string
	Qty            float64
	Side           exchange.Side
	AllowLive      bool
	IdempotencyKey string
	Traceparent    string
	Token          string
	Role           string
}

// ApplyResponse answers the live-apply endpoint. HTTPStatus is the transport
// mapping (200 for policy outcomes, 412 adapter dry-run, 502 exchange error).
type ApplyResponse struct {
	Nonce         string                `json:"nonce"`
	Accepted      bool                  `json:"accepted"`
	Reason        string                `json:"reason"`
	TokenVerified bool                  `json:"tokenVerified"`
	RbacOK        bool                  `json:"rbacOk"`
	KillSwitch    bool                  `json:"killSwitch"`
	GatesOK       bool                  `json:"gatesOk"`
	NotionalOK    bool                  `json:"notionalOk"`
	Idempotency   idempotency.Telemetry `json:"idempotency"`
	Breaker       breaker.Telemetry     `json:"breaker"`
	Order         *exchange.Result      `json:"order,omitempty"`
	Error         string                `json:"error,omitempty"`
	Evidence      EvidenceRefs          `json:"evidence"`

	HTTPStatus int `json:"-"`
}

// Apply authorizes and, when every stage passes, executes one live order.
func (c *Controller) Apply(ctx context.Context, req ApplyRequest) *ApplyResponse {
	settings := c.Holder.Current()
	policy := guardrail.For(settings)

	nonce, ok := c.Evidence.LatestNonce()
	if !ok {
		nonce = c.Evidence.NewNonce()
	}

	key := req.IdempotencyKey
	if key == "" {
		// No caller key means no cross-request dedup; mint one so telemetry
		// and record bookkeeping stay uniform.
		key = "auto-" + uuid.New().String()[:8]
	}
	ttl := settings.IdempotencyTTL()

	resp := &ApplyResponse{
		Nonce:      nonce,
		KillSwitch: settings.KillSwitch,
		Idempotency: idempotency.Telemetry{
			Key:    key,
			TTLMin: settings.Idempotency.TTLMin,
		},
		Breaker:    c.Breaker.Telemetry(),
		HTTPStatus: http.StatusOK,
		Evidence: EvidenceRefs{
			Root:      c.Evidence.NonceRoot(nonce),
			LiveApply: c.Evidence.Location(nonce, evidence.KindLiveApply),
		},
	}

	// RECEIVED → CHECKED: every check runs independently; the response
	// carries the full ordered list of failures for audit completeness.
	checks := c.evaluateChecks(settings, policy, checkInput{
		token:     req.Token,
		role:      req.Role,
		symbol:    req.Symbol,
		qty:       req.Qty,
		allowLive: req.AllowLive,
	})
	resp.TokenVerified = checks.tokenVerified
	resp.RbacOK = checks.rbacOK
	resp.GatesOK = checks.gatesOK
	resp.NotionalOK = checks.notionalOK

	if len(checks.reasons) > 0 {
		return c.reject(ctx, resp, req, checks.reasons, "rejected_policy")
	}

	// CHECKED → DEDUPED: atomic check-and-set; a live record replays its
	// outcome with no new work and no breaker slot consumed.
	rec, duplicate := c.Idem.Begin(key, ttl)
	if duplicate {
		if rec.Done {
			if cached, ok := rec.Result.(*ApplyResponse); ok {
				replay := *cached
				replay.Idempotency.WasDuplicate = true
				replay.HTTPStatus = http.StatusOK
				c.Metrics.ApplyOutcomes.WithLabelValues("duplicate").Inc()
				return &replay
			}
		}
		// Placeholder still in flight: the first request holds the slot.
		resp.Idempotency.WasDuplicate = true
		resp.Accepted = false
		resp.Reason = ReasonDuplicatePending
		c.Metrics.ApplyOutcomes.WithLabelValues("duplicate").Inc()
		return resp
	}

	// DEDUPED → breaker check: independent of all policy checks.
	if c.Breaker.Tripped() {
		resp.Breaker = c.Breaker.Telemetry()
		c.Metrics.BreakerTrips.Inc()
		out := c.reject(ctx, resp, req, []string{ReasonBreakerTripped}, "breaker_tripped")
		// The rejection is cached on the placeholder: the same key within TTL
		// replays this outcome instead of re-executing; a fresh key may retry
		// once the window clears.
		c.Idem.Complete(key, out)
		return out
	}

	// → EXECUTING
	c.Breaker.Register()
	resp.Breaker = c.Breaker.Telemetry()

	order, err := c.Placer.Place(ctx, exchange.OrderRequest{
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Side:          req.Side,
		ClientOrderID: clientOrderID(key),
	})
	resp.Order = order

	if err != nil {
		out := c.applyFailure(ctx, resp, req, err)
		c.Idem.Complete(key, out)
		return out
	}

	// → SUCCEEDED
	resp.Accepted = true
	resp.Reason = ReasonOK
	c.Metrics.ApplyOutcomes.WithLabelValues("succeeded").Inc()
	if order != nil && order.AckMs > 0 {
		c.Metrics.AckLatencyMs.Observe(float64(order.AckMs))
	}

	c.adviseKillSwitch(ctx, policy)
	c.writeEvidence(nonce, resp)
	c.Idem.Complete(key, resp)

	log.Info().Str("nonce", nonce).Str("symbol", req.Symbol).
		Str("order_id", orderID(order)).Msg("Live apply succeeded")
	return resp
}

type checkInput struct {
	token     string
	role      string
	symbol    string
	qty       float64
	allowLive bool
}

type checkResult struct {
	tokenVerified bool
	rbacOK        bool
	gatesOK       bool
	notionalOK    bool
	notional      float64
	reasons       []string
}

// evaluateChecks runs every admission check independently and collects all
// failures in a stable order; no short-circuiting, so the audit trail names
// every violated rule, not just the first.
func (c *Controller) evaluateChecks(settings *config.Settings, policy guardrail.Policy, in checkInput) checkResult {
	var res checkResult

	res.tokenVerified = constantTimeEqual(in.token, settings.RBAC.ConfirmToken)
	res.rbacOK = in.role != "" && strings.EqualFold(in.role, settings.RBAC.RequiredRole)
	res.gatesOK = c.gatesForLatest().GatesOK
	res.notional = in.qty * settings.PriceHintUSDT

	aboveMin := res.notional >= settings.MinNotional
	withinCap := policy.NotionalAllowed(res.notional)
	res.notionalOK = aboveMin && withinCap

	if !res.tokenVerified {
		res.reasons = append(res.reasons, ReasonTokenInvalid)
	}
	if !res.rbacOK {
		res.reasons = append(res.reasons, ReasonRBACDenied)
	}
	if settings.KillSwitch || !policy.TradingAllowed() {
		res.reasons = append(res.reasons, ReasonKillSwitch)
	}
	if !res.gatesOK {
		res.reasons = append(res.reasons, ReasonGatesFail)
	}
	if !policy.SymbolAllowed(in.symbol) {
		res.reasons = append(res.reasons, ReasonSymbolDenied)
	}
	if !aboveMin {
		res.reasons = append(res.reasons, ReasonNotionalLtMin)
	} else if !withinCap {
		res.reasons = append(res.reasons, ReasonNotionalCap)
	}
	if !in.allowLive {
		// Defense in depth: a missing or false flag rejects even when every
		// other check passes.
		res.reasons = append(res.reasons, ReasonAllowLiveFalse)
	}
	return res
}

func (c *Controller) reject(ctx context.Context, resp *ApplyResponse, req ApplyRequest, reasons []string, outcome string) *ApplyResponse {
	resp.Accepted = false
	resp.Reason = JoinReasons(reasons)
	c.countBlocks(reasons, req.Symbol)
	c.Metrics.ApplyOutcomes.WithLabelValues(outcome).Inc()
	c.writeEvidence(resp.Nonce, resp)
	return resp
}

// applyFailure maps adapter errors onto the response, preserving whatever
// telemetry was measured before the failure.
func (c *Controller) applyFailure(ctx context.Context, resp *ApplyResponse, req ApplyRequest, err error) *ApplyResponse {
	var rej *exchange.RejectError
	var prov *exchange.ProviderError

	switch {
	case errors.As(err, &rej) && rej.Code == exchange.RejectLiveDisabled:
		resp.HTTPStatus = http.StatusPreconditionFailed
		return c.reject(ctx, resp, req, []string{ReasonLiveDisabled}, "live_disabled")
	case errors.As(err, &rej):
		return c.reject(ctx, resp, req, []string{rej.Code}, "rejected_adapter")
	case errors.As(err, &prov):
		resp.HTTPStatus = http.StatusBadGateway
		resp.Error = prov.Detail
		return c.reject(ctx, resp, req, []string{ReasonExchangeError}, "exchange_error")
	default:
		resp.HTTPStatus = http.StatusBadGateway
		resp.Error = err.Error()
		return c.reject(ctx, resp, req, []string{ReasonExchangeError}, "exchange_error")
	}
}

// gatesForLatest evaluates the promotion gate against the newest evidence.
// Missing or corrupt artifacts degrade to Unknown and fail closed.
func (c *Controller) gatesForLatest() canary.Result {
	nonce, ok := c.Evidence.LatestNonce()
	if !ok {
		return canary.Evaluate(canary.Observation{}, canary.DefaultThresholds())
	}

	th := canary.DefaultThresholds()
	var plan canary.PlanArtifact
	if c.Evidence.Read(nonce, evidence.KindPlan, &plan) {
		th = canary.Normalize(plan.Thresholds)
	}

	var lat canary.LatencyArtifact
	c.Evidence.Read(nonce, evidence.KindLatency, &lat)
	return canary.Evaluate(lat.Metrics, th)
}

func (c *Controller) countBlocks(reasons []string, symbol string) {
	for _, r := range reasons {
		c.Metrics.GuardrailBlocks.WithLabelValues(r, symbol).Inc()
	}
}

// adviseKillSwitch logs and counts the advisory trigger; flipping the switch
// stays an operator decision.
func (c *Controller) adviseKillSwitch(ctx context.Context, policy guardrail.Policy) {
	stats, err := c.Audit.Stats(ctx)
	if err != nil {
		return
	}
	if policy.ShouldTriggerKillSwitch(stats.P95AckMs, stats.ErrorRate) {
		c.Metrics.KillSwitchAdvice.Inc()
		log.Warn().Float64("p95_ack_ms", stats.P95AckMs).
			Float64("error_rate", stats.ErrorRate).
			Msg("Observed SLOs advise engaging the kill switch")
	}
}

func (c *Controller) writeEvidence(nonce string, resp *ApplyResponse) {
	if err := c.Evidence.Write(nonce, evidence.KindLiveApply, resp); err != nil {
		log.Error().Err(err).Str("nonce", nonce).Msg("Failed to write live_apply evidence")
	}
}

func clientOrderID(idemKey string) string {
	id := strings.ReplaceAll(idemKey, ":", "-")
	if len(id) > 32 {
		id = id[:32]
	}
	return "lg-" + id
}

func orderID(r *exchange.Result) string {
	if r == nil {
		return ""
	}
	return r.OrderID
}

// simulatedObservation is the dry-run sample: all gates measured and passing.
func simulatedObservation() canary.Observation {
	return canary.Observation{
		AckP95Ms:       canary.Number(800),
		EventToDBP95Ms: canary.Number(250),
		IngestLagP95S:  canary.Number(1.5),
		SeqGapTotal:    canary.Number(0),
		SlippageP95Bps: canary.Number(12),
	}
}

// constantTimeEqual compares the presented token to the configured secret
// without leaking length-prefix timing. Empty configured secrets never
// verify.
func constantTimeEqual(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
