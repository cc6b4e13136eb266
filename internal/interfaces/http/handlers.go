package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/livegate/internal/apply"
	"github.com/sawpanic/livegate/internal/audit"
	"github.com/sawpanic/livegate/internal/breaker"
	"github.com/sawpanic/livegate/internal/canary"
	"github.com/sawpanic/livegate/internal/evidence"
	"github.com/sawpanic/livegate/internal/exchange"
	"github.com/sawpanic/livegate/internal/guardrail"
	"github.com/sawpanic/livegate/internal/idempotency"
)

// Confirmation headers; compared, never issued, by this service.
const (
	headerConfirmToken = "x-confirm-token"
	headerUserRole     = "x-user-role"
)

// Handlers holds the request handlers and their collaborators.
type Handlers struct {
	Controller *apply.Controller
	Holder     *guardrail.Holder
	Audit      audit.Store
	Idem       *idempotency.Store
	Breaker    *breaker.Window
	Version    string
}

type canaryRunRequest struct {
	DryRun bool `json:"dryRun"`
}

// CanaryRun handles POST /canary/run. Always 200 on a policy outcome; the
// decision lives in the body.
func (h *Handlers) CanaryRun(w http.ResponseWriter, r *http.Request) {
	var req canaryRunRequest
	decodeBody(r, &req)

	resp, err := h.Controller.CanaryRun(r.Context(), req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "evidence_write_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type planRequest struct {
	Symbol    string  `json:"symbol"`
	Qty       float64 `json:"qty"`
	Side      string  `json:"side"`
	AllowLive bool    `json:"allowLive"`
	DryRun    bool    `json:"dryRun"`
}

// LiveTradePlan handles POST /canary/live-trade.plan.
func (h *Handlers) LiveTradePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	decodeBody(r, &req)

	side := exchange.SideBuy
	if req.Side != "" {
		parsed, ok := exchange.ParseSide(req.Side)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", nil)
			return
		}
		side = parsed
	}

	resp, err := h.Controller.Plan(r.Context(), apply.PlanRequest{
		Symbol:    req.Symbol,
		Qty:       req.Qty,
		Side:      side,
		AllowLive: req.AllowLive,
		DryRun:    req.DryRun,
		Token:     r.Header.Get(headerConfirmToken),
		Role:      r.Header.Get(headerUserRole),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "evidence_write_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type applyRequest struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	Side           string  `json:"side"`
	AllowLive      bool    `json:"allowLive"`
	IdempotencyKey string  `json:"idempotencyKey"`
	Traceparent    string  `json:"traceparent"`
}

// LiveApply handles POST /canary/live-apply. Required fields missing is the
// one true 400; every policy outcome is a 200 with reasons in the body, the
// adapter dry-run maps to 412, exchange failures to 502.
func (h *Handlers) LiveApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Symbol == "" || req.Qty <= 0 || req.Side == "" {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}
	side, ok := exchange.ParseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}

	resp := h.Controller.Apply(r.Context(), apply.ApplyRequest{
		Symbol:         req.Symbol,
		Qty:            req.Qty,
		Side:           side,
		AllowLive:      req.AllowLive,
		IdempotencyKey: req.IdempotencyKey,
		Traceparent:    r.Header.Get("traceparent"),
		Token:          r.Header.Get(headerConfirmToken),
		Role:           r.Header.Get(headerUserRole),
	})
	writeJSON(w, resp.HTTPStatus, resp)
}

// CanaryStatus handles GET /canary/status: current mode, gate state, breaker
// and audit telemetry for operators.
func (h *Handlers) CanaryStatus(w http.ResponseWriter, r *http.Request) {
	settings := h.Holder.Current()

	stats, err := h.Audit.Stats(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read audit stats for status")
	}

	nonce, ok := h.Controller.Evidence.LatestNonce()

	// report the thresholds the gate would actually apply
	th := canary.DefaultThresholds()
	if ok {
		var plan canary.PlanArtifact
		if h.Controller.Evidence.Read(nonce, evidence.KindPlan, &plan) {
			th = canary.Normalize(plan.Thresholds)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        settings.Mode,
		"killSwitch":  settings.KillSwitch,
		"liveSymbol":  settings.LiveSymbol,
		"thresholds":  th,
		"latestNonce": nonce,
		"breaker":     h.Breaker.Telemetry(),
		"idempotency": map[string]any{
			"ttlMin":      settings.Idempotency.TTLMin,
			"liveRecords": h.Idem.Len(),
		},
		"audit":     stats,
		"timestamp": time.Now().UTC(),
	})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   h.Version,
		"timestamp": time.Now().UTC(),
	})
}

// NotFound answers unknown routes in JSON.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": "not_found",
		"path":  r.URL.Path,
	})
}

// decodeBody tolerates empty bodies: every field of the optional request
// types has a safe zero value.
func decodeBody(r *http.Request, out any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	body := map[string]any{"error": code}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
