package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sawpanic/livegate/internal/apply"
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

const (
	testToken = "s3cret-token"
	testRole  = "operator"
)

func newTestServer(t *testing.T) (*Server, *apply.Controller) {
	t.Helper()

	s := config.Default()
	s.Mode = config.ModeLive
	s.MinNotional = 10
	s.PriceHintUSDT = 50000
	s.MaxNotionalPerSec = 1000
	s.VolumeRampPercent = 10
	s.LiveSymbol = "BTCUSDT"
	s.LiveTinyQty = 0.001
	s.RBAC.ConfirmToken = testToken
	s.RBAC.RequiredRole = testRole

	holder := guardrail.NewHolder(s)
	idem := idempotency.NewStore()
	window := breaker.New(60, 5)
	auditStore := audit.NewMemoryStore()
	m := metrics.New()

	ctrl := &apply.Controller{
		Holder:   holder,
		Evidence: evidence.NewFSStore(t.TempDir()),
		Idem:     idem,
		Breaker:  window,
		Placer:   exchange.NewSimulatedPlacer(3, 0.0001),
		Metrics:  m,
		Audit:    auditStore,
	}
	handlers := &Handlers{
		Controller: ctrl,
		Holder:     holder,
		Audit:      auditStore,
		Idem:       idem,
		Breaker:    window,
		Version:    "test",
	}

	srv, err := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, handlers, m)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, ctrl
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authHeaders() map[string]string {
	return map[string]string{
		"x-confirm-token": testToken,
		"x-user-role":     testRole,
	}
}

func armGates(t *testing.T, ctrl *apply.Controller) {
	t.Helper()
	if _, err := ctrl.CanaryRun(context.Background(), true); err != nil {
		t.Fatalf("canary run: %v", err)
	}
}

func TestCanaryRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), "POST", "/canary/run", map[string]any{"dryRun": true}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp apply.RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Nonce == "" {
		t.Error("missing nonce")
	}
	if resp.Status != "ARMED" {
		t.Errorf("status = %s", resp.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
}

func TestCanaryRunEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), "POST", "/canary/run", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body must be tolerated, got %d", rec.Code)
	}
}

func TestLiveApplyHappyPath(t *testing.T) {
	srv, ctrl := newTestServer(t)
	armGates(t, ctrl)

	rec := doJSON(t, srv.Router(), "POST", "/canary/live-apply", map[string]any{
		"symbol":         "BTCUSDT",
		"qty":            0.001,
		"side":           "BUY",
		"allowLive":      true,
		"idempotencyKey": "h-1",
	}, authHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp apply.ApplyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Accepted || resp.Reason != "ok" {
		t.Errorf("accepted=%v reason=%q", resp.Accepted, resp.Reason)
	}
	if resp.Order == nil {
		t.Error("missing order")
	}
}

func TestLiveApplyPolicyRejectIs200(t *testing.T) {
	srv, ctrl := newTestServer(t)
	armGates(t, ctrl)

	// wrong token, missing allowLive: policy outcome, not a transport error
	rec := doJSON(t, srv.Router(), "POST", "/canary/live-apply", map[string]any{
		"symbol": "BTCUSDT",
		"qty":    0.001,
		"side":   "BUY",
	}, map[string]string{"x-confirm-token": "wrong", "x-user-role": testRole})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for policy rejection", rec.Code)
	}

	var resp apply.ApplyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Error("accepted with invalid token")
	}
	if resp.TokenVerified {
		t.Error("tokenVerified true for wrong token")
	}
}

func TestLiveApplyBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	testCases := []struct {
		name string
		body map[string]any
	}{
		{"missing symbol", map[string]any{"qty": 0.001, "side": "BUY"}},
		{"zero qty", map[string]any{"symbol": "BTCUSDT", "side": "BUY"}},
		{"negative qty", map[string]any{"symbol": "BTCUSDT", "qty": -1.0, "side": "BUY"}},
		{"missing side", map[string]any{"symbol": "BTCUSDT", "qty": 0.001}},
		{"bad side", map[string]any{"symbol": "BTCUSDT", "qty": 0.001, "side": "LONG"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv.Router(), "POST", "/canary/live-apply", tc.body, authHeaders())
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestLiveApplyMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/canary/live-apply", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLiveTradePlanDefaults(t *testing.T) {
	srv, ctrl := newTestServer(t)
	armGates(t, ctrl)

	rec := doJSON(t, srv.Router(), "POST", "/canary/live-trade.plan", map[string]any{
		"allowLive": true,
	}, authHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp apply.PlanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Accepted {
		t.Fatalf("rejected: %s", resp.Reason)
	}
	if resp.WouldPlace == nil || resp.WouldPlace.Symbol != "BTCUSDT" {
		t.Errorf("wouldPlace = %+v", resp.WouldPlace)
	}
}

func TestCanaryStatusEndpoint(t *testing.T) {
	srv, ctrl := newTestServer(t)
	armGates(t, ctrl)

	rec := doJSON(t, srv.Router(), "GET", "/canary/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["mode"] != "live" {
		t.Errorf("mode = %v", resp["mode"])
	}
	if resp["latestNonce"] == "" {
		t.Error("missing latestNonce after a canary run")
	}
	if _, ok := resp["breaker"]; !ok {
		t.Error("missing breaker telemetry")
	}
}

func TestCanaryStatusReportsPlanThresholds(t *testing.T) {
	srv, ctrl := newTestServer(t)

	th := canary.DefaultThresholds()
	th.AckP95Ms = 750
	nonce := ctrl.Evidence.NewNonce()
	if err := ctrl.Evidence.Write(nonce, evidence.KindPlan, canary.PlanArtifact{
		Nonce:      nonce,
		Thresholds: th,
		Gates:      canary.Evaluate(canary.Observation{}, th),
	}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Router(), "GET", "/canary/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Thresholds canary.Thresholds `json:"thresholds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Thresholds.AckP95Ms != 750 {
		t.Errorf("ack threshold = %v, want the stored plan's 750", resp.Thresholds.AckP95Ms)
	}
	if resp.Thresholds.EventToDBP95Ms != canary.DefaultEventToDBP95Ms {
		t.Errorf("unset threshold not normalized: %v", resp.Thresholds.EventToDBP95Ms)
	}
}

func TestHealthAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	rec = doJSON(t, srv.Router(), "GET", "/no/such/route", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("not-found body not JSON: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), "GET", "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "application/json; charset=utf-8" {
		t.Error("metrics endpoint forced to JSON content type")
	}
}
