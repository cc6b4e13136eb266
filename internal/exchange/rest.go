package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/livegate/internal/audit"
	"github.com/sawpanic/livegate/internal/config"
)

// RESTAdapter places orders against a Binance-testnet-style REST venue.
// Every network interaction carries an explicit timeout; the fill poll is
// bounded and cancellable.
type RESTAdapter struct {
	cfg          config.ExchangeConfig
	driftMaxMs   float64
	mode         string
	httpc        *http.Client
	breaker      *gobreaker.CircuitBreaker
	limiter      *rate.Limiter
	audit        audit.Store

	driftMu sync.Mutex
	driftMs float64
	driftAt time.Time

	now func() time.Time
}

// NewRESTAdapter builds the adapter. auditStore receives the local trade
// record whose write is timed as event_to_db_ms.
func NewRESTAdapter(cfg config.ExchangeConfig, driftMaxMs float64, mode string, auditStore audit.Store) *RESTAdapter {
	st := gobreaker.Settings{Name: "exchange-rest"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}

	return &RESTAdapter{
		cfg:        cfg,
		driftMaxMs: driftMaxMs,
		mode:       mode,
		httpc:      &http.Client{Timeout: cfg.HTTPTimeout()},
		breaker:    gobreaker.NewCircuitBreaker(st),
		limiter:    rate.NewLimiter(rate.Limit(cfg.SubmitPerSec), cfg.SubmitBurst),
		audit:      auditStore,
		now:        time.Now,
	}
}

// Place rounds, pre-checks, submits, persists, and polls for fill.
func (a *RESTAdapter) Place(ctx context.Context, req OrderRequest) (*Result, error) {
	qty := decimal.NewFromFloat(req.Qty).RoundFloor(a.cfg.QtyScale)
	minQty := decimal.NewFromFloat(a.cfg.MinQty)

	res := &Result{
		Provider: "binance-testnet",
		Symbol:   req.Symbol,
		Qty:      qty.InexactFloat64(),
		Side:     req.Side,
		TS:       a.now().UTC(),
	}

	// Rounding to venue scale can zero out a tiny quantity; reject before any
	// network call.
	if qty.IsZero() || qty.LessThan(minQty) {
		return nil, &RejectError{
			Code:   RejectMinQty,
			Detail: fmt.Sprintf("rounded qty %s below venue minimum %s", qty, minQty),
		}
	}

	if !a.cfg.LiveEnabled {
		res.Status = "PRECONDITION_FAILED"
		return res, &RejectError{Code: RejectLiveDisabled, Detail: "live execution disabled at adapter level"}
	}

	drift, err := a.ClockDriftMs(ctx)
	if err != nil {
		// Unknown drift is treated as excessive drift: live submission stays
		// suppressed until the venue clock can be read again.
		return res, &RejectError{Code: RejectClockDrift, Detail: fmt.Sprintf("server time unavailable: %v", err)}
	}
	if math.Abs(drift) > a.driftMaxMs {
		log.Warn().Float64("drift_ms", drift).Float64("max_ms", a.driftMaxMs).
			Msg("Clock drift exceeds tolerance, suppressing live submission")
		return res, &RejectError{Code: RejectClockDrift, Detail: fmt.Sprintf("drift %.0fms exceeds %.0fms", drift, a.driftMaxMs)}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return res, &ProviderError{StatusCode: 0, Detail: fmt.Sprintf("submit rate wait: %v", err)}
	}

	submitStart := a.now()
	ack, err := a.submit(ctx, req.Symbol, qty, req.Side, req.ClientOrderID)
	res.AckMs = a.now().Sub(submitStart).Milliseconds()
	if err != nil {
		res.Status = "ERROR"
		a.record(ctx, req, qty, res, "rejected", errCode(err))
		return res, err
	}
	res.OrderID = ack.orderID
	res.Status = ack.status

	persistStart := a.now()
	a.record(ctx, req, qty, res, "acked", "")
	res.EventToDBMs = a.now().Sub(persistStart).Milliseconds()

	fillMs, filled := a.pollFill(ctx, req.Symbol, req.ClientOrderID)
	res.FillMs = fillMs
	if filled {
		res.Status = "FILLED"
	}
	return res, nil
}

type ackPayload struct {
	orderID string
	status  string
}

// submit posts the order through the breaker.
func (a *RESTAdapter) submit(ctx context.Context, symbol string, qty decimal.Decimal, side Side, clientOrderID string) (*ackPayload, error) {
	form := url.Values{}
	form.Set("symbol", symbol)
	form.Set("side", string(side))
	form.Set("type", "MARKET")
	form.Set("quantity", qty.String())
	form.Set("newClientOrderId", clientOrderID)

	out, err := a.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.cfg.BaseURL+"/api/v3/order", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if a.cfg.APIKey != "" {
			req.Header.Set("X-MBX-APIKEY", a.cfg.APIKey)
		}

		resp, err := a.httpc.Do(req)
		if err != nil {
			return nil, &ProviderError{StatusCode: 0, Detail: err.Error()}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if resp.StatusCode != http.StatusOK {
			return nil, &ProviderError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
		}

		var parsed struct {
			OrderID json.Number `json:"orderId"`
			Status  string      `json:"status"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &ProviderError{StatusCode: resp.StatusCode, Detail: "unparsable ack: " + err.Error()}
		}
		status := parsed.Status
		if status == "" {
			status = "NEW"
		}
		return &ackPayload{orderID: parsed.OrderID.String(), status: status}, nil
	})
	if err != nil {
		if _, ok := err.(*ProviderError); ok {
			return nil, err
		}
		// breaker-open and wrapped transport errors
		return nil, &ProviderError{StatusCode: 0, Detail: err.Error()}
	}
	return out.(*ackPayload), nil
}

// pollFill queries order status at a jittered fixed interval until a fill is
// observed, the hard timeout elapses, or the caller cancels. Always returns
// the elapsed time gathered so far.
func (a *RESTAdapter) pollFill(ctx context.Context, symbol, clientOrderID string) (int64, bool) {
	start := a.now()
	deadline := start.Add(a.cfg.FillPollTimeout())

	for {
		status, err := a.queryStatus(ctx, symbol, clientOrderID)
		if err == nil && status == "FILLED" {
			return a.now().Sub(start).Milliseconds(), true
		}

		now := a.now()
		if now.After(deadline) {
			return now.Sub(start).Milliseconds(), false
		}

		// ±25% jitter keeps concurrent gates from hammering the status
		// endpoint in lockstep.
		interval := a.cfg.FillPollInterval()
		jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(interval))
		select {
		case <-ctx.Done():
			return a.now().Sub(start).Milliseconds(), false
		case <-time.After(interval + jitter):
		}
	}
}

func (a *RESTAdapter) queryStatus(ctx context.Context, symbol, clientOrderID string) (string, error) {
	u := fmt.Sprintf("%s/api/v3/order?symbol=%s&origClientOrderId=%s",
		a.cfg.BaseURL, url.QueryEscape(symbol), url.QueryEscape(clientOrderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", a.cfg.APIKey)
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status query HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Status, nil
}

// ClockDriftMs returns the cached venue-vs-local clock offset, refreshing it
// when stale.
func (a *RESTAdapter) ClockDriftMs(ctx context.Context) (float64, error) {
	a.driftMu.Lock()
	defer a.driftMu.Unlock()

	if !a.driftAt.IsZero() && a.now().Sub(a.driftAt) < a.cfg.DriftMaxAge() {
		return a.driftMs, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	before := a.now()
	resp, err := a.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("time endpoint HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}

	local := before.UnixMilli()
	a.driftMs = float64(parsed.ServerTime - local)
	a.driftAt = a.now()
	log.Debug().Float64("drift_ms", a.driftMs).Msg("Refreshed venue clock drift")
	return a.driftMs, nil
}

func (a *RESTAdapter) record(ctx context.Context, req OrderRequest, qty decimal.Decimal, res *Result, status, errorCode string) {
	rec := audit.Record{
		Mode:           a.mode,
		Symbol:         req.Symbol,
		Route:          "spot.market",
		ClientOrderID:  req.ClientOrderID,
		Side:           string(req.Side),
		Qty:            qty.InexactFloat64(),
		Status:         status,
		ErrorCode:      errorCode,
		PlaceLatencyMs: res.AckMs,
	}
	if err := a.audit.Create(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to persist order audit record")
	}
}

func errCode(err error) string {
	if pe, ok := err.(*ProviderError); ok {
		return "HTTP_" + strconv.Itoa(pe.StatusCode)
	}
	return "ERR"
}
