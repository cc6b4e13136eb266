// Package audit keeps the order audit trail: one record per order attempt
// with measured latencies and error codes. Aggregate stats feed the advisory
// kill-switch signal and the status endpoint.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one order attempt.
type Record struct {
	ID             string    `json:"id" db:"id"`
	TS             time.Time `json:"ts" db:"ts"`
	Mode           string    `json:"mode" db:"mode"`
	Symbol         string    `json:"symbol" db:"symbol"`
	Route          string    `json:"route" db:"route"`
	ClientOrderID  string    `json:"clientOrderId" db:"client_order_id"`
	Side           string    `json:"side" db:"side"`
	Qty            float64   `json:"qty" db:"qty"`
	NotionalUSDT   float64   `json:"notionalUsdt" db:"notional_usdt"`
	Status         string    `json:"status" db:"status"` // placed|acked|filled|rejected|timeout
	ErrorCode      string    `json:"errorCode,omitempty" db:"error_code"`
	PlaceLatencyMs int64     `json:"placeLatencyMs" db:"place_latency_ms"`
	PersistMs      int64     `json:"persistMs" db:"persist_ms"`
}

// Stats aggregates the stored records.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByMode       map[string]int `json:"byMode"`
	ErrorRate    float64        `json:"errorRate"`
	AvgLatencyMs float64        `json:"avgLatencyMs"`
	P95AckMs     float64        `json:"p95AckMs"`
}

// Store is the audit backend.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Stats(ctx context.Context) (Stats, error)
	RecentErrors(ctx context.Context, limit int) ([]Record, error)
}

const memoryMaxRecords = 10000

// MemoryStore is the default in-process backend, capped at the most recent
// records.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create appends a record, assigning an ID and timestamp when unset.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = "audit-" + uuid.New().String()[:8]
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > memoryMaxRecords {
		s.records = s.records[len(s.records)-memoryMaxRecords:]
	}
	return nil
}

// Stats aggregates all retained records.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:    len(s.records),
		ByStatus: make(map[string]int),
		ByMode:   make(map[string]int),
	}

	var latencies []float64
	var totalLatency float64
	errors := 0
	for _, r := range s.records {
		stats.ByStatus[r.Status]++
		stats.ByMode[r.Mode]++
		if r.PlaceLatencyMs > 0 {
			latencies = append(latencies, float64(r.PlaceLatencyMs))
			totalLatency += float64(r.PlaceLatencyMs)
		}
		if r.Status == "rejected" || r.Status == "timeout" {
			errors++
		}
	}
	if len(latencies) > 0 {
		stats.AvgLatencyMs = totalLatency / float64(len(latencies))
		stats.P95AckMs = percentile(latencies, 0.95)
	}
	if stats.Total > 0 {
		stats.ErrorRate = float64(errors) / float64(stats.Total)
	}
	return stats, nil
}

// RecentErrors returns the newest rejected/timeout records, newest first.
func (s *MemoryStore) RecentErrors(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.Status == "rejected" || r.Status == "timeout" {
			out = append(out, r)
		}
	}
	return out, nil
}

// percentile returns the q-quantile by rank, matching the parity harness:
// floor(q*n) index on the sorted sample.
func percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	i := int(q * float64(len(s)))
	if i >= len(s) {
		i = len(s) - 1
	}
	return s[i]
}
