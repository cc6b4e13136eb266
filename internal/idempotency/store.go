// Package idempotency provides the process-wide dedup store for live-apply
// requests. Check-and-insert is a single atomic operation so two concurrent
// requests sharing a key can never both reach execution.
package idempotency

import (
	"sync"
	"time"
)

// Record tracks one apply attempt for a key. A record starts as a placeholder
// (Done=false) and is completed with the final outcome; within TTL every
// later apply with the same key replays that outcome.
type Record struct {
	Key       string
	CreatedAt time.Time
	TTL       time.Duration
	Done      bool
	Result    any
}

func (r *Record) expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > r.TTL
}

// Telemetry is the idempotency block included in apply responses.
type Telemetry struct {
	Key          string `json:"key"`
	WasDuplicate bool   `json:"wasDuplicate"`
	TTLMin       int    `json:"ttlMin"`
}

// Store is a mutex-guarded in-memory record map. Expired records are swept
// on access, making their keys reusable.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// NewStoreWithClock is for tests that need to control expiry.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

// Begin atomically looks up key and, if no live record exists, inserts a
// placeholder. Returns a snapshot of the record and whether it pre-existed.
func (s *Store) Begin(key string, ttl time.Duration) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	if rec, ok := s.records[key]; ok && !rec.expired(now) {
		return *rec, true
	}

	rec := &Record{Key: key, CreatedAt: now, TTL: ttl}
	s.records[key] = rec
	return *rec, false
}

// Complete stores the final outcome on the placeholder. No-op if the record
// already expired and was swept.
func (s *Store) Complete(key string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		rec.Done = true
		rec.Result = result
	}
}

// Len reports live records, sweeping expired ones first.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.records)
}

// caller holds s.mu
func (s *Store) sweep(now time.Time) {
	for key, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, key)
		}
	}
}
