// Package evidence provides durable, nonce-scoped JSON artifact storage for
// canary runs: canary/<nonce>/{latency,plan,live_plan,live_apply}.json.
// A nonce groups one run's artifacts and sorts lexicographically by creation
// time. Single-writer-per-nonce is the contract; the filesystem adapter
// additionally serializes same-nonce writes.
package evidence

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Kind names one artifact within a nonce directory.
type Kind string

const (
	KindLatency   Kind = "latency"
	KindPlan      Kind = "plan"
	KindLivePlan  Kind = "live_plan"
	KindLiveApply Kind = "live_apply"
)

// Store abstracts the evidence backend. Read reports false, never an error,
// when an artifact is absent or unparsable: callers must treat a miss as
// "unknown", not as zero.
type Store interface {
	// NewNonce mints a fresh time-ordered nonce.
	NewNonce() string

	// LatestNonce returns the lexicographically greatest nonce that holds a
	// plan artifact, or false if none exists.
	LatestNonce() (string, bool)

	// Read decodes the artifact into out; false on absence or corruption.
	Read(nonce string, kind Kind, out any) bool

	// Write replaces the artifact atomically.
	Write(nonce string, kind Kind, v any) error

	// NonceRoot is the run's evidence location (directory path or key prefix).
	NonceRoot(nonce string) string

	// Location is the artifact's address (file path or key).
	Location(nonce string, kind Kind) string
}

// NewNonce builds a UTC compact timestamp with a short random suffix. The
// timestamp prefix keeps nonces sortable by creation time; the suffix keeps
// two runs in the same second from colliding.
func NewNonce(now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble; a
		// degenerate suffix still yields a usable, ordered nonce.
		buf = []byte{0, 0, 0}
	}
	return now.UTC().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
