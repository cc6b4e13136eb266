package guardrail

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/livegate/internal/config"
)

// Holder owns the process-wide settings snapshot. Readers get a stable
// pointer; writers replace the whole snapshot, never individual fields.
type Holder struct {
	ptr atomic.Pointer[config.Settings]
}

// NewHolder seeds the holder with the initial snapshot.
func NewHolder(s config.Settings) *Holder {
	h := &Holder{}
	h.ptr.Store(&s)
	return h
}

// Current returns the active snapshot. The returned pointer must be treated
// as read-only.
func (h *Holder) Current() *config.Settings {
	return h.ptr.Load()
}

// Replace swaps in a new snapshot derived from the current one. mutate
// receives a copy by value, so the swap is atomic and old readers keep a
// consistent view.
func (h *Holder) Replace(mutate func(config.Settings) config.Settings) {
	cur := h.ptr.Load()
	next := mutate(*cur)
	h.ptr.Store(&next)
}

// TripKillSwitch replaces the snapshot with the kill switch set. Used when an
// operator or an advisory trigger decides to halt trading.
func (h *Holder) TripKillSwitch(reason string) {
	h.Replace(func(s config.Settings) config.Settings {
		s.KillSwitch = true
		return s
	})
	log.Warn().Str("reason", reason).Msg("Kill switch engaged")
}
