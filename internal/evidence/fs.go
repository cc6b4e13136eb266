package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FSStore is the filesystem evidence backend. Artifacts are pretty-printed
// UTF-8 JSON written via temp file + rename so readers never observe a
// partial write.
type FSStore struct {
	root string

	mu     sync.Mutex
	nonces map[string]*sync.Mutex
}

// NewFSStore roots the store at <root>/canary.
func NewFSStore(root string) *FSStore {
	return &FSStore{
		root:   root,
		nonces: make(map[string]*sync.Mutex),
	}
}

// NewNonce mints a time-ordered nonce.
func (s *FSStore) NewNonce() string {
	return NewNonce(time.Now())
}

// LatestNonce scans the canary directory for the greatest nonce containing a
// plan artifact.
func (s *FSStore) LatestNonce() (string, bool) {
	entries, err := os.ReadDir(s.base())
	if err != nil {
		return "", false
	}

	var nonces []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		planPath := filepath.Join(s.base(), e.Name(), string(KindPlan)+".json")
		if _, err := os.Stat(planPath); err == nil {
			nonces = append(nonces, e.Name())
		}
	}
	if len(nonces) == 0 {
		return "", false
	}
	sort.Strings(nonces)
	return nonces[len(nonces)-1], true
}

// Read decodes an artifact; false on absence or corruption.
func (s *FSStore) Read(nonce string, kind Kind, out any) bool {
	data, err := os.ReadFile(s.Location(nonce, kind))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Str("nonce", nonce).Str("kind", string(kind)).Err(err).
			Msg("Corrupt evidence artifact, treating as unknown")
		return false
	}
	return true
}

// Write replaces the artifact atomically. Same-nonce writes are serialized
// behind a per-nonce mutex so interleaved temp renames cannot clobber each
// other.
func (s *FSStore) Write(nonce string, kind Kind, v any) error {
	mu := s.nonceLock(nonce)
	mu.Lock()
	defer mu.Unlock()

	dir := s.NonceRoot(nonce)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create evidence dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}

	final := s.Location(nonce, kind)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp artifact: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to rename artifact: %w", err)
	}
	return nil
}

// NonceRoot returns the evidence directory for a nonce.
func (s *FSStore) NonceRoot(nonce string) string {
	return filepath.Join(s.base(), nonce)
}

// Location returns the artifact file path.
func (s *FSStore) Location(nonce string, kind Kind) string {
	return filepath.Join(s.NonceRoot(nonce), string(kind)+".json")
}

func (s *FSStore) base() string {
	return filepath.Join(s.root, "canary")
}

func (s *FSStore) nonceLock(nonce string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.nonces[nonce]
	if !ok {
		mu = &sync.Mutex{}
		s.nonces[nonce] = mu
	}
	return mu
}
