package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/seedcheck/validator-cli/internal/model"
)

// signalStore keeps recently gathered social evidence in process memory,
// keyed by normalized keyword. The source router consults it as a secondary
// path when the preferred acquisition path comes back thin.
type signalStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxKeys int
	entries map[string]signalEntry
	now     func() time.Time
}

type signalEntry struct {
	evidence model.SocialEvidence
	storedAt time.Time
}

const (
	defaultSignalTTL  = 30 * time.Minute
	defaultSignalKeys = 256
)

func newSignalStore() *signalStore {
	return &signalStore{
		ttl:     defaultSignalTTL,
		maxKeys: defaultSignalKeys,
		entries: make(map[string]signalEntry),
		now:     time.Now,
	}
}

// Record stores evidence for a keyword, replacing any previous entry. When
// the map is full the stalest entry is evicted.
func (s *signalStore) Record(keyword string, evidence model.SocialEvidence) {
	if evidence.Empty() {
		return
	}
	key := signalKey(keyword)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxKeys {
		s.evictStalest()
	}
	s.entries[key] = signalEntry{evidence: evidence, storedAt: s.now()}
}

// Lookup returns stored evidence for a keyword, or empty evidence when the
// entry is missing or expired.
func (s *signalStore) Lookup(keyword string) model.SocialEvidence {
	key := signalKey(keyword)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || s.now().Sub(entry.storedAt) > s.ttl {
		return model.SocialEvidence{}
	}
	return entry.evidence
}

func (s *signalStore) evictStalest() {
	var stalest string
	var stalestAt time.Time
	for k, e := range s.entries {
		if stalest == "" || e.storedAt.Before(stalestAt) {
			stalest = k
			stalestAt = e.storedAt
		}
	}
	if stalest != "" {
		delete(s.entries, stalest)
	}
}

func signalKey(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}
