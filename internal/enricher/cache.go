package enricher

import (
	"hash/fnv"
	"sync"
	"time"

	"solescan/internal/scoring"
)

const memoShards = 16

// scoreEntry memoizes the expensive per-product reads: the demand breakdown
// and the sell-side volatility. Lookback is part of the identity so a config
// change does not serve stale scores.
type scoreEntry struct {
	demand     scoring.DemandBreakdown
	volatility float64
	lookback   int
	storedAt   time.Time
}

type memoShard struct {
	mu      sync.Mutex
	entries map[string]scoreEntry
}

// memo is a sharded TTL cache keyed by product id.
type memo struct {
	ttl    time.Duration
	shards [memoShards]memoShard
}

func newMemo(ttl time.Duration) *memo {
	m := &memo{ttl: ttl}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]scoreEntry)
	}
	return m
}

func (m *memo) shard(productID string) *memoShard {
	h := fnv.New32a()
	h.Write([]byte(productID))
	return &m.shards[h.Sum32()%memoShards]
}

func (m *memo) get(productID string, lookback int, now time.Time) (scoreEntry, bool) {
	s := m.shard(productID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[productID]
	if !ok || e.lookback != lookback || now.Sub(e.storedAt) >= m.ttl {
		return scoreEntry{}, false
	}
	return e, true
}

func (m *memo) put(productID string, e scoreEntry) {
	s := m.shard(productID)
	s.mu.Lock()
	s.entries[productID] = e
	s.mu.Unlock()
}

// invalidate drops the product's entry, reporting whether one existed.
func (m *memo) invalidate(productID string) bool {
	s := m.shard(productID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[productID]; !ok {
		return false
	}
	delete(s.entries, productID)
	return true
}

// sweep removes expired entries and returns how many were dropped.
func (m *memo) sweep(now time.Time) int {
	dropped := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if now.Sub(e.storedAt) >= m.ttl {
				delete(s.entries, id)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}
