package projector

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"schedcal/internal/filter"
)

const defaultMemoEntries = 256

// Memo caches projections keyed purely by their inputs: snapshot version,
// window, view and filter criteria. It never expires entries by time, so
// a stale result is only possible if the version does not change when the
// events do.
type Memo struct {
	mu         sync.Mutex
	entries    map[string]*memoEntry
	maxEntries int
	clock      uint64
	hits       uint64
	misses     uint64
}

type memoEntry struct {
	value    Projection
	lastUsed uint64
}

// MemoStats reports cache effectiveness.
type MemoStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func NewMemo(maxEntries int) *Memo {
	if maxEntries <= 0 {
		maxEntries = defaultMemoEntries
	}
	return &Memo{
		entries:    make(map[string]*memoEntry),
		maxEntries: maxEntries,
	}
}

// MemoKey hashes every input that influences a projection.
func MemoKey(version string, windowStart, windowEnd time.Time, view string, c filter.Criteria) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(windowStart.Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(windowEnd.Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(view))
	h.Write([]byte{0})
	h.Write([]byte(c.Key()))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// GetOrCompute returns the cached projection for key, calling compute on a
// miss. compute runs without the lock held; concurrent misses for the same
// key may both compute, which is harmless because projection is pure.
func (m *Memo) GetOrCompute(key string, compute func() Projection) Projection {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		m.clock++
		e.lastUsed = m.clock
		m.hits++
		v := e.value
		m.mu.Unlock()
		return v
	}
	m.misses++
	m.mu.Unlock()

	v := compute()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++
	m.entries[key] = &memoEntry{value: v, lastUsed: m.clock}
	if len(m.entries) > m.maxEntries {
		m.evictOldest()
	}
	return v
}

// Reset drops every entry; used when the event store reports a new version.
func (m *Memo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoEntry)
}

func (m *Memo) Stats() MemoStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemoStats{Entries: len(m.entries), Hits: m.hits, Misses: m.misses}
}

func (m *Memo) evictOldest() {
	var oldestKey string
	var oldest uint64
	first := true
	for k, e := range m.entries {
		if first || e.lastUsed < oldest {
			oldestKey, oldest, first = k, e.lastUsed, false
		}
	}
	delete(m.entries, oldestKey)
}
