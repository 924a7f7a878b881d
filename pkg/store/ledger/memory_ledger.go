package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger implements Ledger in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
	clock   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return NewMemoryLedgerWithClock(time.Now)
}

func NewMemoryLedgerWithClock(clock func() time.Time) *MemoryLedger {
	return &MemoryLedger{byID: make(map[string]int), clock: clock}
}

func (m *MemoryLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[e.ContractID]; exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ContractID)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.clock()
	}
	e.CreatedAt = NormalizeTime(e.CreatedAt)

	m.byID[e.ContractID] = len(m.entries)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *MemoryLedger) FindByContractID(ctx context.Context, contractID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.byID[contractID]
	if !exists {
		return Entry{}, ErrNotFound
	}
	return m.entries[idx], nil
}

func (m *MemoryLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return SortAndLimit(m.entries, f), nil
}

func (m *MemoryLedger) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// SortAndLimit applies f to entries held in insertion order and returns the
// matches newest first. Ties on CreatedAt keep the later insertion first.
func SortAndLimit(entries []Entry, f Filter) []Entry {
	type indexed struct {
		e   Entry
		pos int
	}
	matched := make([]indexed, 0, len(entries))
	for i, e := range entries {
		if f.Matches(e) {
			matched = append(matched, indexed{e, i})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].e.CreatedAt.Equal(matched[j].e.CreatedAt) {
			return matched[i].e.CreatedAt.After(matched[j].e.CreatedAt)
		}
		return matched[i].pos > matched[j].pos
	})
	limit := f.EffectiveLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Entry, len(matched))
	for i, m := range matched {
		out[i] = m.e
	}
	return out
}
