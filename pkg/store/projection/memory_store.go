package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

// MemoryStore implements Store in process memory. FailNext, when set, makes
// the next create call return that error; tests use it to exercise the
// accepted-but-not-projected path.
type MemoryStore struct {
	mu       sync.RWMutex
	rows     map[contracts.Type][]Row
	index    map[contracts.Type]map[string]int
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[contracts.Type][]Row),
		index: make(map[contracts.Type]map[string]int),
	}
}

func (m *MemoryStore) create(r Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	kind := r.Kind()
	idx, ok := m.index[kind]
	if !ok {
		idx = make(map[string]int)
		m.index[kind] = idx
	}
	if _, exists := idx[r.RowID()]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, kind, r.RowID())
	}
	idx[r.RowID()] = len(m.rows[kind])
	m.rows[kind] = append(m.rows[kind], r)
	return nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, r *OrderRow) error       { return m.create(r) }
func (m *MemoryStore) CreatePulse(ctx context.Context, r *PulseRow) error       { return m.create(r) }
func (m *MemoryStore) CreateDecision(ctx context.Context, r *DecisionRow) error { return m.create(r) }
func (m *MemoryStore) CreateIntent(ctx context.Context, r *IntentRow) error     { return m.create(r) }
func (m *MemoryStore) CreateUplink(ctx context.Context, r *UplinkRow) error     { return m.create(r) }

func (m *MemoryStore) FindUnique(ctx context.Context, kind contracts.Type, id string) (Row, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.rows[kind][i], nil
}

func (m *MemoryStore) FindMany(ctx context.Context, kind contracts.Type, limit int) ([]Row, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	out := make([]Row, len(m.rows[kind]))
	copy(out, m.rows[kind])
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created().After(out[j].Created())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context, kind contracts.Type) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[kind]), nil
}

// Total counts rows across every kind.
func (m *MemoryStore) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rows := range m.rows {
		n += len(rows)
	}
	return n
}
