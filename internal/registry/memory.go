package registry

import (
	"context"
	"sync"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/timelock"
)

// Memory is an in-memory Registry. It takes part in a txn.Journal through
// Snapshot.
type Memory struct {
	mu    sync.RWMutex
	swaps map[string]*Swap
	order []string
	nonce uint64
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{swaps: make(map[string]*Swap)}
}

// Snapshot implements txn.Snapshotter.
func (m *Memory) Snapshot() func() {
	m.mu.RLock()
	swaps := make(map[string]*Swap, len(m.swaps))
	for id, s := range m.swaps {
		swaps[id] = s.Clone()
	}
	order := append([]string(nil), m.order...)
	nonce := m.nonce
	m.mu.RUnlock()

	return func() {
		m.mu.Lock()
		m.swaps = swaps
		m.order = order
		m.nonce = nonce
		m.mu.Unlock()
	}
}

func (m *Memory) Create(_ context.Context, s *Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.swaps[s.ID]; ok {
		return ErrExists
	}
	m.swaps[s.ID] = s.Clone()
	m.order = append(m.order, s.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.swaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) Update(_ context.Context, s *Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.swaps[s.ID]
	if !ok {
		return ErrNotFound
	}
	if err := CheckTransition(cur.State, s.State); err != nil {
		return err
	}
	m.swaps[s.ID] = s.Clone()
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Swap
	for _, id := range m.order {
		s := m.swaps[id]
		if !f.match(s) {
			continue
		}
		out = append(out, s.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Expired(_ context.Context, now time.Time, after string, limit int) ([]*Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := m.order
	if after != "" {
		order = nil
		for i, id := range m.order {
			if id == after {
				order = m.order[i+1:]
				break
			}
		}
	}
	var out []*Swap
	for _, id := range order {
		s := m.swaps[id]
		if s.State != StateInitiated || !timelock.Expired(now, s.Deadline()) {
			continue
		}
		out = append(out, s.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) NextNonce(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce++
	return m.nonce, nil
}
