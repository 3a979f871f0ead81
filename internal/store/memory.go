package store

import (
	"context"
	"sync"

	"khatma/internal/domain"
)

// Memory keeps the snapshot in process. Load and Save copy so callers get
// the same isolation a persistent backend gives them.
type Memory struct {
	mu   sync.Mutex
	snap  *domain.Snapshot
	saves int
}

func NewMemory() *Memory {
	return &Memory{snap: domain.NewSnapshot()}
}

func (m *Memory) Load(ctx context.Context) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, s *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s.Clone()
	m.saves++
	return nil
}

// SaveCount returns how many times Save succeeded.
func (m *Memory) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
