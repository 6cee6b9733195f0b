package history

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and any target where the
// ledger does not live in the database itself.
type Memory struct {
	mu      sync.Mutex
	records []Record
	index   map[string]int
}

func NewMemory() *Memory {
	return &Memory{index: map[string]int{}}
}

func (m *Memory) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[rec.UnitID]; ok {
		m.records[i] = *rec
		return nil
	}
	m.index[rec.UnitID] = len(m.records)
	m.records = append(m.records, *rec)
	return nil
}

func (m *Memory) Records(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}
