package sheets

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRowNotFound is returned when an item id is not in the store
var ErrRowNotFound = errors.New("row not found")

// RowStore is the single canonical collection of sheet rows
type RowStore interface {
	ReplaceAll(ctx context.Context, rows []Property, refreshedAt time.Time) error
	All(ctx context.Context) ([]Property, time.Time, error)
	Get(ctx context.Context, itemID string) (*Property, error)
	SetCell(ctx context.Context, itemID, field, raw string) error
}

// MemoryStore keeps rows in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	rows        map[string]Property
	refreshedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Property)}
}

func (s *MemoryStore) ReplaceAll(_ context.Context, rows []Property, refreshedAt time.Time) error {
	next := make(map[string]Property, len(rows))
	for _, p := range rows {
		next[p.ID] = p.Clone()
	}

	s.mu.Lock()
	s.rows = next
	s.refreshedAt = refreshedAt
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) All(_ context.Context) ([]Property, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Property, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p.Clone())
	}
	sortByRow(out)
	return out, s.refreshedAt, nil
}

// Get returns (nil, nil) when the item is unknown
func (s *MemoryStore) Get(_ context.Context, itemID string) (*Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.rows[itemID]
	if !ok {
		return nil, nil
	}
	clone := p.Clone()
	return &clone, nil
}

func (s *MemoryStore) SetCell(_ context.Context, itemID, field, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.rows[itemID]
	if !ok {
		return ErrRowNotFound
	}
	p.Set(field, raw)
	s.rows[itemID] = p
	return nil
}

func sortByRow(rows []Property) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })
}
