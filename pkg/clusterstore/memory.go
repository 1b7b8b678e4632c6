package clusterstore

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore keeps records in a map. It backs tests and the
// --no-persist daemon mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (s *MemoryStore) StoreCluster(record *Record) error {
	if record.ID == "" {
		return errors.New("cluster record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

func (s *MemoryStore) ReloadCluster(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) RemoveCluster(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) ListClusters() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		copied := *record
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
