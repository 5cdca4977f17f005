package billing

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records []UsageRecord
}

func NewMemoryStore(seed ...UsageRecord) *MemoryStore {
	return &MemoryStore{records: append([]UsageRecord(nil), seed...)}
}

func (s *MemoryStore) Load(ctx context.Context) ([]UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UsageRecord(nil), s.records...), nil
}

func (s *MemoryStore) Append(ctx context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
