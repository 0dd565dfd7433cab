package audit

import (
	"context"
	"sync"

	id "simgate/pkg/domain"
)

// MemoryStore keeps activation log entries in memory for development and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) ListByEsim(_ context.Context, esimID id.EsimID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.EsimID == esimID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry in append order; test helper.
func (s *MemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// MemoryWebhookStore keeps raw webhook records in memory.
type MemoryWebhookStore struct {
	mu      sync.RWMutex
	records []WebhookRecord
}

func NewMemoryWebhookStore() *MemoryWebhookStore {
	return &MemoryWebhookStore{}
}

func (s *MemoryWebhookStore) Append(_ context.Context, rec WebhookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryWebhookStore) ListRecent(_ context.Context, limit int) ([]WebhookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]WebhookRecord, limit)
	copy(out, s.records[len(s.records)-limit:])
	return out, nil
}
