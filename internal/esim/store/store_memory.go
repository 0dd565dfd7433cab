package store

import (
	"context"
	"sync"

	"simgate/internal/esim/models"
	id "simgate/pkg/domain"
	"simgate/pkg/platform/sentinel"
)

type orderLineKey struct {
	orderID id.OrderID
	sku     id.SKU
}

// MemoryStore is the in-memory Store used in development and tests. A single
// RW mutex serializes all writes, which trivially satisfies the per-entity
// serialization contract.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[id.EsimID]*models.Esim
	byLine      map[orderLineKey]id.EsimID
	byICCID     map[id.ICCID]id.EsimID
	byVendorRef map[id.VendorOrderRef]id.EsimID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[id.EsimID]*models.Esim),
		byLine:      make(map[orderLineKey]id.EsimID),
		byICCID:     make(map[id.ICCID]id.EsimID),
		byVendorRef: make(map[id.VendorOrderRef]id.EsimID),
	}
}

func (s *MemoryStore) Create(_ context.Context, e *models.Esim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orderLineKey{orderID: e.OrderID, sku: e.SKU}
	if _, exists := s.byLine[key]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byID[e.ID]; exists {
		return sentinel.ErrConflict
	}

	cp := cloneEsim(e)
	s.byID[e.ID] = cp
	s.byLine[key] = e.ID
	if !e.ICCID.IsNil() {
		s.byICCID[e.ICCID] = e.ID
	}
	if !e.VendorOrderRef.IsNil() {
		s.byVendorRef[e.VendorOrderRef] = e.ID
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, esimID id.EsimID) (*models.Esim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[esimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEsim(e), nil
}

func (s *MemoryStore) GetByOrderLine(_ context.Context, orderID id.OrderID, sku id.SKU) (*models.Esim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	esimID, ok := s.byLine[orderLineKey{orderID: orderID, sku: sku}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEsim(s.byID[esimID]), nil
}

func (s *MemoryStore) GetByICCID(_ context.Context, iccid id.ICCID) (*models.Esim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	esimID, ok := s.byICCID[iccid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEsim(s.byID[esimID]), nil
}

func (s *MemoryStore) GetByVendorOrderRef(_ context.Context, ref id.VendorOrderRef) (*models.Esim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	esimID, ok := s.byVendorRef[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEsim(s.byID[esimID]), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*models.Esim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Esim
	for _, e := range s.byID {
		if !f.OrderID.IsNil() && e.OrderID != f.OrderID {
			continue
		}
		if !f.UserID.IsNil() && e.UserID != f.UserID {
			continue
		}
		if !f.ICCID.IsNil() && e.ICCID != f.ICCID {
			continue
		}
		if f.State != "" && e.State != f.State {
			continue
		}
		out = append(out, cloneEsim(e))
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, esimID id.EsimID, mutate func(*models.Esim) error) (*models.Esim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[esimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	cp := cloneEsim(e)
	if err := mutate(cp); err != nil {
		return nil, err
	}

	// Correlation keys may be bound during the mutation (ICCID discovery);
	// reindex on change.
	if cp.ICCID != e.ICCID && !cp.ICCID.IsNil() {
		if other, taken := s.byICCID[cp.ICCID]; taken && other != esimID {
			return nil, sentinel.ErrConflict
		}
		s.byICCID[cp.ICCID] = esimID
	}
	if cp.VendorOrderRef != e.VendorOrderRef && !cp.VendorOrderRef.IsNil() {
		s.byVendorRef[cp.VendorOrderRef] = esimID
	}

	s.byID[esimID] = cp
	return cloneEsim(cp), nil
}

func cloneEsim(e *models.Esim) *models.Esim {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.ActivatedAt != nil {
		at := *e.ActivatedAt
		cp.ActivatedAt = &at
	}
	if e.DeactivatedAt != nil {
		at := *e.DeactivatedAt
		cp.DeactivatedAt = &at
	}
	if e.VendorProfile != nil {
		cp.VendorProfile = append([]byte(nil), e.VendorProfile...)
	}
	return &cp
}
