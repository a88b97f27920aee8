package store

import (
	"context"
	"sync"
	"time"

	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
	"familyledger/pkg/platform/sentinel"
)

// InMemoryStore keeps records per tenant for tests and ephemeral runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.TenantID]map[id.TransactionID]models.StoredRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.TenantID]map[id.TransactionID]models.StoredRecord)}
}

func (s *InMemoryStore) Add(_ context.Context, tenantID id.TenantID, rec models.StoredRecord) error {
	if err := checkTenant(tenantID, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[tenantID]
	if !ok {
		byID = make(map[id.TransactionID]models.StoredRecord)
		s.records[tenantID] = byID
	}
	if _, exists := byID[rec.Meta().ID]; exists {
		return sentinel.ErrConflict
	}
	byID[rec.Meta().ID] = rec
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, tenantID id.TenantID, txID id.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[tenantID], txID)
	return nil
}

func (s *InMemoryStore) QueryByDateRange(_ context.Context, tenantID id.TenantID, start, end time.Time) ([]models.StoredRecord, error) {
	s.mu.RLock()
	out := make([]models.StoredRecord, 0, len(s.records[tenantID]))
	for _, rec := range s.records[tenantID] {
		d := rec.Meta().Date
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) CountEncrypted(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, byID := range s.records {
		for _, rec := range byID {
			if _, ok := rec.(models.EncryptedRecord); ok {
				n++
			}
		}
	}
	return n, nil
}
