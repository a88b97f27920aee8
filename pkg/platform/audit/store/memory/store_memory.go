package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	id "familyledger/pkg/domain"
	audit "familyledger/pkg/platform/audit"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[id.TenantID][]audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.TenantID][]audit.Entry)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[id.TenantID][]audit.Entry)
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	entry.Context = maps.Clone(entry.Context)
	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], entry)
	return nil
}

// ListRecent returns up to limit entries for the tenant, newest first. Ties
// on timestamp fall back to insertion order.
func (s *InMemoryStore) ListRecent(_ context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	out := append([]audit.Entry{}, s.entries[tenantID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	limit = audit.ClampLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Context = maps.Clone(out[i].Context)
	}
	return out, nil
}

// ListAll returns every entry across tenants in insertion order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Entry
	for _, entries := range s.entries {
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}
