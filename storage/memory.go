package storage

import (
	"context"
	"sort"
	"sync"

	"venueflow/models"
)

// MemoryOrderStore is an in-process OrderStore. It is safe for concurrent
// use by the orchestrator and the sync loop.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]models.Order
	byCID  map[string]string
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]models.Order),
		byCID:  make(map[string]string),
	}
}

func orderKey(venue, orderID string) string {
	return venue + "|" + orderID
}

func (s *MemoryOrderStore) Put(_ context.Context, order models.Order) error {
	key := orderKey(order.Venue, order.ID)
	s.mu.Lock()
	s.orders[key] = order
	if order.ClientOrderID != "" {
		s.byCID[orderKey(order.Venue, order.ClientOrderID)] = key
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, venue, orderID string) (models.Order, bool) {
	s.mu.RLock()
	order, ok := s.orders[orderKey(venue, orderID)]
	s.mu.RUnlock()
	return order, ok
}

func (s *MemoryOrderStore) GetByClientID(_ context.Context, venue, clientOrderID string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byCID[orderKey(venue, clientOrderID)]
	if !ok {
		return models.Order{}, false
	}
	order, ok := s.orders[key]
	return order, ok
}

func (s *MemoryOrderStore) List(_ context.Context, venue string) []models.Order {
	s.mu.RLock()
	out := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if venue != "" && order.Venue != venue {
			continue
		}
		out = append(out, order)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MemorySnapshotStore keeps a bounded per-venue history of account
// snapshots, newest first.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]models.AccountSnapshot
	maxHist   int
}

func NewMemorySnapshotStore(maxHistory int) *MemorySnapshotStore {
	if maxHistory < 1 {
		maxHistory = 1
	}
	return &MemorySnapshotStore{
		snapshots: make(map[string][]models.AccountSnapshot),
		maxHist:   maxHistory,
	}
}

func (s *MemorySnapshotStore) Append(_ context.Context, snapshot models.AccountSnapshot) error {
	s.mu.Lock()
	hist := append([]models.AccountSnapshot{snapshot}, s.snapshots[snapshot.Venue]...)
	if len(hist) > s.maxHist {
		hist = hist[:s.maxHist]
	}
	s.snapshots[snapshot.Venue] = hist
	s.mu.Unlock()
	return nil
}

func (s *MemorySnapshotStore) Latest(_ context.Context, venue string) (models.AccountSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.snapshots[venue]
	if len(hist) == 0 {
		return models.AccountSnapshot{}, false
	}
	return hist[0], true
}

func (s *MemorySnapshotStore) History(_ context.Context, venue string, limit int) []models.AccountSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.snapshots[venue]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]models.AccountSnapshot, limit)
	copy(out, hist[:limit])
	return out
}
