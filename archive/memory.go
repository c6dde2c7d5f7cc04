package archive

import (
	"context"
	"slices"
	"sync"
)

// MemoryEventStore is an in-memory implementation of EventStore.
type MemoryEventStore struct {
	mu      sync.RWMutex
	nextSeq int64
	events  []*Event
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make([]*Event, 0)}
}

// Verify interface compliance at compile time.
var _ EventStore = (*MemoryEventStore)(nil)

// Insert appends an event and assigns e.Seq.
func (s *MemoryEventStore) Insert(_ context.Context, e *Event) error {
	if e == nil || e.AuctionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	stored := *e
	stored.Seq = s.nextSeq
	s.events = append(s.events, &stored)
	e.Seq = stored.Seq

	return nil
}

// ListByAuction retrieves all events for an auction in insertion order.
func (s *MemoryEventStore) ListByAuction(_ context.Context, auctionID string) ([]*Event, error) {
	return s.listAfter(auctionID, 0)
}

// ListSince retrieves events for an auction with Seq > after.
func (s *MemoryEventStore) ListSince(_ context.Context, auctionID string, after int64) ([]*Event, error) {
	return s.listAfter(auctionID, after)
}

func (s *MemoryEventStore) listAfter(auctionID string, after int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events {
		if e.AuctionID == auctionID && e.Seq > after {
			stored := *e
			result = append(result, &stored)
		}
	}
	return result, nil
}

// MemorySettlementStore is an in-memory implementation of SettlementStore.
type MemorySettlementStore struct {
	mu          sync.RWMutex
	settlements map[string]*Settlement
}

// NewMemorySettlementStore creates a new in-memory settlement store.
func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{settlements: make(map[string]*Settlement)}
}

// Verify interface compliance at compile time.
var _ SettlementStore = (*MemorySettlementStore)(nil)

// Insert adds a settlement. Returns ErrDuplicateKey if the auction is
// already settled.
func (s *MemorySettlementStore) Insert(_ context.Context, settlement *Settlement) error {
	if settlement == nil || settlement.AuctionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[settlement.AuctionID]; ok {
		return ErrDuplicateKey
	}
	s.settlements[settlement.AuctionID] = copySettlement(settlement)

	return nil
}

// Get retrieves a settlement. Returns ErrNotFound if the auction has not
// settled.
func (s *MemorySettlementStore) Get(_ context.Context, auctionID string) (*Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlement, ok := s.settlements[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySettlement(settlement), nil
}

func copySettlement(s *Settlement) *Settlement {
	copied := *s
	copied.Standings = slices.Clone(s.Standings)
	return &copied
}
