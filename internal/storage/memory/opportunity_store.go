package memory

import (
	"context"
	"sort"
	"sync"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/storage"
)

// OpportunityStore is an in-memory implementation of storage.OpportunityStore.
// Records are analytics rows; the same opportunity may appear in several ticks.
type OpportunityStore struct {
	mu   sync.RWMutex
	data []*domain.OpportunityRecord
}

// NewOpportunityStore creates a new in-memory opportunity store.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{}
}

// InsertBatch adds the records of one tick.
func (s *OpportunityStore) InsertBatch(_ context.Context, records []*domain.OpportunityRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.OpportunityID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		copy := *r
		s.data = append(s.data, &copy)
	}
	return nil
}

// GetByTimeRange retrieves records with tick_at within [start, end], ordered
// by tick_at ASC, net_profit_pct DESC.
func (s *OpportunityStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.OpportunityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OpportunityRecord
	for _, r := range s.data {
		if r.TickAt >= start && r.TickAt <= end {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TickAt != result[j].TickAt {
			return result[i].TickAt < result[j].TickAt
		}
		return result[i].NetProfitPct > result[j].NetProfitPct
	})

	return result, nil
}

var _ storage.OpportunityStore = (*OpportunityStore)(nil)
