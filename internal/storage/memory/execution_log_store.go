package memory

import (
	"context"
	"sort"
	"sync"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/storage"
)

// ExecutionLogStore is an in-memory implementation of storage.ExecutionLogStore.
type ExecutionLogStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.ExecutionRecord        // keyed by attempt_id
	recon map[string][]*domain.ReconciliationRecord // keyed by attempt_id
}

// NewExecutionLogStore creates a new in-memory execution log.
func NewExecutionLogStore() *ExecutionLogStore {
	return &ExecutionLogStore{
		data:  make(map[string]*domain.ExecutionRecord),
		recon: make(map[string][]*domain.ReconciliationRecord),
	}
}

// Append adds a terminal attempt record. Returns ErrDuplicateKey if attempt_id exists.
func (s *ExecutionLogStore) Append(_ context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.AttemptID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	copy.Tokens = append([]string(nil), r.Tokens...)
	s.data[r.AttemptID] = &copy
	return nil
}

// AppendReconciliation records how an expired attempt resolved.
// Returns ErrNotFound for an unknown attempt and ErrDuplicateKey if already reconciled.
func (s *ExecutionLogStore) AppendReconciliation(_ context.Context, r *domain.ReconciliationRecord) error {
	if r == nil || r.AttemptID == "" || r.Outcome == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.AttemptID]; !exists {
		return storage.ErrNotFound
	}
	if len(s.recon[r.AttemptID]) > 0 {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.recon[r.AttemptID] = append(s.recon[r.AttemptID], &copy)
	return nil
}

// GetByAttemptID retrieves a record by attempt id. Returns ErrNotFound if not exists.
func (s *ExecutionLogStore) GetByAttemptID(_ context.Context, attemptID string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[attemptID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetByTimeRange retrieves records finished within [start, end], ordered by
// finished_at ASC, attempt_id ASC.
func (s *ExecutionLogStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExecutionRecord
	for _, r := range s.data {
		if r.FinishedAt >= start && r.FinishedAt <= end {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].FinishedAt != result[j].FinishedAt {
			return result[i].FinishedAt < result[j].FinishedAt
		}
		return result[i].AttemptID < result[j].AttemptID
	})

	return result, nil
}

// GetReconciliations retrieves reconciliation records for an attempt.
func (s *ExecutionLogStore) GetReconciliations(_ context.Context, attemptID string) ([]*domain.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReconciliationRecord
	for _, r := range s.recon[attemptID] {
		copy := *r
		result = append(result, &copy)
	}
	return result, nil
}

// Len returns the number of execution records.
func (s *ExecutionLogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.ExecutionLogStore = (*ExecutionLogStore)(nil)
