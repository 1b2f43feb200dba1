package bounty

import (
	"context"
	"sort"
	"sync"

	"taskagent-backend/core/bounty"
)

// MemoryStore keeps records in process memory. A single RWMutex covers both
// maps so related writes stay atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	reviews  map[string]bounty.ReviewRecord
	payments map[string]bounty.PaymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews:  make(map[string]bounty.ReviewRecord),
		payments: make(map[string]bounty.PaymentRecord),
	}
}

func (s *MemoryStore) SaveReview(ctx context.Context, record bounty.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[record.RecordID] = record
	return nil
}

func (s *MemoryStore) GetReview(ctx context.Context, recordID string) (bounty.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.reviews[recordID]
	if !ok {
		return bounty.ReviewRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (s *MemoryStore) ListReviews(ctx context.Context, taskID uint64) ([]bounty.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bounty.ReviewRecord, 0, len(s.reviews))
	for _, record := range s.reviews {
		if taskID != 0 && record.TaskID != taskID {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SavePayment(ctx context.Context, key string, record bounty.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[key] = record
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, key string) (bounty.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.payments[key]
	if !ok {
		return bounty.PaymentRecord{}, ErrPaymentNotFound
	}
	return record, nil
}

func (s *MemoryStore) Close() {}
