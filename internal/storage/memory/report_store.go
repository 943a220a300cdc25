package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
// Used when no database is configured.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string]*consolidator.Report
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{data: make(map[string]*consolidator.Report)}
}

var _ storage.ReportStore = (*ReportStore)(nil)

// SaveReport stores a copy of r.
func (s *ReportStore) SaveReport(_ context.Context, r *consolidator.Report) error {
	if err := storage.Validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.ID] = clone(r)
	return nil
}

// GetReport retrieves a report by id.
func (s *ReportStore) GetReport(_ context.Context, id string) (*consolidator.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clone(r), nil
}

// ListReports returns owner's reports, newest first, at most limit (0 means all).
func (s *ReportStore) ListReports(_ context.Context, owner solana.PublicKey, limit int) ([]*consolidator.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*consolidator.Report
	for _, r := range s.data {
		if r.Owner.Equals(owner) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(r *consolidator.Report) *consolidator.Report {
	cp := *r
	cp.Signatures = append([]solana.Signature(nil), r.Signatures...)
	return &cp
}
