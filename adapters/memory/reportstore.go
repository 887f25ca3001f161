package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/ports"
)

// ReportStore is an in-memory implementation of ports.ReportStore.
type ReportStore struct {
	mu      sync.RWMutex
	reports []billing.MonthlyReport
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{}
}

// Create stores a report.
func (s *ReportStore) Create(ctx context.Context, r billing.MonthlyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, r)
	return nil
}

// List returns reports newest first. limit <= 0 returns all.
func (s *ReportStore) List(ctx context.Context, limit int) ([]billing.MonthlyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := append([]billing.MonthlyReport(nil), s.reports...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

var _ ports.ReportStore = (*ReportStore)(nil)
