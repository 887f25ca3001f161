package sqlite

import (
	"context"
	"time"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/ports"
)

// ReportStore implements ports.ReportStore using SQLite.
type ReportStore struct {
	db *DB
}

// NewReportStore creates a new SQLite report store.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Create stores a monthly report.
func (s *ReportStore) Create(ctx context.Context, r billing.MonthlyReport) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_reports (id, month_year, total_expected, total_collected, total_profit, subscriber_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.MonthYear, r.TotalExpected, r.TotalCollected, r.TotalProfit, r.SubscriberCount, r.CreatedAt)
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// List returns reports newest first. limit <= 0 returns all.
func (s *ReportStore) List(ctx context.Context, limit int) ([]billing.MonthlyReport, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, month_year, total_expected, total_collected, total_profit, subscriber_count, created_at
		FROM monthly_reports
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []billing.MonthlyReport
	for rows.Next() {
		var r billing.MonthlyReport
		if err := rows.Scan(&r.ID, &r.MonthYear, &r.TotalExpected, &r.TotalCollected,
			&r.TotalProfit, &r.SubscriberCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

var _ ports.ReportStore = (*ReportStore)(nil)
