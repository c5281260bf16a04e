package services

import (
	"context"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// upcomingHorizon is how far ahead the dashboard looks for occurrences.
const upcomingHorizon = 7 * 24 * time.Hour

// DashboardService is a read-only rollup over the ledger and schedule.
type DashboardService struct {
	repo *storage.SQLiteRepository
}

func NewDashboardService(repo *storage.SQLiteRepository) *DashboardService {
	return &DashboardService{repo: repo}
}

// Summary aggregates balances, pending dues, and occurrences due within the
// next seven days.
func (s *DashboardService) Summary(ctx context.Context, userID int64, now time.Time) (*core.DashboardSummary, error) {
	return s.repo.DashboardSummary(ctx, userID, now.Add(upcomingHorizon))
}
