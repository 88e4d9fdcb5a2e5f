package app

import (
	"context"
	"fmt"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/domain/stats"
	"gokpi/ports"
)

// Summary periods accepted by GetSummary.
var periodDays = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// DefaultPeriodDays applies when a period string isn't recognized.
const DefaultPeriodDays = 30

// StatisticsService is the read side of the calculated time series: it
// turns stored KPI entries into statistical summaries.
type StatisticsService struct {
	kpis    ports.KPIRepository
	entries ports.EntryRepository
	clock   ports.Clock
}

// NewStatisticsService creates a statistics service.
func NewStatisticsService(kpis ports.KPIRepository, entries ports.EntryRepository, clock ports.Clock) *StatisticsService {
	return &StatisticsService{kpis: kpis, entries: entries, clock: clock}
}

// KPISummary pairs a definition with its period statistics.
type KPISummary struct {
	KPI        *kpi.KPIDefinition `json:"kpi"`
	PeriodDays int                `json:"period_days"`
	Stats      stats.Summary      `json:"stats"`
}

// GetSummary computes the statistical summary of a KPI over a period
// ("7d", "30d", "90d"), enriched with the all-time high/low.
func (s *StatisticsService) GetSummary(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, period string) (*KPISummary, error) {
	definition, err := s.kpis.GetByID(ctx, orgID, kpiID)
	if err != nil {
		return nil, err
	}

	days, ok := periodDays[period]
	if !ok {
		days = DefaultPeriodDays
	}

	summary, err := s.SummaryForDays(ctx, orgID, kpiID, days)
	if err != nil {
		return nil, err
	}

	return &KPISummary{KPI: definition, PeriodDays: days, Stats: summary}, nil
}

// SummaryForDays computes the summary over the trailing n days.
func (s *StatisticsService) SummaryForDays(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, days int) (stats.Summary, error) {
	since := s.clock.Today().AddDays(-days)
	values, err := s.entries.KPIValuesSince(ctx, orgID, kpiID, since)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("failed to load kpi values: %w", err)
	}

	summary := stats.Summarize(values)

	low, high, err := s.entries.AllTimeRange(ctx, orgID, kpiID)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("failed to load all-time range: %w", err)
	}
	if low != nil {
		rounded := stats.Round(*low)
		summary.AllTimeLow = &rounded
	}
	if high != nil {
		rounded := stats.Round(*high)
		summary.AllTimeHigh = &rounded
	}

	return summary, nil
}

// RecentValues returns the latest calculated values, most recent first.
func (s *StatisticsService) RecentValues(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, limit int) ([]float64, error) {
	return s.entries.RecentKPIValues(ctx, orgID, kpiID, limit)
}

// LastEntryDate returns the date of the most recent calculated entry.
func (s *StatisticsService) LastEntryDate(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (*core.Date, error) {
	return s.entries.LastKPIEntryDate(ctx, orgID, kpiID)
}
