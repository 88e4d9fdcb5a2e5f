package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/domain/stats"
	"gokpi/ports"
)

// InsightThresholds are the business-calibration constants behind the
// insight rules. No documented derivation exists for these numbers; they
// are tunable, nothing more.
type InsightThresholds struct {
	// DeviationRatio is the |current − mean| / |mean| ratio that triggers
	// the deviation rule (0.20 = 20%).
	DeviationRatio float64
	// HighDeviationPct escalates the deviation rule from medium to high.
	HighDeviationPct float64
	// ConsecutiveTrendEntries is the run length that triggers the trend rule.
	ConsecutiveTrendEntries int
	// AnomalyStdDevs is the std-dev distance that flags an anomaly.
	AnomalyStdDevs float64
	// StaleDays is the silence length that triggers the stale-data rule.
	StaleDays int
	// Freshness is how long a generated insight set stays served from cache.
	Freshness time.Duration
}

// DefaultInsightThresholds returns the stock rule calibration.
func DefaultInsightThresholds() InsightThresholds {
	return InsightThresholds{
		DeviationRatio:          0.20,
		HighDeviationPct:        30,
		ConsecutiveTrendEntries: 4,
		AnomalyStdDevs:          1.5,
		StaleDays:               3,
		Freshness:               24 * time.Hour,
	}
}

// summaryPeriodDays is the window the insight rules judge against.
const summaryPeriodDays = 30

// recentValueCount is how many raw values feed the consecutive-trend rule.
const recentValueCount = 10

// InsightService evaluates the fixed rule set over every KPI in an org and
// wholesale-replaces the org's insight set. The generator itself is
// stateless; all state lives behind the ports.
type InsightService struct {
	kpis       ports.KPIRepository
	entries    ports.EntryRepository
	insights   ports.InsightRepository
	statistics *StatisticsService
	clock      ports.Clock
	thresholds InsightThresholds
}

// NewInsightService creates an insight service.
func NewInsightService(kpis ports.KPIRepository, entries ports.EntryRepository, insights ports.InsightRepository, statistics *StatisticsService, clock ports.Clock, thresholds InsightThresholds) *InsightService {
	return &InsightService{
		kpis:       kpis,
		entries:    entries,
		insights:   insights,
		statistics: statistics,
		clock:      clock,
		thresholds: thresholds,
	}
}

// Generate evaluates all rules for every KPI in the org, deletes the org's
// prior insight set, and inserts the new one in a single transaction.
func (s *InsightService) Generate(ctx context.Context, orgID core.OrgID) ([]*kpi.Insight, error) {
	definitions, err := s.kpis.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpis: %w", err)
	}

	var insights []*kpi.Insight
	for _, definition := range definitions {
		kpiInsights, err := s.analyzeKPI(ctx, orgID, definition)
		if err != nil {
			return nil, err
		}
		insights = append(insights, kpiInsights...)
	}

	if err := s.insights.ReplaceForOrg(ctx, orgID, insights); err != nil {
		return nil, fmt.Errorf("failed to replace insights: %w", err)
	}
	return insights, nil
}

// GetCachedOrRegenerate serves the stored insight set while it is fresh
// and regenerates it otherwise. Freshness is measured from the oldest
// insight's timestamp.
func (s *InsightService) GetCachedOrRegenerate(ctx context.Context, orgID core.OrgID) ([]*kpi.Insight, error) {
	oldest, err := s.insights.OldestGeneratedAt(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to check insight freshness: %w", err)
	}
	if oldest != nil && s.clock.Now().Sub(*oldest) <= s.thresholds.Freshness {
		return s.insights.ListByOrg(ctx, orgID)
	}
	if _, err := s.Generate(ctx, orgID); err != nil {
		return nil, err
	}
	return s.insights.ListByOrg(ctx, orgID)
}

// analyzeKPI runs the five rules for one KPI. Each rule independently
// produces zero or one insight.
func (s *InsightService) analyzeKPI(ctx context.Context, orgID core.OrgID, definition *kpi.KPIDefinition) ([]*kpi.Insight, error) {
	summary, err := s.statistics.SummaryForDays(ctx, orgID, definition.ID, summaryPeriodDays)
	if err != nil {
		return nil, err
	}

	if summary.DataPoints == 0 {
		insight, err := s.checkNeverTracked(ctx, orgID, definition)
		if err != nil || insight == nil {
			return nil, err
		}
		return []*kpi.Insight{insight}, nil
	}

	recent, err := s.entries.RecentKPIValues(ctx, orgID, definition.ID, recentValueCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent values for kpi %s: %w", definition.ID, err)
	}

	var insights []*kpi.Insight
	appendIf := func(insight *kpi.Insight) {
		if insight != nil {
			insights = append(insights, insight)
		}
	}

	appendIf(s.checkDeviationFromMean(definition, summary))
	appendIf(s.checkConsecutiveTrend(definition, recent))
	appendIf(s.checkAllTimeRecord(definition, summary))
	appendIf(s.checkAnomaly(definition, summary))

	staleInsight, err := s.checkStaleData(ctx, orgID, definition)
	if err != nil {
		return nil, err
	}
	appendIf(staleInsight)

	return insights, nil
}

func (s *InsightService) newInsight(definition *kpi.KPIDefinition, text, priority string) *kpi.Insight {
	kpiID := definition.ID
	return &kpi.Insight{
		ID:          core.InsightID(core.NewID()),
		OrgID:       definition.OrgID,
		KPIID:       &kpiID,
		Text:        text,
		Priority:    priority,
		GeneratedAt: core.NewTimestamp(s.clock.Now()),
	}
}

// checkDeviationFromMean flags a current value at least DeviationRatio away
// from the period mean; medium priority, high beyond HighDeviationPct.
func (s *InsightService) checkDeviationFromMean(definition *kpi.KPIDefinition, summary stats.Summary) *kpi.Insight {
	if summary.CurrentValue == nil || summary.Mean == nil || *summary.Mean == 0 {
		return nil
	}

	deviation := (*summary.CurrentValue - *summary.Mean) / math.Abs(*summary.Mean)
	if math.Abs(deviation) < s.thresholds.DeviationRatio {
		return nil
	}

	direction := "above"
	if deviation < 0 {
		direction = "below"
	}
	pct := math.Abs(math.Round(deviation*1000) / 10)
	priority := kpi.PriorityMedium
	if pct >= s.thresholds.HighDeviationPct {
		priority = kpi.PriorityHigh
	}
	text := fmt.Sprintf("%s is %.1f%% %s your %d-day average", definition.Name, pct, direction, summaryPeriodDays)
	return s.newInsight(definition, text, priority)
}

// checkConsecutiveTrend flags an unbroken up or down run; upward runs are
// informational, downward ones get more attention.
func (s *InsightService) checkConsecutiveTrend(definition *kpi.KPIDefinition, recent []float64) *kpi.Insight {
	if len(recent) < s.thresholds.ConsecutiveTrendEntries {
		return nil
	}
	trend := stats.ConsecutiveTrend(recent, s.thresholds.ConsecutiveTrendEntries)
	switch trend.Direction {
	case stats.DirectionIncreasing:
		text := fmt.Sprintf("%s has been trending up for %d consecutive entries", definition.Name, trend.ConsecutiveCount)
		return s.newInsight(definition, text, kpi.PriorityLow)
	case stats.DirectionDecreasing:
		text := fmt.Sprintf("%s has been trending down for %d consecutive entries", definition.Name, trend.ConsecutiveCount)
		return s.newInsight(definition, text, kpi.PriorityMedium)
	default:
		return nil
	}
}

// checkAllTimeRecord flags a current value matching or beating the
// all-time high or low.
func (s *InsightService) checkAllTimeRecord(definition *kpi.KPIDefinition, summary stats.Summary) *kpi.Insight {
	if summary.CurrentValue == nil {
		return nil
	}
	current := *summary.CurrentValue
	if summary.AllTimeHigh != nil && current >= *summary.AllTimeHigh {
		text := fmt.Sprintf("%s hit an all-time high of %.2f", definition.Name, current)
		return s.newInsight(definition, text, kpi.PriorityHigh)
	}
	if summary.AllTimeLow != nil && current <= *summary.AllTimeLow {
		text := fmt.Sprintf("%s hit an all-time low of %.2f", definition.Name, current)
		return s.newInsight(definition, text, kpi.PriorityHigh)
	}
	return nil
}

// checkAnomaly flags a current value outside the normal range by more than
// AnomalyStdDevs sample deviations.
func (s *InsightService) checkAnomaly(definition *kpi.KPIDefinition, summary stats.Summary) *kpi.Insight {
	if summary.CurrentValue == nil || summary.Mean == nil {
		return nil
	}
	anomaly := stats.DetectAnomaly(*summary.CurrentValue, *summary.Mean, summary.StdDev, s.thresholds.AnomalyStdDevs)
	if !anomaly.IsAnomaly {
		return nil
	}
	direction := "higher"
	if anomaly.DeviationType == "low" {
		direction = "lower"
	}
	text := fmt.Sprintf("%s is outside normal range - significantly %s than usual (%.2f std devs)", definition.Name, direction, *anomaly.StdDevsFromMean)
	return s.newInsight(definition, text, kpi.PriorityHigh)
}

// checkStaleData flags a KPI with no entry in StaleDays or more.
func (s *InsightService) checkStaleData(ctx context.Context, orgID core.OrgID, definition *kpi.KPIDefinition) (*kpi.Insight, error) {
	lastDate, err := s.entries.LastKPIEntryDate(ctx, orgID, definition.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last entry date for kpi %s: %w", definition.ID, err)
	}
	if lastDate == nil {
		text := fmt.Sprintf("No data has been entered for %s yet", definition.Name)
		return s.newInsight(definition, text, kpi.PriorityLow), nil
	}
	daysSince := s.clock.Today().DaysSince(*lastDate)
	if daysSince >= s.thresholds.StaleDays {
		text := fmt.Sprintf("You haven't entered data for %s in %d days", definition.Name, daysSince)
		return s.newInsight(definition, text, kpi.PriorityMedium), nil
	}
	return nil, nil
}

// checkNeverTracked covers KPIs with no period data: either the KPI has
// never had a single entry, or it merely has nothing in the window (the
// stale rule handles that case).
func (s *InsightService) checkNeverTracked(ctx context.Context, orgID core.OrgID, definition *kpi.KPIDefinition) (*kpi.Insight, error) {
	count, err := s.entries.CountKPIEntries(ctx, orgID, definition.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries for kpi %s: %w", definition.ID, err)
	}
	if count == 0 {
		text := fmt.Sprintf("Start tracking %s by entering your first data point", definition.Name)
		return s.newInsight(definition, text, kpi.PriorityLow), nil
	}
	return s.checkStaleData(ctx, orgID, definition)
}
