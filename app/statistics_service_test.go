package app

import (
	"context"
	"testing"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/internal/testkit"
)

func newStatsKit(t *testing.T) (*testkit.Kit, *StatisticsService) {
	t.Helper()
	kit := testkit.NewKit(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	service := NewStatisticsService(kit.KPIs, kit.Entries, kit.Clock)
	return kit, service
}

func seedDefinition(t *testing.T, kit *testkit.Kit, orgID core.OrgID, name string) *kpi.KPIDefinition {
	t.Helper()
	definition := &kpi.KPIDefinition{
		ID:          core.KPIID(core.NewID()),
		OrgID:       orgID,
		Name:        name,
		Formula:     "revenue / deals_closed",
		InputFields: []string{"revenue", "deals_closed"},
		CreatedAt:   core.NewTimestamp(kit.Clock.Now()),
		UpdatedAt:   core.NewTimestamp(kit.Clock.Now()),
	}
	if err := kit.KPIs.Create(context.Background(), definition); err != nil {
		t.Fatalf("seed definition: %v", err)
	}
	return definition
}

// TestGetSummaryPeriodMapping resolves period strings to day windows and
// falls back to the default for unknown ones.
func TestGetSummaryPeriodMapping(t *testing.T) {
	ctx := context.Background()
	kit, service := newStatsKit(t)
	orgID := core.OrgID(core.NewID())
	definition := seedDefinition(t, kit, orgID, "Deal Size")

	tests := []struct {
		period string
		want   int
	}{
		{"7d", 7},
		{"30d", 30},
		{"90d", 90},
		{"1y", 30},
		{"", 30},
	}

	for _, tt := range tests {
		summary, err := service.GetSummary(ctx, orgID, definition.ID, tt.period)
		if err != nil {
			t.Fatalf("GetSummary(%q) error: %v", tt.period, err)
		}
		if summary.PeriodDays != tt.want {
			t.Errorf("GetSummary(%q).PeriodDays = %d, want %d", tt.period, summary.PeriodDays, tt.want)
		}
		if summary.KPI.ID != definition.ID {
			t.Errorf("GetSummary(%q) returned kpi %s", tt.period, summary.KPI.ID)
		}
	}
}

// TestGetSummaryUnknownKPI propagates not-found.
func TestGetSummaryUnknownKPI(t *testing.T) {
	ctx := context.Background()
	_, service := newStatsKit(t)

	_, err := service.GetSummary(ctx, core.OrgID(core.NewID()), core.KPIID(core.NewID()), "30d")
	if !core.IsNotFoundError(err) {
		t.Errorf("got %v, want not-found", err)
	}
}

// TestSummaryForDaysWindow includes only entries inside the trailing
// window but takes the all-time range from the full history.
func TestSummaryForDaysWindow(t *testing.T) {
	ctx := context.Background()
	kit, service := newStatsKit(t)
	orgID := core.OrgID(core.NewID())
	definition := seedDefinition(t, kit, orgID, "Deal Size")
	today := kit.Clock.Today()

	kit.SeedKPIEntry(orgID, definition.ID, today, 120)
	kit.SeedKPIEntry(orgID, definition.ID, today.AddDays(-3), 100)
	// Outside a 7-day window but still part of the all-time range.
	kit.SeedKPIEntry(orgID, definition.ID, today.AddDays(-40), 999)

	summary, err := service.SummaryForDays(ctx, orgID, definition.ID, 7)
	if err != nil {
		t.Fatalf("SummaryForDays error: %v", err)
	}

	if summary.DataPoints != 2 {
		t.Errorf("DataPoints = %d, want 2", summary.DataPoints)
	}
	if summary.CurrentValue == nil || *summary.CurrentValue != 120 {
		t.Errorf("CurrentValue = %v, want 120", summary.CurrentValue)
	}
	if summary.Mean == nil || *summary.Mean != 110 {
		t.Errorf("Mean = %v, want 110", summary.Mean)
	}
	if summary.AllTimeHigh == nil || *summary.AllTimeHigh != 999 {
		t.Errorf("AllTimeHigh = %v, want 999", summary.AllTimeHigh)
	}
	if summary.AllTimeLow == nil || *summary.AllTimeLow != 100 {
		t.Errorf("AllTimeLow = %v, want 100", summary.AllTimeLow)
	}
}

// TestSummaryForDaysEmpty yields an empty summary without error.
func TestSummaryForDaysEmpty(t *testing.T) {
	ctx := context.Background()
	kit, service := newStatsKit(t)
	orgID := core.OrgID(core.NewID())
	definition := seedDefinition(t, kit, orgID, "Deal Size")

	summary, err := service.SummaryForDays(ctx, orgID, definition.ID, 30)
	if err != nil {
		t.Fatalf("SummaryForDays error: %v", err)
	}
	if summary.DataPoints != 0 {
		t.Errorf("DataPoints = %d, want 0", summary.DataPoints)
	}
	if summary.AllTimeHigh != nil || summary.AllTimeLow != nil {
		t.Errorf("all-time range should be nil with no entries")
	}
}

// TestRecentValues returns calculated values most recent first.
func TestRecentValues(t *testing.T) {
	ctx := context.Background()
	kit, service := newStatsKit(t)
	orgID := core.OrgID(core.NewID())
	definition := seedDefinition(t, kit, orgID, "Deal Size")
	today := kit.Clock.Today()

	for i, v := range []float64{10, 20, 30, 40} {
		kit.SeedKPIEntry(orgID, definition.ID, today.AddDays(i-3), v)
	}

	values, err := service.RecentValues(ctx, orgID, definition.ID, 3)
	if err != nil {
		t.Fatalf("RecentValues error: %v", err)
	}
	want := []float64{40, 30, 20}
	if len(values) != len(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("values[%d] = %v, want %v", i, values[i], want[i])
		}
	}

	last, err := service.LastEntryDate(ctx, orgID, definition.ID)
	if err != nil {
		t.Fatalf("LastEntryDate error: %v", err)
	}
	if last == nil || *last != today {
		t.Errorf("LastEntryDate = %v, want %v", last, today)
	}
}
