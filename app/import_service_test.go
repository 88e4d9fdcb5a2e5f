package app

import (
	"context"
	"testing"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/internal/testkit"
)

type importFixture struct {
	kit     *testkit.Kit
	kpis    *KPIService
	imports *ImportService
	orgID   core.OrgID
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	kit := testkit.NewKit(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	calc := NewCalculationService()
	resolver := NewFieldResolverService(kit.Fields, kit.KPIs, kit.Clock)
	recalc := NewRecalcService(kit.KPIs, kit.Fields, kit.Entries, calc, kit.Clock)
	return &importFixture{
		kit:     kit,
		kpis:    NewKPIService(kit.KPIs, resolver, calc, kit.Clock),
		imports: NewImportService(kit.Fields, kit.Entries, resolver, recalc, kit.Clock),
		orgID:   core.OrgID(core.NewID()),
	}
}

// TestSubmitFieldEntriesRecalculates saves the samples and recomputes the
// dependent KPI in one call.
func TestSubmitFieldEntriesRecalculates(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)
	date := core.NewDate(2024, time.June, 14)

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	revenue, err := f.kit.Fields.GetByVariable(ctx, f.orgID, "revenue", nil)
	if err != nil {
		t.Fatalf("revenue field: %v", err)
	}
	deals, err := f.kit.Fields.GetByVariable(ctx, f.orgID, "deals_closed", nil)
	if err != nil {
		t.Fatalf("deals field: %v", err)
	}

	result, err := f.imports.SubmitFieldEntries(ctx, f.orgID, core.NewID(), date, []FieldEntryInput{
		{FieldID: revenue.ID, Value: 50000},
		{FieldID: deals.ID, Value: 10},
	})
	if err != nil {
		t.Fatalf("SubmitFieldEntries error: %v", err)
	}

	if len(result.Entries) != 2 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v, want two saved entries", result)
	}
	if result.Recalculated != 1 {
		t.Errorf("Recalculated = %d, want 1", result.Recalculated)
	}

	entries, err := f.kit.Entries.KPIEntries(ctx, f.orgID, definition.ID, date, date)
	if err != nil {
		t.Fatalf("KPIEntries error: %v", err)
	}
	if len(entries) != 1 || entries[0].CalculatedValue != 5000 {
		t.Errorf("kpi entries = %+v, want one with value 5000", entries)
	}
}

// TestSubmitFieldEntriesUnknownField collects the failure and saves the
// rest.
func TestSubmitFieldEntriesUnknownField(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)
	date := core.NewDate(2024, time.June, 14)

	field := f.kit.SeedField(f.orgID, "revenue", nil)

	result, err := f.imports.SubmitFieldEntries(ctx, f.orgID, core.NewID(), date, []FieldEntryInput{
		{FieldID: core.FieldID(core.NewID()), Value: 1},
		{FieldID: field.ID, Value: 500},
	})
	if err != nil {
		t.Fatalf("SubmitFieldEntries error: %v", err)
	}

	if len(result.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(result.Entries))
	}
	if len(result.Errors) != 1 || result.Errors[0].Err != "data field not found" {
		t.Errorf("errors = %+v", result.Errors)
	}

	stored, err := f.kit.Entries.FieldEntryOn(ctx, f.orgID, field.ID, date)
	if err != nil {
		t.Fatalf("FieldEntryOn error: %v", err)
	}
	if stored.Value != 500 {
		t.Errorf("stored value = %v, want 500", stored.Value)
	}
}

// TestSubmitFieldEntriesNormalizesDate snaps the entry date to the field's
// interval period.
func TestSubmitFieldEntriesNormalizesDate(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)

	field := f.kit.SeedField(f.orgID, "weekly_signups", nil)
	field.EntryInterval = kpi.IntervalWeekly
	if err := f.kit.Fields.Update(ctx, field); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	// Wednesday June 12 snaps back to Monday June 10.
	wednesday := core.NewDate(2024, time.June, 12)
	monday := core.NewDate(2024, time.June, 10)

	result, err := f.imports.SubmitFieldEntries(ctx, f.orgID, core.NewID(), wednesday, []FieldEntryInput{
		{FieldID: field.ID, Value: 12},
	})
	if err != nil {
		t.Fatalf("SubmitFieldEntries error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(result.Entries))
	}
	if result.Entries[0].Date != monday {
		t.Errorf("entry date = %v, want %v", result.Entries[0].Date, monday)
	}
}

// TestImportRowsPartialSuccess processes what it can and reports the rest
// row by row.
func TestImportRowsPartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)
	date := core.NewDate(2024, time.June, 14)

	rows := []ImportRow{
		{Row: 2, Date: date, Values: map[string]float64{"revenue": 50000, "deals_closed": 10}},
		{Row: 3, Values: map[string]float64{"revenue": 100}},
		{Row: 4, Date: date},
		{Row: 5, Date: date, Values: map[string]float64{"bad name": 1}},
		{Row: 6, Date: date, Values: map[string]float64{"revenue": 70000}, Problem: `invalid room "floor-1"`},
	}

	result, err := f.imports.ImportRows(ctx, f.orgID, core.NewID(), rows)
	if err != nil {
		t.Fatalf("ImportRows error: %v", err)
	}

	if result.RowsProcessed != 1 {
		t.Errorf("RowsProcessed = %d, want 1", result.RowsProcessed)
	}
	if result.EntriesSaved != 2 {
		t.Errorf("EntriesSaved = %d, want 2", result.EntriesSaved)
	}
	if len(result.Errors) != 4 {
		t.Fatalf("errors = %+v, want 4", result.Errors)
	}
	for _, entryErr := range result.Errors {
		if entryErr.Row == 2 {
			t.Errorf("valid row reported an error: %+v", entryErr)
		}
		if entryErr.Row == 6 && entryErr.Err != `invalid room "floor-1"` {
			t.Errorf("flagged row error = %q", entryErr.Err)
		}
	}
}

// TestImportRowsCreatesFieldsLazily lets an import precede the KPIs that
// will consume its variables.
func TestImportRowsCreatesFieldsLazily(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)
	date := core.NewDate(2024, time.June, 14)

	result, err := f.imports.ImportRows(ctx, f.orgID, core.NewID(), []ImportRow{
		{Row: 2, Date: date, Values: map[string]float64{"new_sales": 30}},
	})
	if err != nil {
		t.Fatalf("ImportRows error: %v", err)
	}
	if result.EntriesSaved != 1 {
		t.Fatalf("EntriesSaved = %d, want 1", result.EntriesSaved)
	}

	field, err := f.kit.Fields.GetByVariable(ctx, f.orgID, "new_sales", nil)
	if err != nil {
		t.Fatalf("lazily created field: %v", err)
	}
	if field.Name != "New Sales" {
		t.Errorf("field name = %q, want %q", field.Name, "New Sales")
	}

	entry, err := f.kit.Entries.FieldEntryOn(ctx, f.orgID, field.ID, date)
	if err != nil {
		t.Fatalf("FieldEntryOn error: %v", err)
	}
	if entry.Value != 30 {
		t.Errorf("entry value = %v, want 30", entry.Value)
	}
}

// TestImportRowsRecalculates triggers recalculation per imported row.
func TestImportRowsRecalculates(t *testing.T) {
	ctx := context.Background()
	f := newImportFixture(t)
	date := core.NewDate(2024, time.June, 14)

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	result, err := f.imports.ImportRows(ctx, f.orgID, core.NewID(), []ImportRow{
		{Row: 2, Date: date, Values: map[string]float64{"revenue": 50000, "deals_closed": 10}},
		{Row: 3, Date: date.AddDays(1), Values: map[string]float64{"revenue": 60000, "deals_closed": 10}},
	})
	if err != nil {
		t.Fatalf("ImportRows error: %v", err)
	}
	if result.Recalculated != 2 {
		t.Errorf("Recalculated = %d, want 2", result.Recalculated)
	}

	entries, err := f.kit.Entries.KPIEntries(ctx, f.orgID, definition.ID, date, date.AddDays(1))
	if err != nil {
		t.Fatalf("KPIEntries error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].CalculatedValue != 5000 || entries[1].CalculatedValue != 6000 {
		t.Errorf("values = %v, %v, want 5000 then 6000", entries[0].CalculatedValue, entries[1].CalculatedValue)
	}
}
