package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"gokpi/domain/core"
	"gokpi/internal/testkit"
)

type recalcFixture struct {
	kit    *testkit.Kit
	kpis   *KPIService
	recalc *RecalcService
	orgID  core.OrgID
	date   core.Date
}

func newRecalcFixture(t *testing.T) *recalcFixture {
	t.Helper()
	kit := testkit.NewKit(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	calc := NewCalculationService()
	resolver := NewFieldResolverService(kit.Fields, kit.KPIs, kit.Clock)
	return &recalcFixture{
		kit:    kit,
		kpis:   NewKPIService(kit.KPIs, resolver, calc, kit.Clock),
		recalc: NewRecalcService(kit.KPIs, kit.Fields, kit.Entries, calc, kit.Clock),
		orgID:  core.OrgID(core.NewID()),
		date:   core.NewDate(2024, time.June, 14),
	}
}

func (f *recalcFixture) fieldID(t *testing.T, variable string) core.FieldID {
	t.Helper()
	field, err := f.kit.Fields.GetByVariable(context.Background(), f.orgID, variable, nil)
	if err != nil {
		t.Fatalf("field %q: %v", variable, err)
	}
	return field.ID
}

// TestRecalcComputesCell recomputes a KPI when all of its inputs exist for
// the date.
func TestRecalcComputesCell(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	revenueID := f.fieldID(t, "revenue")
	dealsID := f.fieldID(t, "deals_closed")
	f.kit.SeedFieldEntry(f.orgID, revenueID, f.date, 50000)
	f.kit.SeedFieldEntry(f.orgID, dealsID, f.date, 10)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{revenueID})
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	if result.Recalculated != 1 || result.Skipped != 0 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v, want one recalculated group", result)
	}

	entries, err := f.kit.Entries.KPIEntries(ctx, f.orgID, definition.ID, f.date, f.date)
	if err != nil {
		t.Fatalf("KPIEntries error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.CalculatedValue != 5000 {
		t.Errorf("CalculatedValue = %v, want 5000", entry.CalculatedValue)
	}
	if entry.Values["revenue"] != 50000 || entry.Values["deals_closed"] != 10 {
		t.Errorf("input snapshot = %v", entry.Values)
	}
}

// TestRecalcIdempotent reruns the same change; the cell upserts in place
// instead of duplicating.
func TestRecalcIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	revenueID := f.fieldID(t, "revenue")
	dealsID := f.fieldID(t, "deals_closed")
	f.kit.SeedFieldEntry(f.orgID, revenueID, f.date, 50000)
	f.kit.SeedFieldEntry(f.orgID, dealsID, f.date, 10)

	for i := 0; i < 3; i++ {
		if _, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{revenueID, dealsID}); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	count, err := f.kit.Entries.CountKPIEntries(ctx, f.orgID, definition.ID)
	if err != nil {
		t.Fatalf("CountKPIEntries error: %v", err)
	}
	if count != 1 {
		t.Errorf("entries = %d, want 1 after repeated recalculation", count)
	}
}

// TestRecalcSkipsIncompleteInputs leaves the cell alone while any input is
// missing, without reporting an error.
func TestRecalcSkipsIncompleteInputs(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	revenueID := f.fieldID(t, "revenue")
	f.kit.SeedFieldEntry(f.orgID, revenueID, f.date, 50000)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{revenueID})
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	if result.Skipped != 1 || result.Recalculated != 0 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v, want one silent skip", result)
	}

	count, err := f.kit.Entries.CountKPIEntries(ctx, f.orgID, definition.ID)
	if err != nil {
		t.Fatalf("CountKPIEntries error: %v", err)
	}
	if count != 0 {
		t.Errorf("partial KPI entry written: %d", count)
	}
}

// TestRecalcCollectsErrors keeps computing the rest of the batch when one
// cell fails.
func TestRecalcCollectsErrors(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	failing, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Ratio", Formula: "numerator / denominator"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}
	healthy, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Double", Formula: "numerator * 2"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	numeratorID := f.fieldID(t, "numerator")
	denominatorID := f.fieldID(t, "denominator")
	f.kit.SeedFieldEntry(f.orgID, numeratorID, f.date, 42)
	f.kit.SeedFieldEntry(f.orgID, denominatorID, f.date, 0)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{numeratorID})
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	if result.Recalculated != 1 {
		t.Errorf("Recalculated = %d, want 1 (the healthy KPI)", result.Recalculated)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if result.Errors[0].KPIID != failing.ID {
		t.Errorf("error KPI = %s, want %s", result.Errors[0].KPIID, failing.ID)
	}
	if !strings.Contains(result.Errors[0].Error(), "division by zero") {
		t.Errorf("error = %q, want a division-by-zero message", result.Errors[0].Error())
	}

	count, err := f.kit.Entries.CountKPIEntries(ctx, f.orgID, healthy.ID)
	if err != nil {
		t.Fatalf("CountKPIEntries error: %v", err)
	}
	if count != 1 {
		t.Errorf("healthy KPI entries = %d, want 1", count)
	}
}

// TestRecalcFansOutToAllDependents recomputes every KPI linked to a
// changed field.
func TestRecalcFansOutToAllDependents(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	for _, spec := range []struct{ name, formula string }{
		{"Deal Size", "revenue / deals_closed"},
		{"Revenue Doubled", "revenue * 2"},
		{"Unrelated", "signups + 0"},
	} {
		if _, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: spec.name, Formula: spec.formula}); err != nil {
			t.Fatalf("CreateKPI(%s) error: %v", spec.name, err)
		}
	}

	revenueID := f.fieldID(t, "revenue")
	dealsID := f.fieldID(t, "deals_closed")
	f.kit.SeedFieldEntry(f.orgID, revenueID, f.date, 50000)
	f.kit.SeedFieldEntry(f.orgID, dealsID, f.date, 10)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{revenueID})
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	// Both revenue-dependent KPIs recompute; the unrelated one is untouched.
	if result.Recalculated != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v, want two recalculated groups", result)
	}
}

// TestRecalcRoomScopedCell carries the room of the backing fields onto the
// KPI entry.
func TestRecalcRoomScopedCell(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)
	roomID := core.RoomID(core.NewID())

	definition, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, RoomID: &roomID, Name: "Occupancy", Formula: "occupied / capacity"})
	if err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}

	occupied, err := f.kit.Fields.GetByVariable(ctx, f.orgID, "occupied", &roomID)
	if err != nil {
		t.Fatalf("occupied field: %v", err)
	}
	capacity, err := f.kit.Fields.GetByVariable(ctx, f.orgID, "capacity", &roomID)
	if err != nil {
		t.Fatalf("capacity field: %v", err)
	}
	f.kit.SeedFieldEntry(f.orgID, occupied.ID, f.date, 18)
	f.kit.SeedFieldEntry(f.orgID, capacity.ID, f.date, 24)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, []core.FieldID{occupied.ID})
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	if result.Recalculated != 1 {
		t.Fatalf("result = %+v, want one recalculated group", result)
	}

	entries, err := f.kit.Entries.KPIEntries(ctx, f.orgID, definition.ID, f.date, f.date)
	if err != nil {
		t.Fatalf("KPIEntries error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].RoomID == nil || *entries[0].RoomID != roomID {
		t.Errorf("entry room = %v, want %s", entries[0].RoomID, roomID)
	}
	if entries[0].CalculatedValue != 0.75 {
		t.Errorf("CalculatedValue = %v, want 0.75", entries[0].CalculatedValue)
	}
}

// TestRecalcCancelledContext stops acquiring new groups and reports the
// interruption once the context is gone.
func TestRecalcCancelledContext(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	if _, err := f.kpis.CreateKPI(ctx, CreateKPIRequest{OrgID: f.orgID, Name: "Deal Size", Formula: "revenue / deals_closed"}); err != nil {
		t.Fatalf("CreateKPI error: %v", err)
	}
	revenueID := f.fieldID(t, "revenue")
	f.kit.SeedFieldEntry(f.orgID, revenueID, f.date, 50000)
	f.kit.SeedFieldEntry(f.orgID, f.fieldID(t, "deals_closed"), f.date, 10)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := f.recalc.OnFieldEntriesChanged(cancelled, f.orgID, f.date, []core.FieldID{revenueID})
	if err == nil {
		t.Fatal("cancelled context should interrupt recalculation")
	}
	if !strings.Contains(err.Error(), "recalculation interrupted") {
		t.Errorf("error = %q, want an interruption message", err)
	}
}

// TestRecalcNoChangedFields is a no-op.
func TestRecalcNoChangedFields(t *testing.T) {
	ctx := context.Background()
	f := newRecalcFixture(t)

	result, err := f.recalc.OnFieldEntriesChanged(ctx, f.orgID, f.date, nil)
	if err != nil {
		t.Fatalf("OnFieldEntriesChanged error: %v", err)
	}
	if result.Recalculated != 0 || result.Skipped != 0 || len(result.Errors) != 0 {
		t.Errorf("result = %+v, want zero work", result)
	}
}
