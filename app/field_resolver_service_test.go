package app

import (
	"context"
	"testing"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/internal/testkit"
)

func newResolverKit(t *testing.T) (*testkit.Kit, *FieldResolverService) {
	t.Helper()
	kit := testkit.NewKit(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	resolver := NewFieldResolverService(kit.Fields, kit.KPIs, kit.Clock)
	return kit, resolver
}

// TestGenerateVariableName covers the display-name slugging rules.
func TestGenerateVariableName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Revenue Per Employee", "revenue_per_employee"},
		{"  Deals   Closed! ", "deals_closed"},
		{"Q4-Pipeline (USD)", "q4pipeline_usd"},
		{"90 Day Retention", "_90_day_retention"},
		{"???", "unnamed_field"},
		{"", "unnamed_field"},
	}

	for _, tt := range tests {
		if got := GenerateVariableName(tt.name); got != tt.want {
			t.Errorf("GenerateVariableName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// TestDisplayNameFor derives a label from a variable name.
func TestDisplayNameFor(t *testing.T) {
	tests := []struct {
		variable string
		want     string
	}{
		{"deals_closed", "Deals Closed"},
		{"revenue", "Revenue"},
		{"total_ARR", "Total Arr"},
	}

	for _, tt := range tests {
		if got := DisplayNameFor(tt.variable); got != tt.want {
			t.Errorf("DisplayNameFor(%q) = %q, want %q", tt.variable, got, tt.want)
		}
	}
}

// TestEnsureUniqueVariableName appends a numeric suffix on collision and
// skips the excluded field's own row.
func TestEnsureUniqueVariableName(t *testing.T) {
	ctx := context.Background()
	kit, resolver := newResolverKit(t)
	orgID := core.OrgID(core.NewID())

	existing := kit.SeedField(orgID, "revenue", nil)

	got, err := resolver.EnsureUniqueVariableName(ctx, orgID, "Revenue", nil)
	if err != nil {
		t.Fatalf("EnsureUniqueVariableName error: %v", err)
	}
	if got != "revenue_2" {
		t.Errorf("collision: got %q, want %q", got, "revenue_2")
	}

	kit.SeedField(orgID, "revenue_2", nil)
	got, err = resolver.EnsureUniqueVariableName(ctx, orgID, "Revenue", nil)
	if err != nil {
		t.Fatalf("EnsureUniqueVariableName error: %v", err)
	}
	if got != "revenue_3" {
		t.Errorf("second collision: got %q, want %q", got, "revenue_3")
	}

	got, err = resolver.EnsureUniqueVariableName(ctx, orgID, "Revenue", &existing.ID)
	if err != nil {
		t.Fatalf("EnsureUniqueVariableName error: %v", err)
	}
	if got != "revenue" {
		t.Errorf("rename to own name: got %q, want %q", got, "revenue")
	}
}

// TestResolveOrCreateResolutionOrder checks the per-variable precedence:
// explicit mapping, room-scoped field, org-wide field, lazy creation.
func TestResolveOrCreateResolutionOrder(t *testing.T) {
	ctx := context.Background()
	kit, resolver := newResolverKit(t)
	orgID := core.OrgID(core.NewID())
	roomID := core.RoomID(core.NewID())

	orgWide := kit.SeedField(orgID, "revenue", nil)
	scoped := kit.SeedField(orgID, "revenue", &roomID)
	pinnedID := core.FieldID(core.NewID())

	// Explicit mapping wins over both existing fields.
	mapping, err := resolver.ResolveOrCreate(ctx, orgID, &roomID, "revenue * 2", map[string]core.FieldID{"revenue": pinnedID})
	if err != nil {
		t.Fatalf("ResolveOrCreate error: %v", err)
	}
	if mapping["revenue"] != pinnedID {
		t.Errorf("explicit mapping: got %s, want %s", mapping["revenue"], pinnedID)
	}

	// Room scope wins over the org-wide field.
	mapping, err = resolver.ResolveOrCreate(ctx, orgID, &roomID, "revenue * 2", nil)
	if err != nil {
		t.Fatalf("ResolveOrCreate error: %v", err)
	}
	if mapping["revenue"] != scoped.ID {
		t.Errorf("room scope: got %s, want %s", mapping["revenue"], scoped.ID)
	}

	// Without a room, the org-wide field resolves.
	mapping, err = resolver.ResolveOrCreate(ctx, orgID, nil, "revenue * 2", nil)
	if err != nil {
		t.Fatalf("ResolveOrCreate error: %v", err)
	}
	if mapping["revenue"] != orgWide.ID {
		t.Errorf("org-wide: got %s, want %s", mapping["revenue"], orgWide.ID)
	}
}

// TestResolveOrCreateLazyCreation creates missing fields with a derived
// display name and the daily interval.
func TestResolveOrCreateLazyCreation(t *testing.T) {
	ctx := context.Background()
	kit, resolver := newResolverKit(t)
	orgID := core.OrgID(core.NewID())

	mapping, err := resolver.ResolveOrCreate(ctx, orgID, nil, "(new_sales + upsells) / total_leads", nil)
	if err != nil {
		t.Fatalf("ResolveOrCreate error: %v", err)
	}
	if len(mapping) != 3 {
		t.Fatalf("mapping size = %d, want 3", len(mapping))
	}

	field, err := kit.Fields.GetByID(ctx, orgID, mapping["new_sales"])
	if err != nil {
		t.Fatalf("created field not persisted: %v", err)
	}
	if field.Name != "New Sales" {
		t.Errorf("display name = %q, want %q", field.Name, "New Sales")
	}
	if field.VariableName != "new_sales" {
		t.Errorf("variable name = %q, want %q", field.VariableName, "new_sales")
	}
	if field.EntryInterval != kpi.IntervalDaily {
		t.Errorf("interval = %q, want %q", field.EntryInterval, kpi.IntervalDaily)
	}

	// Resolving again reuses the created fields.
	again, err := resolver.ResolveOrCreate(ctx, orgID, nil, "new_sales + upsells + total_leads", nil)
	if err != nil {
		t.Fatalf("second ResolveOrCreate error: %v", err)
	}
	for name, id := range mapping {
		if again[name] != id {
			t.Errorf("variable %q remapped to %s, want %s", name, again[name], id)
		}
	}
}

// TestRelinkKPIReplacesLinks confirms no stale link survives a formula
// change.
func TestRelinkKPIReplacesLinks(t *testing.T) {
	ctx := context.Background()
	kit, resolver := newResolverKit(t)
	orgID := core.OrgID(core.NewID())
	kpiID := core.KPIID(core.NewID())

	first := kit.SeedField(orgID, "revenue", nil)
	second := kit.SeedField(orgID, "churn", nil)

	if err := resolver.RelinkKPI(ctx, kpiID, map[string]core.FieldID{"revenue": first.ID}); err != nil {
		t.Fatalf("RelinkKPI error: %v", err)
	}
	if err := resolver.RelinkKPI(ctx, kpiID, map[string]core.FieldID{"churn": second.ID}); err != nil {
		t.Fatalf("second RelinkKPI error: %v", err)
	}

	links, err := kit.KPIs.LinksByKPI(ctx, kpiID)
	if err != nil {
		t.Fatalf("LinksByKPI error: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	if links[0].VariableName != "churn" || links[0].FieldID != second.ID {
		t.Errorf("surviving link = %+v, want churn -> %s", links[0], second.ID)
	}
}

// TestDeleteFieldRefusesWhileReferenced guards deletion behind the link
// count.
func TestDeleteFieldRefusesWhileReferenced(t *testing.T) {
	ctx := context.Background()
	kit, resolver := newResolverKit(t)
	orgID := core.OrgID(core.NewID())
	kpiID := core.KPIID(core.NewID())

	field := kit.SeedField(orgID, "revenue", nil)
	if err := resolver.RelinkKPI(ctx, kpiID, map[string]core.FieldID{"revenue": field.ID}); err != nil {
		t.Fatalf("RelinkKPI error: %v", err)
	}

	err := resolver.DeleteField(ctx, orgID, field.ID)
	if !core.IsFieldInUseError(err) {
		t.Fatalf("DeleteField while referenced: got %v, want field-in-use error", err)
	}

	if err := resolver.RelinkKPI(ctx, kpiID, nil); err != nil {
		t.Fatalf("unlink error: %v", err)
	}
	if err := resolver.DeleteField(ctx, orgID, field.ID); err != nil {
		t.Fatalf("DeleteField after unlink: %v", err)
	}
	if _, err := kit.Fields.GetByID(ctx, orgID, field.ID); !core.IsNotFoundError(err) {
		t.Errorf("field should be gone, got %v", err)
	}
}

// TestDeleteFieldUnknown surfaces not-found for a missing field.
func TestDeleteFieldUnknown(t *testing.T) {
	ctx := context.Background()
	_, resolver := newResolverKit(t)

	err := resolver.DeleteField(ctx, core.OrgID(core.NewID()), core.FieldID(core.NewID()))
	if !core.IsNotFoundError(err) {
		t.Errorf("got %v, want not-found", err)
	}
}
