package ports

import (
	"context"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
)

// EntryRepository persists raw field samples and calculated KPI values.
// Both upserts are keyed on their natural identity and must be atomic at
// the storage layer: concurrent writers for the same cell resolve to
// last-writer-wins, never duplicate rows.
type EntryRepository interface {
	// UpsertFieldEntry writes one (field, date) sample, replacing any
	// existing value for that cell.
	UpsertFieldEntry(ctx context.Context, entry *kpi.FieldEntry) error
	FieldEntryOn(ctx context.Context, orgID core.OrgID, fieldID core.FieldID, date core.Date) (*kpi.FieldEntry, error)
	// FieldEntriesOn batch-fetches samples for several fields on one date,
	// keyed by field ID. Missing fields are simply absent from the map.
	FieldEntriesOn(ctx context.Context, orgID core.OrgID, fieldIDs []core.FieldID, date core.Date) (map[core.FieldID]*kpi.FieldEntry, error)
	LatestFieldEntry(ctx context.Context, orgID core.OrgID, fieldID core.FieldID) (*kpi.FieldEntry, error)

	// UpsertKPIEntry writes one (kpi, date, room-or-null) calculated cell,
	// replacing the values snapshot and calculated value if present.
	UpsertKPIEntry(ctx context.Context, entry *kpi.KPIEntry) error
	// KPIValuesSince returns calculated values for a KPI from a date
	// onward, most recent first, across all rooms.
	KPIValuesSince(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, since core.Date) ([]float64, error)
	// RecentKPIValues returns the latest calculated values, most recent first.
	RecentKPIValues(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, limit int) ([]float64, error)
	KPIEntries(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, from, to core.Date) ([]*kpi.KPIEntry, error)
	LastKPIEntryDate(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (*core.Date, error)
	// AllTimeRange returns the lowest and highest calculated value ever
	// recorded for a KPI; both nil when no entries exist.
	AllTimeRange(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (low, high *float64, err error)
	CountKPIEntries(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (int, error)
}
