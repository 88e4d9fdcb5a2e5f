package app

import (
	"context"
	"fmt"
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/formula"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// FieldEntryInput is one raw sample submitted for a date.
type FieldEntryInput struct {
	FieldID core.FieldID
	Value   float64
}

// EntryError records one failed submission unit without blocking the rest.
type EntryError struct {
	FieldID core.FieldID `json:"data_field_id,omitempty"`
	Row     int          `json:"row,omitempty"`
	Err     string       `json:"error"`
}

// SubmitResult is the outcome of a field-entry submission.
type SubmitResult struct {
	Entries      []*kpi.FieldEntry
	Recalculated int
	Errors       []EntryError
}

// ImportRow is one parsed row of a batch import: a date plus the variable
// values reported for it, optionally scoped to a room.
type ImportRow struct {
	Row    int
	Date   core.Date
	RoomID *core.RoomID
	Values map[string]float64
	// Problem is set by readers when a cell invalidates the whole row
	// (for example an unusable room reference); the row is reported and
	// skipped instead of half-imported.
	Problem string
}

// ImportResult aggregates a batch import. Partial success is the norm:
// failed rows land in Errors and the rest of the batch proceeds.
type ImportResult struct {
	RowsProcessed int
	EntriesSaved  int
	Recalculated  int
	Errors        []EntryError
}

// ImportService feeds submissions and batch imports into the core: it
// upserts raw samples and triggers recalculation of the affected KPIs,
// entry by entry, with no cross-entry locking.
type ImportService struct {
	fields   ports.FieldRepository
	entries  ports.EntryRepository
	resolver *FieldResolverService
	recalc   *RecalcService
	clock    ports.Clock
}

// NewImportService creates an import service.
func NewImportService(fields ports.FieldRepository, entries ports.EntryRepository, resolver *FieldResolverService, recalc *RecalcService, clock ports.Clock) *ImportService {
	return &ImportService{fields: fields, entries: entries, resolver: resolver, recalc: recalc, clock: clock}
}

// SubmitFieldEntries upserts the given samples for a date and recalculates
// every KPI depending on the touched fields. Individual failures collect
// into the result's error list.
func (s *ImportService) SubmitFieldEntries(ctx context.Context, orgID core.OrgID, enteredBy core.ID, date core.Date, inputs []FieldEntryInput) (SubmitResult, error) {
	var result SubmitResult
	var changed []core.FieldID

	for _, input := range inputs {
		field, err := s.fields.GetByID(ctx, orgID, input.FieldID)
		if err != nil {
			result.Errors = append(result.Errors, EntryError{FieldID: input.FieldID, Err: "data field not found"})
			continue
		}

		entry := &kpi.FieldEntry{
			ID:        core.EntryID(core.NewID()),
			OrgID:     orgID,
			FieldID:   field.ID,
			Date:      core.NormalizeForInterval(date, field.EntryInterval),
			Value:     input.Value,
			EnteredBy: enteredBy,
			UpdatedAt: core.NewTimestamp(s.clock.Now()),
		}
		if err := s.entries.UpsertFieldEntry(ctx, entry); err != nil {
			result.Errors = append(result.Errors, EntryError{FieldID: input.FieldID, Err: err.Error()})
			continue
		}
		result.Entries = append(result.Entries, entry)
		changed = append(changed, field.ID)
	}

	if len(changed) > 0 {
		recalc, err := s.recalc.OnFieldEntriesChanged(ctx, orgID, date, changed)
		if err != nil {
			return result, err
		}
		result.Recalculated = recalc.Recalculated
		for _, recalcErr := range recalc.Errors {
			result.Errors = append(result.Errors, EntryError{Err: recalcErr.Error()})
		}
	}

	return result, nil
}

// ImportRows ingests a batch of (date, variable values) rows. Variables
// with no backing field are created lazily, the way a formula variable
// would be, so an import can precede the KPIs that will consume it.
func (s *ImportService) ImportRows(ctx context.Context, orgID core.OrgID, enteredBy core.ID, rows []ImportRow) (ImportResult, error) {
	var result ImportResult

	for _, row := range rows {
		if row.Problem != "" {
			result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: row.Problem})
			continue
		}
		if len(row.Values) == 0 {
			result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: "no values in row"})
			continue
		}
		if row.Date.IsZero() {
			result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: "missing or invalid date"})
			continue
		}

		mapping, err := s.resolveRowFields(ctx, orgID, row)
		if err != nil {
			result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: err.Error()})
			continue
		}

		var changed []core.FieldID
		saved := 0
		for name, value := range row.Values {
			fieldID := mapping[name]
			entry := &kpi.FieldEntry{
				ID:        core.EntryID(core.NewID()),
				OrgID:     orgID,
				FieldID:   fieldID,
				Date:      row.Date,
				Value:     value,
				EnteredBy: enteredBy,
				UpdatedAt: core.NewTimestamp(s.clock.Now()),
			}
			if err := s.entries.UpsertFieldEntry(ctx, entry); err != nil {
				result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: fmt.Sprintf("field %s: %v", name, err)})
				continue
			}
			saved++
			changed = append(changed, fieldID)
		}
		result.EntriesSaved += saved

		if len(changed) > 0 {
			recalc, err := s.recalc.OnFieldEntriesChanged(ctx, orgID, row.Date, changed)
			if err != nil {
				return result, err
			}
			result.Recalculated += recalc.Recalculated
			for _, recalcErr := range recalc.Errors {
				result.Errors = append(result.Errors, EntryError{Row: row.Row, Err: recalcErr.Error()})
			}
		}
		result.RowsProcessed++
	}

	return result, nil
}

// resolveRowFields maps a row's variable names to field IDs, creating
// missing fields via the resolver. The variable names are joined into a
// synthetic formula so resolution follows exactly the same path a KPI
// formula's variables take.
func (s *ImportService) resolveRowFields(ctx context.Context, orgID core.OrgID, row ImportRow) (map[string]core.FieldID, error) {
	names := make([]string, 0, len(row.Values))
	for name := range row.Values {
		if !formula.IsValidIdentifier(name) {
			return nil, fmt.Errorf("invalid variable name %q", name)
		}
		names = append(names, name)
	}
	return s.resolver.ResolveOrCreate(ctx, orgID, row.RoomID, strings.Join(names, " + "), nil)
}
