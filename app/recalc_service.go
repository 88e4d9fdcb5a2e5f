package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/internal"
	"gokpi/ports"
)

// DefaultRecalcParallelism bounds how many (KPI, room) groups recompute
// concurrently for one date.
const DefaultRecalcParallelism = 4

// RecalcError records one failed (KPI, room) group. Failures are
// collected, never thrown: one bad KPI must not abort the batch.
type RecalcError struct {
	KPIID  core.KPIID
	RoomID *core.RoomID
	Err    error
}

func (e RecalcError) Error() string {
	if e.RoomID != nil {
		return fmt.Sprintf("kpi %s room %s: %v", e.KPIID, *e.RoomID, e.Err)
	}
	return fmt.Sprintf("kpi %s: %v", e.KPIID, e.Err)
}

// RecalcResult is the outcome of one recalculation pass.
type RecalcResult struct {
	// Recalculated counts the groups that produced or updated a KPI entry.
	Recalculated int
	// Skipped counts groups whose inputs were incomplete for the date.
	// Not errors; the KPI simply isn't computable there yet.
	Skipped int
	Errors  []RecalcError
}

// RecalcService recomputes KPI values when field entries change. For each
// affected KPI it refetches all dependency links (a KPI's value depends on
// every variable, not just the changed ones), groups them by the backing
// field's room, and recomputes each group whose inputs are complete for
// the date. Recalculation is re-entrant and idempotent: recomputing an
// already-computed cell with the same inputs upserts the same row.
type RecalcService struct {
	kpis    ports.KPIRepository
	fields  ports.FieldRepository
	entries ports.EntryRepository
	calc    *CalculationService
	clock   ports.Clock

	parallelism int64
	cellLocks   sync.Map // cell key -> *sync.Mutex
}

// NewRecalcService creates a recalculation service.
func NewRecalcService(kpis ports.KPIRepository, fields ports.FieldRepository, entries ports.EntryRepository, calc *CalculationService, clock ports.Clock) *RecalcService {
	return &RecalcService{
		kpis:        kpis,
		fields:      fields,
		entries:     entries,
		calc:        calc,
		clock:       clock,
		parallelism: DefaultRecalcParallelism,
	}
}

// SetParallelism overrides the group recomputation bound.
func (s *RecalcService) SetParallelism(n int) {
	if n > 0 {
		s.parallelism = int64(n)
	}
}

// recalcGroup is one (KPI, room) unit of work for a date.
type recalcGroup struct {
	definition *kpi.KPIDefinition
	roomID     *core.RoomID
	links      []kpi.FieldLink
}

// OnFieldEntriesChanged recomputes every KPI depending on any of the
// changed fields for the given date. Distinct groups run in parallel up to
// the configured bound; the same cell never recomputes concurrently.
func (s *RecalcService) OnFieldEntriesChanged(ctx context.Context, orgID core.OrgID, date core.Date, changedFieldIDs []core.FieldID) (RecalcResult, error) {
	if len(changedFieldIDs) == 0 {
		return RecalcResult{}, nil
	}

	groups, err := s.collectGroups(ctx, orgID, changedFieldIDs)
	if err != nil {
		return RecalcResult{}, err
	}

	var (
		mu     sync.Mutex
		result RecalcResult
		wg     sync.WaitGroup
	)
	sem := semaphore.NewWeighted(s.parallelism)

	for _, group := range groups {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Already-launched groups still hold references to result;
			// let them drain before handing back the partial counts.
			wg.Wait()
			return result, fmt.Errorf("recalculation interrupted: %w", err)
		}
		wg.Add(1)
		go func(g recalcGroup) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := s.recalcCell(ctx, orgID, date, g)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.err != nil:
				result.Errors = append(result.Errors, RecalcError{KPIID: g.definition.ID, RoomID: g.roomID, Err: outcome.err})
			case outcome.skipped:
				result.Skipped++
			default:
				result.Recalculated++
			}
		}(group)
	}
	wg.Wait()

	return result, nil
}

// collectGroups fans out from the changed fields to the affected KPIs and
// regroups each KPI's full dependency set by the room of its backing field.
// One KPI's dependencies may span several rooms, each yielding an
// independent group (and so an independent KPI entry for the date).
func (s *RecalcService) collectGroups(ctx context.Context, orgID core.OrgID, changedFieldIDs []core.FieldID) ([]recalcGroup, error) {
	changedLinks, err := s.kpis.LinksByFields(ctx, changedFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("dependency fan-out failed: %w", err)
	}

	kpiIDs := make([]core.KPIID, 0, len(changedLinks))
	seen := make(map[core.KPIID]bool, len(changedLinks))
	for _, link := range changedLinks {
		if !seen[link.KPIID] {
			seen[link.KPIID] = true
			kpiIDs = append(kpiIDs, link.KPIID)
		}
	}
	// Deterministic processing order regardless of fan-out order
	sort.Slice(kpiIDs, func(i, j int) bool { return kpiIDs[i] < kpiIDs[j] })

	fieldRooms := make(map[core.FieldID]*core.RoomID)
	var groups []recalcGroup

	for _, kpiID := range kpiIDs {
		definition, err := s.kpis.GetByID(ctx, orgID, kpiID)
		if err != nil {
			if core.IsNotFoundError(err) {
				continue // linked KPI belongs to another org or is gone
			}
			return nil, fmt.Errorf("failed to load kpi %s: %w", kpiID, err)
		}

		allLinks, err := s.kpis.LinksByKPI(ctx, kpiID)
		if err != nil {
			return nil, fmt.Errorf("failed to load links for kpi %s: %w", kpiID, err)
		}

		byRoom := make(map[string][]kpi.FieldLink)
		roomOf := make(map[string]*core.RoomID)
		for _, link := range allLinks {
			roomID, ok := fieldRooms[link.FieldID]
			if !ok {
				field, err := s.fields.GetByID(ctx, orgID, link.FieldID)
				if err != nil {
					if core.IsNotFoundError(err) {
						fieldRooms[link.FieldID] = nil
						byRoom[""] = append(byRoom[""], link)
						continue
					}
					return nil, fmt.Errorf("failed to load field %s: %w", link.FieldID, err)
				}
				roomID = field.RoomID
				fieldRooms[link.FieldID] = roomID
			}
			key := ""
			if roomID != nil {
				key = roomID.String()
			}
			byRoom[key] = append(byRoom[key], link)
			roomOf[key] = roomID
		}

		roomKeys := make([]string, 0, len(byRoom))
		for key := range byRoom {
			roomKeys = append(roomKeys, key)
		}
		sort.Strings(roomKeys)
		for _, key := range roomKeys {
			groups = append(groups, recalcGroup{
				definition: definition,
				roomID:     roomOf[key],
				links:      byRoom[key],
			})
		}
	}

	return groups, nil
}

type cellOutcome struct {
	skipped bool
	err     error
}

// recalcCell recomputes one (KPI, room, date) cell under its cell lock.
// Incomplete inputs skip silently; no partial KPI entry is ever written.
func (s *RecalcService) recalcCell(ctx context.Context, orgID core.OrgID, date core.Date, group recalcGroup) cellOutcome {
	unlock := s.lockCell(group.definition.ID, group.roomID, date)
	defer unlock()

	fieldIDs := make([]core.FieldID, len(group.links))
	for i, link := range group.links {
		fieldIDs[i] = link.FieldID
	}

	fieldEntries, err := s.entries.FieldEntriesOn(ctx, orgID, fieldIDs, date)
	if err != nil {
		return cellOutcome{err: fmt.Errorf("failed to fetch field entries: %w", err)}
	}

	values := make(map[string]float64, len(group.links))
	for _, link := range group.links {
		entry, ok := fieldEntries[link.FieldID]
		if !ok {
			internal.DefaultLogger.Debug("recalc: kpi %s date %s waiting on %s, skipping", group.definition.ID, date, link.VariableName)
			return cellOutcome{skipped: true}
		}
		values[link.VariableName] = entry.Value
	}

	calculated, err := s.calc.CalculateValues(group.definition.Formula, values)
	if err != nil {
		return cellOutcome{err: err}
	}

	entry := &kpi.KPIEntry{
		ID:              core.EntryID(core.NewID()),
		OrgID:           orgID,
		KPIID:           group.definition.ID,
		RoomID:          group.roomID,
		Date:            date,
		Values:          values,
		CalculatedValue: calculated,
		UpdatedAt:       core.NewTimestamp(s.clock.Now()),
	}
	if err := s.entries.UpsertKPIEntry(ctx, entry); err != nil {
		return cellOutcome{err: fmt.Errorf("failed to upsert kpi entry: %w", err)}
	}

	return cellOutcome{}
}

// lockCell serializes recomputation of a single (kpi, room, date) cell.
func (s *RecalcService) lockCell(kpiID core.KPIID, roomID *core.RoomID, date core.Date) func() {
	key := kpiID.String() + "|" + date.String()
	if roomID != nil {
		key += "|" + roomID.String()
	}
	lock, _ := s.cellLocks.LoadOrStore(key, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
