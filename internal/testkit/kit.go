// Package testkit provides in-memory repository implementations and a
// fixed clock for exercising the application services without a database.
package testkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// The fakes must stay interchangeable with the real adapters.
var (
	_ ports.Clock             = (*FixedClock)(nil)
	_ ports.FieldRepository   = (*InMemoryFieldRepository)(nil)
	_ ports.KPIRepository     = (*InMemoryKPIRepository)(nil)
	_ ports.EntryRepository   = (*InMemoryEntryRepository)(nil)
	_ ports.InsightRepository = (*InMemoryInsightRepository)(nil)
)

// FixedClock returns a constant time, advanced explicitly by tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock pinned to the given time
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Today() core.Date {
	return core.DateOf(c.Now())
}

// Advance moves the clock forward
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func roomKey(roomID *core.RoomID) string {
	if roomID == nil {
		return ""
	}
	return roomID.String()
}

// InMemoryFieldRepository implements ports.FieldRepository in memory
type InMemoryFieldRepository struct {
	mu     sync.RWMutex
	fields map[core.FieldID]*kpi.DataField
}

// NewInMemoryFieldRepository creates an empty field repository
func NewInMemoryFieldRepository() *InMemoryFieldRepository {
	return &InMemoryFieldRepository{fields: make(map[core.FieldID]*kpi.DataField)}
}

func (r *InMemoryFieldRepository) identity(field *kpi.DataField) string {
	return fmt.Sprintf("%s|%s|%s", field.OrgID, field.VariableName, roomKey(field.RoomID))
}

func (r *InMemoryFieldRepository) Create(_ context.Context, field *kpi.DataField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.fields {
		if r.identity(existing) == r.identity(field) {
			return fmt.Errorf("%w: %s", core.ErrDuplicateField, field.VariableName)
		}
	}
	copied := *field
	r.fields[field.ID] = &copied
	return nil
}

func (r *InMemoryFieldRepository) GetByID(_ context.Context, orgID core.OrgID, id core.FieldID) (*kpi.DataField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	field, ok := r.fields[id]
	if !ok || field.OrgID != orgID {
		return nil, core.NewNotFoundError("data field", id.String())
	}
	copied := *field
	return &copied, nil
}

func (r *InMemoryFieldRepository) GetByVariable(_ context.Context, orgID core.OrgID, variableName string, roomID *core.RoomID) (*kpi.DataField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fallback *kpi.DataField
	for _, field := range r.fields {
		if field.OrgID != orgID || field.VariableName != variableName {
			continue
		}
		if roomID != nil {
			if field.RoomID != nil && *field.RoomID == *roomID {
				copied := *field
				return &copied, nil
			}
			continue
		}
		// org-wide lookup prefers the unscoped field
		if field.RoomID == nil {
			copied := *field
			return &copied, nil
		}
		if fallback == nil {
			fallback = field
		}
	}
	if roomID == nil && fallback != nil {
		copied := *fallback
		return &copied, nil
	}
	return nil, core.NewNotFoundError("data field", variableName)
}

func (r *InMemoryFieldRepository) ListByOrg(_ context.Context, orgID core.OrgID, roomID *core.RoomID) ([]*kpi.DataField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields := make([]*kpi.DataField, 0)
	for _, field := range r.fields {
		if field.OrgID != orgID {
			continue
		}
		if roomID != nil && (field.RoomID == nil || *field.RoomID != *roomID) {
			continue
		}
		copied := *field
		fields = append(fields, &copied)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func (r *InMemoryFieldRepository) Update(_ context.Context, field *kpi.DataField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.fields[field.ID]
	if !ok || existing.OrgID != field.OrgID {
		return core.NewNotFoundError("data field", field.ID.String())
	}
	copied := *field
	copied.VariableName = existing.VariableName // immutable
	r.fields[field.ID] = &copied
	return nil
}

func (r *InMemoryFieldRepository) Delete(_ context.Context, orgID core.OrgID, id core.FieldID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	field, ok := r.fields[id]
	if !ok || field.OrgID != orgID {
		return core.NewNotFoundError("data field", id.String())
	}
	delete(r.fields, id)
	return nil
}

// InMemoryKPIRepository implements ports.KPIRepository in memory
type InMemoryKPIRepository struct {
	mu          sync.RWMutex
	definitions map[core.KPIID]*kpi.KPIDefinition
	links       map[core.KPIID][]kpi.FieldLink
}

// NewInMemoryKPIRepository creates an empty KPI repository
func NewInMemoryKPIRepository() *InMemoryKPIRepository {
	return &InMemoryKPIRepository{
		definitions: make(map[core.KPIID]*kpi.KPIDefinition),
		links:       make(map[core.KPIID][]kpi.FieldLink),
	}
}

func (r *InMemoryKPIRepository) Create(_ context.Context, definition *kpi.KPIDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *definition
	r.definitions[definition.ID] = &copied
	return nil
}

func (r *InMemoryKPIRepository) Update(_ context.Context, definition *kpi.KPIDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.definitions[definition.ID]
	if !ok || existing.OrgID != definition.OrgID {
		return core.NewNotFoundError("kpi definition", definition.ID.String())
	}
	copied := *definition
	r.definitions[definition.ID] = &copied
	return nil
}

func (r *InMemoryKPIRepository) GetByID(_ context.Context, orgID core.OrgID, id core.KPIID) (*kpi.KPIDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	definition, ok := r.definitions[id]
	if !ok || definition.OrgID != orgID {
		return nil, core.NewNotFoundError("kpi definition", id.String())
	}
	copied := *definition
	return &copied, nil
}

func (r *InMemoryKPIRepository) ListByOrg(_ context.Context, orgID core.OrgID) ([]*kpi.KPIDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]*kpi.KPIDefinition, 0)
	for _, definition := range r.definitions {
		if definition.OrgID != orgID {
			continue
		}
		copied := *definition
		definitions = append(definitions, &copied)
	}
	sort.Slice(definitions, func(i, j int) bool { return definitions[i].Name < definitions[j].Name })
	return definitions, nil
}

func (r *InMemoryKPIRepository) Delete(_ context.Context, orgID core.OrgID, id core.KPIID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	definition, ok := r.definitions[id]
	if !ok || definition.OrgID != orgID {
		return core.NewNotFoundError("kpi definition", id.String())
	}
	delete(r.definitions, id)
	delete(r.links, id)
	return nil
}

func (r *InMemoryKPIRepository) ReplaceLinks(_ context.Context, kpiID core.KPIID, links []kpi.FieldLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := make([]kpi.FieldLink, len(links))
	copy(replaced, links)
	r.links[kpiID] = replaced
	return nil
}

func (r *InMemoryKPIRepository) LinksByKPI(_ context.Context, kpiID core.KPIID) ([]kpi.FieldLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	links := make([]kpi.FieldLink, len(r.links[kpiID]))
	copy(links, r.links[kpiID])
	sort.Slice(links, func(i, j int) bool { return links[i].VariableName < links[j].VariableName })
	return links, nil
}

func (r *InMemoryKPIRepository) LinksByFields(_ context.Context, fieldIDs []core.FieldID) ([]kpi.FieldLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[core.FieldID]bool, len(fieldIDs))
	for _, id := range fieldIDs {
		wanted[id] = true
	}
	matches := make([]kpi.FieldLink, 0)
	for _, links := range r.links {
		for _, link := range links {
			if wanted[link.FieldID] {
				matches = append(matches, link)
			}
		}
	}
	return matches, nil
}

func (r *InMemoryKPIRepository) CountLinksByField(_ context.Context, fieldID core.FieldID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, links := range r.links {
		for _, link := range links {
			if link.FieldID == fieldID {
				count++
			}
		}
	}
	return count, nil
}

// InMemoryEntryRepository implements ports.EntryRepository in memory
type InMemoryEntryRepository struct {
	mu           sync.RWMutex
	fieldEntries map[string]*kpi.FieldEntry // keyed field|date
	kpiEntries   map[string]*kpi.KPIEntry   // keyed kpi|date|room
}

// NewInMemoryEntryRepository creates an empty entry repository
func NewInMemoryEntryRepository() *InMemoryEntryRepository {
	return &InMemoryEntryRepository{
		fieldEntries: make(map[string]*kpi.FieldEntry),
		kpiEntries:   make(map[string]*kpi.KPIEntry),
	}
}

func fieldEntryKey(fieldID core.FieldID, date core.Date) string {
	return fmt.Sprintf("%s|%s", fieldID, date)
}

func kpiEntryKey(kpiID core.KPIID, date core.Date, roomID *core.RoomID) string {
	return fmt.Sprintf("%s|%s|%s", kpiID, date, roomKey(roomID))
}

func (r *InMemoryEntryRepository) UpsertFieldEntry(_ context.Context, entry *kpi.FieldEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	key := fieldEntryKey(entry.FieldID, entry.Date)
	if existing, ok := r.fieldEntries[key]; ok {
		copied.ID = existing.ID // identity survives the upsert
	}
	r.fieldEntries[key] = &copied
	return nil
}

func (r *InMemoryEntryRepository) FieldEntryOn(_ context.Context, orgID core.OrgID, fieldID core.FieldID, date core.Date) (*kpi.FieldEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.fieldEntries[fieldEntryKey(fieldID, date)]
	if !ok || entry.OrgID != orgID {
		return nil, core.NewNotFoundError("field entry", fmt.Sprintf("%s@%s", fieldID, date))
	}
	copied := *entry
	return &copied, nil
}

func (r *InMemoryEntryRepository) FieldEntriesOn(_ context.Context, orgID core.OrgID, fieldIDs []core.FieldID, date core.Date) (map[core.FieldID]*kpi.FieldEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make(map[core.FieldID]*kpi.FieldEntry)
	for _, fieldID := range fieldIDs {
		if entry, ok := r.fieldEntries[fieldEntryKey(fieldID, date)]; ok && entry.OrgID == orgID {
			copied := *entry
			entries[fieldID] = &copied
		}
	}
	return entries, nil
}

func (r *InMemoryEntryRepository) LatestFieldEntry(_ context.Context, orgID core.OrgID, fieldID core.FieldID) (*kpi.FieldEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *kpi.FieldEntry
	for _, entry := range r.fieldEntries {
		if entry.OrgID != orgID || entry.FieldID != fieldID {
			continue
		}
		if latest == nil || entry.Date.After(latest.Date) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, core.NewNotFoundError("field entry", fieldID.String())
	}
	copied := *latest
	return &copied, nil
}

func (r *InMemoryEntryRepository) UpsertKPIEntry(_ context.Context, entry *kpi.KPIEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	copied.Values = make(map[string]float64, len(entry.Values))
	for name, value := range entry.Values {
		copied.Values[name] = value
	}
	key := kpiEntryKey(entry.KPIID, entry.Date, entry.RoomID)
	if existing, ok := r.kpiEntries[key]; ok {
		copied.ID = existing.ID
	}
	r.kpiEntries[key] = &copied
	return nil
}

// kpiEntriesSorted returns an org's entries for one KPI, most recent first.
func (r *InMemoryEntryRepository) kpiEntriesSorted(orgID core.OrgID, kpiID core.KPIID) []*kpi.KPIEntry {
	entries := make([]*kpi.KPIEntry, 0)
	for _, entry := range r.kpiEntries {
		if entry.OrgID == orgID && entry.KPIID == kpiID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.After(entries[j].Date) })
	return entries
}

func (r *InMemoryEntryRepository) KPIValuesSince(_ context.Context, orgID core.OrgID, kpiID core.KPIID, since core.Date) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := make([]float64, 0)
	for _, entry := range r.kpiEntriesSorted(orgID, kpiID) {
		if entry.Date.Before(since) {
			continue
		}
		values = append(values, entry.CalculatedValue)
	}
	return values, nil
}

func (r *InMemoryEntryRepository) RecentKPIValues(_ context.Context, orgID core.OrgID, kpiID core.KPIID, limit int) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := make([]float64, 0, limit)
	for _, entry := range r.kpiEntriesSorted(orgID, kpiID) {
		if len(values) == limit {
			break
		}
		values = append(values, entry.CalculatedValue)
	}
	return values, nil
}

func (r *InMemoryEntryRepository) KPIEntries(_ context.Context, orgID core.OrgID, kpiID core.KPIID, from, to core.Date) ([]*kpi.KPIEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*kpi.KPIEntry, 0)
	for _, entry := range r.kpiEntriesSorted(orgID, kpiID) {
		if entry.Date.Before(from) || entry.Date.After(to) {
			continue
		}
		copied := *entry
		entries = append(entries, &copied)
	}
	// chronological for range queries
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	return entries, nil
}

func (r *InMemoryEntryRepository) LastKPIEntryDate(_ context.Context, orgID core.OrgID, kpiID core.KPIID) (*core.Date, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.kpiEntriesSorted(orgID, kpiID)
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[0].Date
	return &last, nil
}

func (r *InMemoryEntryRepository) AllTimeRange(_ context.Context, orgID core.OrgID, kpiID core.KPIID) (*float64, *float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var low, high *float64
	for _, entry := range r.kpiEntriesSorted(orgID, kpiID) {
		value := entry.CalculatedValue
		if low == nil || value < *low {
			v := value
			low = &v
		}
		if high == nil || value > *high {
			v := value
			high = &v
		}
	}
	return low, high, nil
}

func (r *InMemoryEntryRepository) CountKPIEntries(_ context.Context, orgID core.OrgID, kpiID core.KPIID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kpiEntriesSorted(orgID, kpiID)), nil
}

// InMemoryInsightRepository implements ports.InsightRepository in memory
type InMemoryInsightRepository struct {
	mu       sync.RWMutex
	insights map[core.OrgID][]*kpi.Insight
}

// NewInMemoryInsightRepository creates an empty insight repository
func NewInMemoryInsightRepository() *InMemoryInsightRepository {
	return &InMemoryInsightRepository{insights: make(map[core.OrgID][]*kpi.Insight)}
}

func (r *InMemoryInsightRepository) ReplaceForOrg(_ context.Context, orgID core.OrgID, insights []*kpi.Insight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := make([]*kpi.Insight, 0, len(insights))
	for _, insight := range insights {
		copied := *insight
		replaced = append(replaced, &copied)
	}
	r.insights[orgID] = replaced
	return nil
}

func (r *InMemoryInsightRepository) ListByOrg(_ context.Context, orgID core.OrgID) ([]*kpi.Insight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	insights := make([]*kpi.Insight, 0, len(r.insights[orgID]))
	for _, insight := range r.insights[orgID] {
		copied := *insight
		insights = append(insights, &copied)
	}
	sort.SliceStable(insights, func(i, j int) bool {
		ri, rj := kpi.PriorityRank(insights[i].Priority), kpi.PriorityRank(insights[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return insights[i].GeneratedAt.After(insights[j].GeneratedAt)
	})
	return insights, nil
}

func (r *InMemoryInsightRepository) OldestGeneratedAt(_ context.Context, orgID core.OrgID) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var oldest *time.Time
	for _, insight := range r.insights[orgID] {
		generatedAt := insight.GeneratedAt.Time()
		if oldest == nil || generatedAt.Before(*oldest) {
			oldest = &generatedAt
		}
	}
	return oldest, nil
}

// Kit bundles the in-memory repositories and a fixed clock for service tests.
type Kit struct {
	Fields   *InMemoryFieldRepository
	KPIs     *InMemoryKPIRepository
	Entries  *InMemoryEntryRepository
	Insights *InMemoryInsightRepository
	Clock    *FixedClock
}

// NewKit creates a kit with the clock pinned to the given time
func NewKit(now time.Time) *Kit {
	return &Kit{
		Fields:   NewInMemoryFieldRepository(),
		KPIs:     NewInMemoryKPIRepository(),
		Entries:  NewInMemoryEntryRepository(),
		Insights: NewInMemoryInsightRepository(),
		Clock:    NewFixedClock(now),
	}
}

// SeedField inserts a data field fixture and returns it
func (k *Kit) SeedField(orgID core.OrgID, variableName string, roomID *core.RoomID) *kpi.DataField {
	field := &kpi.DataField{
		ID:            core.FieldID(core.NewID()),
		OrgID:         orgID,
		RoomID:        roomID,
		Name:          strings.ReplaceAll(variableName, "_", " "),
		VariableName:  variableName,
		EntryInterval: kpi.IntervalDaily,
		CreatedAt:     core.NewTimestamp(k.Clock.Now()),
	}
	if err := k.Fields.Create(context.Background(), field); err != nil {
		panic(fmt.Sprintf("seed field %s: %v", variableName, err))
	}
	return field
}

// SeedFieldEntry inserts a raw sample fixture
func (k *Kit) SeedFieldEntry(orgID core.OrgID, fieldID core.FieldID, date core.Date, value float64) {
	entry := &kpi.FieldEntry{
		ID:        core.EntryID(core.NewID()),
		OrgID:     orgID,
		FieldID:   fieldID,
		Date:      date,
		Value:     value,
		UpdatedAt: core.NewTimestamp(k.Clock.Now()),
	}
	if err := k.Entries.UpsertFieldEntry(context.Background(), entry); err != nil {
		panic(fmt.Sprintf("seed field entry: %v", err))
	}
}

// SeedKPIEntry inserts a calculated cell fixture
func (k *Kit) SeedKPIEntry(orgID core.OrgID, kpiID core.KPIID, date core.Date, value float64) {
	entry := &kpi.KPIEntry{
		ID:              core.EntryID(core.NewID()),
		OrgID:           orgID,
		KPIID:           kpiID,
		Date:            date,
		Values:          map[string]float64{},
		CalculatedValue: value,
		UpdatedAt:       core.NewTimestamp(k.Clock.Now()),
	}
	if err := k.Entries.UpsertKPIEntry(context.Background(), entry); err != nil {
		panic(fmt.Sprintf("seed kpi entry: %v", err))
	}
}
