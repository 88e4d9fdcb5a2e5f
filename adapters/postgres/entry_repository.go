package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// entryRepository implements the EntryRepository interface
type entryRepository struct {
	db *sqlx.DB
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *sqlx.DB) ports.EntryRepository {
	return &entryRepository{db: db}
}

func enteredByValue(id core.ID) interface{} {
	if id == "" {
		return nil
	}
	return id.String()
}

func (r *entryRepository) UpsertFieldEntry(ctx context.Context, entry *kpi.FieldEntry) error {
	// ON CONFLICT targets the UNIQUE(data_field_id, date) constraint;
	// last writer wins for the cell.
	query := `INSERT INTO data_field_entries
		(id, org_id, data_field_id, date, value, entered_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (data_field_id, date) DO UPDATE SET
			value = EXCLUDED.value,
			entered_by = EXCLUDED.entered_by,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OrgID, entry.FieldID, entry.Date.Time(),
		entry.Value, enteredByValue(entry.EnteredBy), entry.UpdatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert field entry: %w", err)
	}
	return nil
}

const fieldEntryColumns = `id, org_id, data_field_id, date, value, entered_by, updated_at`

func scanFieldEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (*kpi.FieldEntry, error) {
	var entry kpi.FieldEntry
	var date time.Time
	var enteredBy sql.NullString
	var updatedAt time.Time

	err := scanner.Scan(
		&entry.ID, &entry.OrgID, &entry.FieldID, &date,
		&entry.Value, &enteredBy, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Date = core.DateOf(date)
	if enteredBy.Valid {
		entry.EnteredBy = core.ID(enteredBy.String)
	}
	entry.UpdatedAt = core.NewTimestamp(updatedAt)
	return &entry, nil
}

func (r *entryRepository) FieldEntryOn(ctx context.Context, orgID core.OrgID, fieldID core.FieldID, date core.Date) (*kpi.FieldEntry, error) {
	query := `SELECT ` + fieldEntryColumns + ` FROM data_field_entries
		WHERE org_id = $1 AND data_field_id = $2 AND date = $3`

	entry, err := scanFieldEntry(r.db.QueryRowContext(ctx, query, orgID, fieldID, date.Time()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("field entry", fmt.Sprintf("%s@%s", fieldID, date))
		}
		return nil, fmt.Errorf("failed to get field entry: %w", err)
	}
	return entry, nil
}

func (r *entryRepository) FieldEntriesOn(ctx context.Context, orgID core.OrgID, fieldIDs []core.FieldID, date core.Date) (map[core.FieldID]*kpi.FieldEntry, error) {
	entries := make(map[core.FieldID]*kpi.FieldEntry)
	if len(fieldIDs) == 0 {
		return entries, nil
	}
	ids := make([]string, len(fieldIDs))
	for i, id := range fieldIDs {
		ids[i] = id.String()
	}

	query, args, err := sqlx.In(
		`SELECT `+fieldEntryColumns+` FROM data_field_entries
			WHERE org_id = ? AND date = ? AND data_field_id IN (?)`,
		orgID, date.Time(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build entry query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query field entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanFieldEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field entry: %w", err)
		}
		entries[entry.FieldID] = entry
	}
	return entries, rows.Err()
}

func (r *entryRepository) LatestFieldEntry(ctx context.Context, orgID core.OrgID, fieldID core.FieldID) (*kpi.FieldEntry, error) {
	query := `SELECT ` + fieldEntryColumns + ` FROM data_field_entries
		WHERE org_id = $1 AND data_field_id = $2
		ORDER BY date DESC LIMIT 1`

	entry, err := scanFieldEntry(r.db.QueryRowContext(ctx, query, orgID, fieldID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("field entry", fieldID.String())
		}
		return nil, fmt.Errorf("failed to get latest field entry: %w", err)
	}
	return entry, nil
}

func (r *entryRepository) UpsertKPIEntry(ctx context.Context, entry *kpi.KPIEntry) error {
	inputValues, err := json.Marshal(entry.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal entry values: %w", err)
	}

	// The conflict target is the expression index over
	// (kpi_id, date, COALESCE(room_id, zero-uuid)) so NULL rooms still
	// collide with each other.
	query := `INSERT INTO kpi_entries
		(id, org_id, kpi_id, room_id, date, input_values, calculated_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kpi_id, date, (COALESCE(room_id, '00000000-0000-0000-0000-000000000000'::uuid))) DO UPDATE SET
			input_values = EXCLUDED.input_values,
			calculated_value = EXCLUDED.calculated_value,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.OrgID, entry.KPIID, roomValue(entry.RoomID),
		entry.Date.Time(), inputValues, entry.CalculatedValue, entry.UpdatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert kpi entry: %w", err)
	}
	return nil
}

func (r *entryRepository) KPIValuesSince(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, since core.Date) ([]float64, error) {
	query := `SELECT calculated_value FROM kpi_entries
		WHERE org_id = $1 AND kpi_id = $2 AND date >= $3
		ORDER BY date DESC`

	return r.queryValues(ctx, query, orgID, kpiID, since.Time())
}

func (r *entryRepository) RecentKPIValues(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, limit int) ([]float64, error) {
	query := `SELECT calculated_value FROM kpi_entries
		WHERE org_id = $1 AND kpi_id = $2
		ORDER BY date DESC LIMIT $3`

	return r.queryValues(ctx, query, orgID, kpiID, limit)
}

func (r *entryRepository) queryValues(ctx context.Context, query string, args ...interface{}) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi values: %w", err)
	}
	defer rows.Close()

	values := make([]float64, 0)
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan kpi value: %w", err)
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func (r *entryRepository) KPIEntries(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, from, to core.Date) ([]*kpi.KPIEntry, error) {
	query := `SELECT id, org_id, kpi_id, room_id, date, input_values, calculated_value, updated_at
		FROM kpi_entries
		WHERE org_id = $1 AND kpi_id = $2 AND date >= $3 AND date <= $4
		ORDER BY date`

	rows, err := r.db.QueryContext(ctx, query, orgID, kpiID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*kpi.KPIEntry, 0)
	for rows.Next() {
		var entry kpi.KPIEntry
		var roomID sql.NullString
		var date time.Time
		var values []byte
		var updatedAt time.Time

		err := rows.Scan(
			&entry.ID, &entry.OrgID, &entry.KPIID, &roomID, &date,
			&values, &entry.CalculatedValue, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kpi entry: %w", err)
		}
		if err := json.Unmarshal(values, &entry.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry values: %w", err)
		}
		entry.RoomID = scanRoom(roomID)
		entry.Date = core.DateOf(date)
		entry.UpdatedAt = core.NewTimestamp(updatedAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (r *entryRepository) LastKPIEntryDate(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (*core.Date, error) {
	var date time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT date FROM kpi_entries WHERE org_id = $1 AND kpi_id = $2 ORDER BY date DESC LIMIT 1`,
		orgID, kpiID,
	).Scan(&date)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last entry date: %w", err)
	}
	last := core.DateOf(date)
	return &last, nil
}

func (r *entryRepository) AllTimeRange(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (*float64, *float64, error) {
	var low, high sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(calculated_value), MAX(calculated_value) FROM kpi_entries WHERE org_id = $1 AND kpi_id = $2`,
		orgID, kpiID,
	).Scan(&low, &high)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get all-time range: %w", err)
	}
	if !low.Valid || !high.Valid {
		return nil, nil, nil
	}
	return &low.Float64, &high.Float64, nil
}

func (r *entryRepository) CountKPIEntries(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kpi_entries WHERE org_id = $1 AND kpi_id = $2`,
		orgID, kpiID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count kpi entries: %w", err)
	}
	return count, nil
}
