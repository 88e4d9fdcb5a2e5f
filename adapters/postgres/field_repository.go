// Package postgres implements the core's repository ports on PostgreSQL
// via sqlx. The uniqueness constraints and upserts the core's concurrency
// semantics rely on live in the schema under migrations/.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func roomValue(roomID *core.RoomID) interface{} {
	if roomID == nil {
		return nil
	}
	return roomID.String()
}

func scanRoom(value sql.NullString) *core.RoomID {
	if !value.Valid {
		return nil
	}
	roomID := core.RoomID(value.String)
	return &roomID
}

// fieldRepository implements the FieldRepository interface
type fieldRepository struct {
	db *sqlx.DB
}

// NewFieldRepository creates a new data field repository
func NewFieldRepository(db *sqlx.DB) ports.FieldRepository {
	return &fieldRepository{db: db}
}

const fieldColumns = `id, org_id, room_id, name, variable_name, description, unit, entry_interval, created_at`

func (r *fieldRepository) Create(ctx context.Context, field *kpi.DataField) error {
	query := `INSERT INTO data_fields (` + fieldColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		field.ID, field.OrgID, roomValue(field.RoomID), field.Name,
		field.VariableName, field.Description, field.Unit,
		field.EntryInterval, field.CreatedAt.Time(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Another caller created the same (org, variable, room) first;
			// the resolver re-fetches rather than failing.
			return fmt.Errorf("%w: %s", core.ErrDuplicateField, field.VariableName)
		}
		return fmt.Errorf("failed to create data field: %w", err)
	}
	return nil
}

func (r *fieldRepository) scanField(row *sql.Row) (*kpi.DataField, error) {
	var field kpi.DataField
	var roomID sql.NullString
	var createdAt time.Time

	err := row.Scan(
		&field.ID, &field.OrgID, &roomID, &field.Name,
		&field.VariableName, &field.Description, &field.Unit,
		&field.EntryInterval, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	field.RoomID = scanRoom(roomID)
	field.CreatedAt = core.NewTimestamp(createdAt)
	return &field, nil
}

func (r *fieldRepository) GetByID(ctx context.Context, orgID core.OrgID, id core.FieldID) (*kpi.DataField, error) {
	query := `SELECT ` + fieldColumns + ` FROM data_fields WHERE org_id = $1 AND id = $2`

	field, err := r.scanField(r.db.QueryRowContext(ctx, query, orgID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("data field", id.String())
		}
		return nil, fmt.Errorf("failed to get data field: %w", err)
	}
	return field, nil
}

func (r *fieldRepository) GetByVariable(ctx context.Context, orgID core.OrgID, variableName string, roomID *core.RoomID) (*kpi.DataField, error) {
	var row *sql.Row
	if roomID != nil {
		query := `SELECT ` + fieldColumns + ` FROM data_fields
			WHERE org_id = $1 AND variable_name = $2 AND room_id = $3`
		row = r.db.QueryRowContext(ctx, query, orgID, variableName, roomID.String())
	} else {
		query := `SELECT ` + fieldColumns + ` FROM data_fields
			WHERE org_id = $1 AND variable_name = $2
			ORDER BY room_id NULLS FIRST LIMIT 1`
		row = r.db.QueryRowContext(ctx, query, orgID, variableName)
	}

	field, err := r.scanField(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("data field", variableName)
		}
		return nil, fmt.Errorf("failed to get data field by variable: %w", err)
	}
	return field, nil
}

func (r *fieldRepository) ListByOrg(ctx context.Context, orgID core.OrgID, roomID *core.RoomID) ([]*kpi.DataField, error) {
	query := `SELECT ` + fieldColumns + ` FROM data_fields WHERE org_id = $1 ORDER BY name`
	args := []interface{}{orgID}
	if roomID != nil {
		query = `SELECT ` + fieldColumns + ` FROM data_fields
			WHERE org_id = $1 AND room_id = $2 ORDER BY name`
		args = append(args, roomID.String())
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data fields: %w", err)
	}
	defer rows.Close()

	fields := make([]*kpi.DataField, 0)
	for rows.Next() {
		var field kpi.DataField
		var room sql.NullString
		var createdAt time.Time
		err := rows.Scan(
			&field.ID, &field.OrgID, &room, &field.Name,
			&field.VariableName, &field.Description, &field.Unit,
			&field.EntryInterval, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data field: %w", err)
		}
		field.RoomID = scanRoom(room)
		field.CreatedAt = core.NewTimestamp(createdAt)
		fields = append(fields, &field)
	}
	return fields, rows.Err()
}

func (r *fieldRepository) Update(ctx context.Context, field *kpi.DataField) error {
	// variable_name is immutable and deliberately absent here
	query := `UPDATE data_fields SET
		name = $3, description = $4, unit = $5, entry_interval = $6, room_id = $7
		WHERE org_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query,
		field.OrgID, field.ID, field.Name, field.Description,
		field.Unit, field.EntryInterval, roomValue(field.RoomID),
	)
	if err != nil {
		return fmt.Errorf("failed to update data field: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return core.NewNotFoundError("data field", field.ID.String())
	}
	return nil
}

func (r *fieldRepository) Delete(ctx context.Context, orgID core.OrgID, id core.FieldID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM data_fields WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete data field: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return core.NewNotFoundError("data field", id.String())
	}
	return nil
}
