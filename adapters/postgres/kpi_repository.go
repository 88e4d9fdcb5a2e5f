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

// kpiRepository implements the KPIRepository interface
type kpiRepository struct {
	db *sqlx.DB
}

// NewKPIRepository creates a new KPI definition repository
func NewKPIRepository(db *sqlx.DB) ports.KPIRepository {
	return &kpiRepository{db: db}
}

func (r *kpiRepository) Create(ctx context.Context, definition *kpi.KPIDefinition) error {
	inputFields, err := json.Marshal(definition.InputFields)
	if err != nil {
		return fmt.Errorf("failed to marshal input fields: %w", err)
	}

	query := `INSERT INTO kpi_definitions
		(id, org_id, room_id, name, category, description, formula, input_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID, definition.OrgID, roomValue(definition.RoomID),
		definition.Name, definition.Category, definition.Description,
		definition.Formula, inputFields,
		definition.CreatedAt.Time(), definition.UpdatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to create kpi definition: %w", err)
	}
	return nil
}

func (r *kpiRepository) Update(ctx context.Context, definition *kpi.KPIDefinition) error {
	inputFields, err := json.Marshal(definition.InputFields)
	if err != nil {
		return fmt.Errorf("failed to marshal input fields: %w", err)
	}

	query := `UPDATE kpi_definitions SET
		name = $3, category = $4, description = $5, formula = $6,
		input_fields = $7, room_id = $8, updated_at = $9
		WHERE org_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query,
		definition.OrgID, definition.ID, definition.Name, definition.Category,
		definition.Description, definition.Formula, inputFields,
		roomValue(definition.RoomID), definition.UpdatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to update kpi definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return core.NewNotFoundError("kpi definition", definition.ID.String())
	}
	return nil
}

const kpiColumns = `id, org_id, room_id, name, category, description, formula, input_fields, created_at, updated_at`

func scanKPIDefinition(scanner interface {
	Scan(dest ...interface{}) error
}) (*kpi.KPIDefinition, error) {
	var definition kpi.KPIDefinition
	var roomID sql.NullString
	var inputFields []byte
	var createdAt, updatedAt time.Time

	err := scanner.Scan(
		&definition.ID, &definition.OrgID, &roomID, &definition.Name,
		&definition.Category, &definition.Description, &definition.Formula,
		&inputFields, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputFields, &definition.InputFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input fields: %w", err)
	}
	definition.RoomID = scanRoom(roomID)
	definition.CreatedAt = core.NewTimestamp(createdAt)
	definition.UpdatedAt = core.NewTimestamp(updatedAt)
	return &definition, nil
}

func (r *kpiRepository) GetByID(ctx context.Context, orgID core.OrgID, id core.KPIID) (*kpi.KPIDefinition, error) {
	query := `SELECT ` + kpiColumns + ` FROM kpi_definitions WHERE org_id = $1 AND id = $2`

	definition, err := scanKPIDefinition(r.db.QueryRowContext(ctx, query, orgID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("kpi definition", id.String())
		}
		return nil, fmt.Errorf("failed to get kpi definition: %w", err)
	}
	return definition, nil
}

func (r *kpiRepository) ListByOrg(ctx context.Context, orgID core.OrgID) ([]*kpi.KPIDefinition, error) {
	query := `SELECT ` + kpiColumns + ` FROM kpi_definitions WHERE org_id = $1 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi definitions: %w", err)
	}
	defer rows.Close()

	definitions := make([]*kpi.KPIDefinition, 0)
	for rows.Next() {
		definition, err := scanKPIDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kpi definition: %w", err)
		}
		definitions = append(definitions, definition)
	}
	return definitions, rows.Err()
}

func (r *kpiRepository) Delete(ctx context.Context, orgID core.OrgID, id core.KPIID) error {
	// kpi_data_fields rows cascade with the definition
	result, err := r.db.ExecContext(ctx, `DELETE FROM kpi_definitions WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete kpi definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return core.NewNotFoundError("kpi definition", id.String())
	}
	return nil
}

func (r *kpiRepository) ReplaceLinks(ctx context.Context, kpiID core.KPIID, links []kpi.FieldLink) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kpi_data_fields WHERE kpi_id = $1`, kpiID); err != nil {
		return fmt.Errorf("failed to clear kpi links: %w", err)
	}
	for _, link := range links {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kpi_data_fields (id, kpi_id, data_field_id, variable_name) VALUES ($1, $2, $3, $4)`,
			link.ID, link.KPIID, link.FieldID, link.VariableName,
		)
		if err != nil {
			return fmt.Errorf("failed to insert kpi link: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit link replacement: %w", err)
	}
	return nil
}

func (r *kpiRepository) LinksByKPI(ctx context.Context, kpiID core.KPIID) ([]kpi.FieldLink, error) {
	query := `SELECT id, kpi_id, data_field_id, variable_name
		FROM kpi_data_fields WHERE kpi_id = $1 ORDER BY variable_name`

	rows, err := r.db.QueryContext(ctx, query, kpiID)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

func (r *kpiRepository) LinksByFields(ctx context.Context, fieldIDs []core.FieldID) ([]kpi.FieldLink, error) {
	if len(fieldIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fieldIDs))
	for i, id := range fieldIDs {
		ids[i] = id.String()
	}

	query, args, err := sqlx.In(
		`SELECT id, kpi_id, data_field_id, variable_name FROM kpi_data_fields WHERE data_field_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build link query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links by fields: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]kpi.FieldLink, error) {
	links := make([]kpi.FieldLink, 0)
	for rows.Next() {
		var link kpi.FieldLink
		if err := rows.Scan(&link.ID, &link.KPIID, &link.FieldID, &link.VariableName); err != nil {
			return nil, fmt.Errorf("failed to scan kpi link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *kpiRepository) CountLinksByField(ctx context.Context, fieldID core.FieldID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kpi_data_fields WHERE data_field_id = $1`, fieldID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count field links: %w", err)
	}
	return count, nil
}
