package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// insightRepository implements the InsightRepository interface
type insightRepository struct {
	db *sqlx.DB
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db *sqlx.DB) ports.InsightRepository {
	return &insightRepository{db: db}
}

func kpiValue(id *core.KPIID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func (r *insightRepository) ReplaceForOrg(ctx context.Context, orgID core.OrgID, insights []*kpi.Insight) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM insights WHERE org_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to clear insights: %w", err)
	}
	for _, insight := range insights {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO insights (id, org_id, kpi_id, insight_text, priority, generated_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
			insight.ID, insight.OrgID, kpiValue(insight.KPIID),
			insight.Text, insight.Priority, insight.GeneratedAt.Time(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insight replacement: %w", err)
	}
	return nil
}

func (r *insightRepository) ListByOrg(ctx context.Context, orgID core.OrgID) ([]*kpi.Insight, error) {
	query := `SELECT id, org_id, kpi_id, insight_text, priority, generated_at
		FROM insights WHERE org_id = $1
		ORDER BY CASE priority
			WHEN 'high' THEN 0
			WHEN 'medium' THEN 1
			WHEN 'low' THEN 2
			ELSE 3
		END, generated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := make([]*kpi.Insight, 0)
	for rows.Next() {
		var insight kpi.Insight
		var kpiID sql.NullString
		var generatedAt time.Time

		err := rows.Scan(
			&insight.ID, &insight.OrgID, &kpiID,
			&insight.Text, &insight.Priority, &generatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if kpiID.Valid {
			id := core.KPIID(kpiID.String)
			insight.KPIID = &id
		}
		insight.GeneratedAt = core.NewTimestamp(generatedAt)
		insights = append(insights, &insight)
	}
	return insights, rows.Err()
}

func (r *insightRepository) OldestGeneratedAt(ctx context.Context, orgID core.OrgID) (*time.Time, error) {
	var generatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(generated_at) FROM insights WHERE org_id = $1`, orgID,
	).Scan(&generatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest insight time: %w", err)
	}
	if !generatedAt.Valid {
		return nil, nil
	}
	return &generatedAt.Time, nil
}
