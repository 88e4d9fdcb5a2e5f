package ports

import (
	"context"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
)

// InsightRepository persists generated insights. Regeneration is wholesale:
// ReplaceForOrg deletes the org's prior set and inserts the new one in a
// single transaction, so a stale insight never survives a run.
type InsightRepository interface {
	ReplaceForOrg(ctx context.Context, orgID core.OrgID, insights []*kpi.Insight) error
	// ListByOrg returns insights ordered by priority (high first), then
	// generation time.
	ListByOrg(ctx context.Context, orgID core.OrgID) ([]*kpi.Insight, error)
	// OldestGeneratedAt anchors the freshness window; nil when the org has
	// no insights.
	OldestGeneratedAt(ctx context.Context, orgID core.OrgID) (*time.Time, error)
}
