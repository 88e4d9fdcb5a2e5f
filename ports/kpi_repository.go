// Package ports defines the interfaces between the KPI core and its
// persistence collaborators. The core never touches storage directly; it
// consumes and exposes these contracts only.
package ports

import (
	"context"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
)

// KPIRepository persists KPI definitions and their dependency links.
type KPIRepository interface {
	Create(ctx context.Context, definition *kpi.KPIDefinition) error
	Update(ctx context.Context, definition *kpi.KPIDefinition) error
	GetByID(ctx context.Context, orgID core.OrgID, id core.KPIID) (*kpi.KPIDefinition, error)
	ListByOrg(ctx context.Context, orgID core.OrgID) ([]*kpi.KPIDefinition, error)
	Delete(ctx context.Context, orgID core.OrgID, id core.KPIID) error

	// ReplaceLinks atomically swaps a KPI's dependency links:
	// delete-then-insert in one transaction, never a partial update.
	ReplaceLinks(ctx context.Context, kpiID core.KPIID, links []kpi.FieldLink) error
	LinksByKPI(ctx context.Context, kpiID core.KPIID) ([]kpi.FieldLink, error)
	// LinksByFields fans out from changed data fields to every link that
	// references any of them.
	LinksByFields(ctx context.Context, fieldIDs []core.FieldID) ([]kpi.FieldLink, error)
	CountLinksByField(ctx context.Context, fieldID core.FieldID) (int, error)
}
