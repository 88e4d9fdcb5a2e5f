package ports

import (
	"context"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
)

// FieldRepository persists data fields. Create must surface the
// (org, variable_name, room) uniqueness violation as
// core.ErrDuplicateField so concurrent creators can retry by lookup.
type FieldRepository interface {
	Create(ctx context.Context, field *kpi.DataField) error
	GetByID(ctx context.Context, orgID core.OrgID, id core.FieldID) (*kpi.DataField, error)
	// GetByVariable resolves a variable name within an org. roomID narrows
	// the lookup to one partition; nil means org-wide (any partition).
	GetByVariable(ctx context.Context, orgID core.OrgID, variableName string, roomID *core.RoomID) (*kpi.DataField, error)
	ListByOrg(ctx context.Context, orgID core.OrgID, roomID *core.RoomID) ([]*kpi.DataField, error)
	// Update persists label changes only; VariableName is immutable.
	Update(ctx context.Context, field *kpi.DataField) error
	Delete(ctx context.Context, orgID core.OrgID, id core.FieldID) error
}
