// Package kpi holds the entities of the KPI tracking model: data fields,
// KPI definitions with their formulas and dependency links, the per-day
// entry rows, and generated insights.
package kpi

import (
	"gokpi/domain/core"
)

// DataField is a named numeric input variable scoped to an organization
// and optionally to a room. Identity for uniqueness purposes is
// (org, variable_name, room-or-null). VariableName is immutable once
// created; Name is the mutable human label.
type DataField struct {
	ID            core.FieldID `json:"id"`
	OrgID         core.OrgID   `json:"org_id"`
	RoomID        *core.RoomID `json:"room_id,omitempty"`
	Name          string       `json:"name"`
	VariableName  string       `json:"variable_name"`
	Description   string       `json:"description,omitempty"`
	Unit          string       `json:"unit,omitempty"`
	EntryInterval string       `json:"entry_interval"`
	CreatedAt     core.Timestamp `json:"created_at"`
}

// Entry intervals a data field may be sampled at
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
	IntervalCustom  = "custom"
)

// KPIDefinition owns exactly one formula. InputFields caches the formula's
// free variables as of the last formula edit; the dependency links are
// fully replaced whenever the formula changes so no stale variable link
// survives an edit.
type KPIDefinition struct {
	ID          core.KPIID   `json:"id"`
	OrgID       core.OrgID   `json:"org_id"`
	RoomID      *core.RoomID `json:"room_id,omitempty"`
	Name        string       `json:"name"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description,omitempty"`
	Formula     string       `json:"formula"`
	InputFields []string     `json:"input_fields"`
	CreatedAt   core.Timestamp `json:"created_at"`
	UpdatedAt   core.Timestamp `json:"updated_at"`
}

// FieldLink is one KPI→DataField dependency edge, one per free variable of
// the KPI's formula. Owned by the KPI and cascade-deleted with it.
type FieldLink struct {
	ID           core.ID      `json:"id"`
	KPIID        core.KPIID   `json:"kpi_id"`
	FieldID      core.FieldID `json:"data_field_id"`
	VariableName string       `json:"variable_name"`
}

// FieldEntry is one raw numeric sample: at most one value per field per
// date. Upserting an existing (field, date) replaces the value and
// re-triggers recalculation.
type FieldEntry struct {
	ID        core.EntryID `json:"id"`
	OrgID     core.OrgID   `json:"org_id"`
	FieldID   core.FieldID `json:"data_field_id"`
	Date      core.Date    `json:"date"`
	Value     float64      `json:"value"`
	EnteredBy core.ID      `json:"entered_by,omitempty"`
	UpdatedAt core.Timestamp `json:"updated_at"`
}

// KPIEntry is one calculated KPI value for a (kpi, date, room-or-null)
// cell, with the snapshot of variable bindings that produced it. Written
// only by the recalculation engine, never hand-edited.
type KPIEntry struct {
	ID              core.EntryID       `json:"id"`
	OrgID           core.OrgID         `json:"org_id"`
	KPIID           core.KPIID         `json:"kpi_id"`
	RoomID          *core.RoomID       `json:"room_id,omitempty"`
	Date            core.Date          `json:"date"`
	Values          map[string]float64 `json:"values"`
	CalculatedValue float64            `json:"calculated_value"`
	UpdatedAt       core.Timestamp     `json:"updated_at"`
}

// Priority levels for insights
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Insight is one generated observation about a KPI's recent behavior. An
// org's insight set is regenerated wholesale; rows are never patched.
type Insight struct {
	ID          core.InsightID `json:"id"`
	OrgID       core.OrgID     `json:"org_id"`
	KPIID       *core.KPIID    `json:"kpi_id,omitempty"`
	Text        string         `json:"insight_text"`
	Priority    string         `json:"priority"`
	GeneratedAt core.Timestamp `json:"generated_at"`
}

// PriorityRank orders priorities for display, high first.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}
