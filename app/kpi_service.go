package app

import (
	"context"
	"fmt"

	"gokpi/domain/core"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

// KPIService manages KPI definitions. Formula changes go through the
// calculation service for validation and through the resolver for link
// replacement; an invalid formula is never persisted.
type KPIService struct {
	kpis     ports.KPIRepository
	resolver *FieldResolverService
	calc     *CalculationService
	clock    ports.Clock
}

// NewKPIService creates a KPI service.
func NewKPIService(kpis ports.KPIRepository, resolver *FieldResolverService, calc *CalculationService, clock ports.Clock) *KPIService {
	return &KPIService{kpis: kpis, resolver: resolver, calc: calc, clock: clock}
}

// CreateKPIRequest defines inputs for KPI creation.
type CreateKPIRequest struct {
	OrgID       core.OrgID
	RoomID      *core.RoomID
	Name        string
	Category    string
	Description string
	Formula     string
	// FieldMappings pins specific variables to existing fields; unmapped
	// variables resolve (or lazily create) as usual.
	FieldMappings map[string]core.FieldID
}

// CreateKPI validates the formula, persists the definition with its cached
// input fields, and creates the dependency links.
func (s *KPIService) CreateKPI(ctx context.Context, req CreateKPIRequest) (*kpi.KPIDefinition, error) {
	inputFields, err := s.calc.ValidateFormula(req.Formula)
	if err != nil {
		return nil, err
	}

	now := core.NewTimestamp(s.clock.Now())
	definition := &kpi.KPIDefinition{
		ID:          core.KPIID(core.NewID()),
		OrgID:       req.OrgID,
		RoomID:      req.RoomID,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Formula:     req.Formula,
		InputFields: inputFields,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.kpis.Create(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to create kpi: %w", err)
	}

	mapping, err := s.resolver.ResolveOrCreate(ctx, req.OrgID, req.RoomID, req.Formula, req.FieldMappings)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RelinkKPI(ctx, definition.ID, mapping); err != nil {
		return nil, err
	}

	return definition, nil
}

// UpdateFormula replaces a KPI's formula. InputFields is recomputed and the
// dependency links are fully replaced, so the cached variable set is always
// exactly the extraction of the current formula.
func (s *KPIService) UpdateFormula(ctx context.Context, orgID core.OrgID, kpiID core.KPIID, formulaStr string, fieldMappings map[string]core.FieldID) (*kpi.KPIDefinition, error) {
	definition, err := s.kpis.GetByID(ctx, orgID, kpiID)
	if err != nil {
		return nil, err
	}

	inputFields, err := s.calc.ValidateFormula(formulaStr)
	if err != nil {
		return nil, err
	}

	definition.Formula = formulaStr
	definition.InputFields = inputFields
	definition.UpdatedAt = core.NewTimestamp(s.clock.Now())
	if err := s.kpis.Update(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update kpi %s: %w", kpiID, err)
	}

	mapping, err := s.resolver.ResolveOrCreate(ctx, orgID, definition.RoomID, formulaStr, fieldMappings)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RelinkKPI(ctx, kpiID, mapping); err != nil {
		return nil, err
	}

	return definition, nil
}

// GetKPI fetches a single definition scoped to the org.
func (s *KPIService) GetKPI(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) (*kpi.KPIDefinition, error) {
	return s.kpis.GetByID(ctx, orgID, kpiID)
}

// ListKPIs returns all definitions for an org.
func (s *KPIService) ListKPIs(ctx context.Context, orgID core.OrgID) ([]*kpi.KPIDefinition, error) {
	return s.kpis.ListByOrg(ctx, orgID)
}

// DeleteKPI removes a definition; its links cascade with it.
func (s *KPIService) DeleteKPI(ctx context.Context, orgID core.OrgID, kpiID core.KPIID) error {
	return s.kpis.Delete(ctx, orgID, kpiID)
}
