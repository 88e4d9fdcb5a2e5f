package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/formula"
	"gokpi/domain/kpi"
	"gokpi/ports"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// FieldResolverService binds formula variables to data fields: it resolves
// existing fields, lazily creates missing ones, maintains the KPI
// dependency links, and guards field deletion.
type FieldResolverService struct {
	fields ports.FieldRepository
	kpis   ports.KPIRepository
	clock  ports.Clock
}

// NewFieldResolverService creates a field resolver.
func NewFieldResolverService(fields ports.FieldRepository, kpis ports.KPIRepository, clock ports.Clock) *FieldResolverService {
	return &FieldResolverService{fields: fields, kpis: kpis, clock: clock}
}

// GenerateVariableName converts a display name to a snake_case variable
// name: "Revenue Per Employee" -> "revenue_per_employee". A name that
// would start with a digit gets an underscore prefix; a name that slugs to
// nothing becomes "unnamed_field".
func GenerateVariableName(name string) string {
	cleaned := nonAlphanumeric.ReplaceAllString(name, "")
	varName := strings.ToLower(whitespaceRun.ReplaceAllString(strings.TrimSpace(cleaned), "_"))
	if varName != "" && varName[0] >= '0' && varName[0] <= '9' {
		varName = "_" + varName
	}
	if varName == "" {
		return "unnamed_field"
	}
	return varName
}

// DisplayNameFor derives a human label from a variable name:
// "deals_closed" -> "Deals Closed".
func DisplayNameFor(variableName string) string {
	words := strings.Split(variableName, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// EnsureUniqueVariableName slugifies a display name and appends _2, _3, …
// until the result is unique within the org. excludeFieldID skips the
// field being renamed so its own row doesn't count as a collision.
func (s *FieldResolverService) EnsureUniqueVariableName(ctx context.Context, orgID core.OrgID, desiredDisplayName string, excludeFieldID *core.FieldID) (string, error) {
	base := GenerateVariableName(desiredDisplayName)
	candidate := base
	for counter := 2; ; counter++ {
		existing, err := s.fields.GetByVariable(ctx, orgID, candidate, nil)
		if err != nil {
			if core.IsNotFoundError(err) {
				return candidate, nil
			}
			return "", fmt.Errorf("variable name lookup failed: %w", err)
		}
		if excludeFieldID != nil && existing.ID == *excludeFieldID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, counter)
	}
}

// ResolveOrCreate maps every free variable of a formula to a data field ID.
//
// Resolution order per variable: explicit mapping (used verbatim, no
// existence check), existing field scoped to the given room, existing
// org-wide field, then lazy creation in the given room with a title-cased
// display name. A uniqueness violation during creation means another
// caller won the race; the existing row is fetched instead of failing.
func (s *FieldResolverService) ResolveOrCreate(
	ctx context.Context,
	orgID core.OrgID,
	roomID *core.RoomID,
	formulaStr string,
	explicitMappings map[string]core.FieldID,
) (map[string]core.FieldID, error) {
	variables := formula.ExtractVariables(formulaStr)
	mapping := make(map[string]core.FieldID, len(variables))

	for _, name := range variables {
		if fieldID, ok := explicitMappings[name]; ok {
			mapping[name] = fieldID
			continue
		}

		existing, err := s.lookupVariable(ctx, orgID, name, roomID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			mapping[name] = existing.ID
			continue
		}

		field := &kpi.DataField{
			ID:            core.FieldID(core.NewID()),
			OrgID:         orgID,
			RoomID:        roomID,
			Name:          DisplayNameFor(name),
			VariableName:  name,
			EntryInterval: kpi.IntervalDaily,
			CreatedAt:     core.NewTimestamp(s.clock.Now()),
		}
		if err := s.fields.Create(ctx, field); err != nil {
			if core.IsDuplicateFieldError(err) {
				// Lost the creation race; the winner's row is the field.
				winner, lookupErr := s.lookupVariable(ctx, orgID, name, roomID)
				if lookupErr != nil {
					return nil, lookupErr
				}
				if winner == nil {
					return nil, fmt.Errorf("field %q vanished after duplicate create: %w", name, err)
				}
				mapping[name] = winner.ID
				continue
			}
			return nil, fmt.Errorf("failed to create data field %q: %w", name, err)
		}
		mapping[name] = field.ID
	}

	return mapping, nil
}

// lookupVariable checks the room scope first, then org-wide. Returns nil
// without error when the variable has no backing field yet.
func (s *FieldResolverService) lookupVariable(ctx context.Context, orgID core.OrgID, name string, roomID *core.RoomID) (*kpi.DataField, error) {
	if roomID != nil {
		field, err := s.fields.GetByVariable(ctx, orgID, name, roomID)
		if err == nil {
			return field, nil
		}
		if !core.IsNotFoundError(err) {
			return nil, fmt.Errorf("field lookup failed for %q: %w", name, err)
		}
	}
	field, err := s.fields.GetByVariable(ctx, orgID, name, nil)
	if err != nil {
		if core.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("field lookup failed for %q: %w", name, err)
	}
	return field, nil
}

// RelinkKPI atomically replaces all dependency links for a KPI. Always
// delete-then-insert so no stale variable link from a previous formula
// version survives an edit.
func (s *FieldResolverService) RelinkKPI(ctx context.Context, kpiID core.KPIID, variableToField map[string]core.FieldID) error {
	links := make([]kpi.FieldLink, 0, len(variableToField))
	for name, fieldID := range variableToField {
		links = append(links, kpi.FieldLink{
			ID:           core.NewID(),
			KPIID:        kpiID,
			FieldID:      fieldID,
			VariableName: name,
		})
	}
	if err := s.kpis.ReplaceLinks(ctx, kpiID, links); err != nil {
		return fmt.Errorf("failed to replace links for kpi %s: %w", kpiID, err)
	}
	return nil
}

// DeleteField removes a data field, refusing while any KPI references it.
func (s *FieldResolverService) DeleteField(ctx context.Context, orgID core.OrgID, fieldID core.FieldID) error {
	field, err := s.fields.GetByID(ctx, orgID, fieldID)
	if err != nil {
		return err
	}
	count, err := s.kpis.CountLinksByField(ctx, fieldID)
	if err != nil {
		return fmt.Errorf("failed to count references for field %s: %w", fieldID, err)
	}
	if count > 0 {
		return core.NewFieldInUseError(field.Name, count)
	}
	return s.fields.Delete(ctx, orgID, fieldID)
}

// ReferencingKPICount reports how many dependency links point at a field.
func (s *FieldResolverService) ReferencingKPICount(ctx context.Context, fieldID core.FieldID) (int, error) {
	return s.kpis.CountLinksByField(ctx, fieldID)
}
