// Package app contains the application services orchestrating the KPI
// core: calculation, field resolution, recalculation, statistics, insight
// generation, and batch import. Services hold ports, never storage.
package app

import (
	"fmt"
	"math"
	"strings"

	"gokpi/domain/formula"
	"gokpi/domain/stats"
)

// CalcErrorKind classifies calculation failures per data submission.
type CalcErrorKind int

const (
	// CalcMissingValue - a required variable is absent or nil
	CalcMissingValue CalcErrorKind = iota
	// CalcInvalidNumber - an input is not a finite number
	CalcInvalidNumber
	// CalcFormula - the formula itself failed (syntax, security, division
	// by zero, missing variable at evaluation)
	CalcFormula
	// CalcUndefinedResult - the raw result is NaN
	CalcUndefinedResult
	// CalcOverflow - the raw result is ±Inf
	CalcOverflow
)

// CalcError is a typed, recoverable calculation failure. It surfaces per
// submission row and never aborts a batch.
type CalcError struct {
	Kind  CalcErrorKind
	Field string // set for CalcMissingValue / CalcInvalidNumber
	Cause error  // set for CalcFormula
}

func (e *CalcError) Error() string {
	switch e.Kind {
	case CalcMissingValue:
		return fmt.Sprintf("missing value for field: %s", e.Field)
	case CalcInvalidNumber:
		return fmt.Sprintf("invalid numeric value for field: %s", e.Field)
	case CalcFormula:
		return e.Cause.Error()
	case CalcUndefinedResult:
		return "calculation resulted in undefined value (NaN)"
	case CalcOverflow:
		return "calculation resulted in infinity"
	default:
		return "calculation error"
	}
}

func (e *CalcError) Unwrap() error { return e.Cause }

// Is matches on kind so errors.Is(err, &CalcError{Kind: ...}) works.
func (e *CalcError) Is(target error) bool {
	t, ok := target.(*CalcError)
	return ok && t.Kind == e.Kind
}

// CalculationService computes KPI values from formulas and input bindings,
// enforcing the numeric domain checks the raw engine leaves to callers.
type CalculationService struct{}

// NewCalculationService creates a calculation service.
func NewCalculationService() *CalculationService {
	return &CalculationService{}
}

// Calculate evaluates a KPI formula against nullable input values.
//
// Every required variable (the formula's extracted set) must be present
// and non-nil, and every provided value must be finite, before evaluation
// is attempted. A NaN result fails as undefined, ±Inf as overflow. A
// successful result is rounded to stats.RoundPrecision decimal places
// using round-half-to-even (pinned; see Round).
func (s *CalculationService) Calculate(formulaStr string, values map[string]*float64) (float64, error) {
	required := formula.ExtractVariables(formulaStr)

	bindings := make(map[string]float64, len(values))
	for _, name := range required {
		value, ok := values[name]
		if !ok || value == nil {
			return 0, &CalcError{Kind: CalcMissingValue, Field: name}
		}
	}
	for name, value := range values {
		if value == nil {
			return 0, &CalcError{Kind: CalcMissingValue, Field: name}
		}
		if math.IsNaN(*value) || math.IsInf(*value, 0) {
			return 0, &CalcError{Kind: CalcInvalidNumber, Field: name}
		}
		bindings[name] = *value
	}

	result, err := formula.Evaluate(formulaStr, bindings)
	if err != nil {
		return 0, &CalcError{Kind: CalcFormula, Cause: err}
	}

	if math.IsNaN(result) {
		return 0, &CalcError{Kind: CalcUndefinedResult}
	}
	if math.IsInf(result, 0) {
		return 0, &CalcError{Kind: CalcOverflow}
	}

	return stats.Round(result), nil
}

// CalculateValues is Calculate for callers that already hold concrete
// (non-nullable) bindings, such as the recalculation engine.
func (s *CalculationService) CalculateValues(formulaStr string, values map[string]float64) (float64, error) {
	nullable := make(map[string]*float64, len(values))
	for name := range values {
		v := values[name]
		nullable[name] = &v
	}
	return s.Calculate(formulaStr, nullable)
}

// ValidateFormula checks a formula at definition/edit time and returns its
// input fields. The formula is never persisted when this fails.
func (s *CalculationService) ValidateFormula(formulaStr string) ([]string, error) {
	result := formula.Validate(formulaStr)
	if !result.OK {
		return nil, result.Err
	}
	return result.Variables, nil
}

// MissingInputs lists required fields absent from the provided values, in
// formula order.
func (s *CalculationService) MissingInputs(requiredFields []string, provided map[string]*float64) []string {
	var missing []string
	for _, name := range requiredFields {
		if _, ok := provided[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Summarize computes the statistical summary of a most-recent-first value
// series.
func (s *CalculationService) Summarize(values []float64) stats.Summary {
	return stats.Summarize(values)
}

// FormatMissing renders a missing-field list for error reporting.
func FormatMissing(missing []string) string {
	return strings.Join(missing, ", ")
}
