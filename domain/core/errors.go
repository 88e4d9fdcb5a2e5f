package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound        = errors.New("resource not found")
	ErrKPINotFound     = fmt.Errorf("%w: kpi", ErrNotFound)
	ErrFieldNotFound   = fmt.Errorf("%w: data field", ErrNotFound)
	ErrEntryNotFound   = fmt.Errorf("%w: entry", ErrNotFound)
	ErrInsightNotFound = fmt.Errorf("%w: insight", ErrNotFound)

	// Storage constraint errors
	ErrDuplicateField = errors.New("data field already exists")

	// Precondition errors
	ErrFieldInUse = errors.New("data field is referenced by KPIs")
)

// NewNotFoundError builds a not-found error with resource context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// NewFieldInUseError reports a blocked data-field deletion with the
// number of KPIs still referencing it.
func NewFieldInUseError(name string, kpiCount int) error {
	return fmt.Errorf("%w: cannot delete %q, used by %d KPI(s)", ErrFieldInUse, name, kpiCount)
}

// IsNotFoundError checks whether err is any not-found variant
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateFieldError checks for the uniqueness-constraint race on field
// creation; callers treat this as "fetch the existing row", not a failure.
func IsDuplicateFieldError(err error) bool {
	return errors.Is(err, ErrDuplicateField)
}

// IsFieldInUseError checks for the blocked-deletion precondition failure
func IsFieldInUseError(err error) bool {
	return errors.Is(err, ErrFieldInUse)
}
