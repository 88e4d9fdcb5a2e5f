package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	OrgID     ID
	KPIID     ID
	FieldID   ID
	RoomID    ID
	EntryID   ID
	InsightID ID
)

// String conversions for domain IDs
func (id OrgID) String() string     { return ID(id).String() }
func (id KPIID) String() string     { return ID(id).String() }
func (id FieldID) String() string   { return ID(id).String() }
func (id RoomID) String() string    { return ID(id).String() }
func (id EntryID) String() string   { return ID(id).String() }
func (id InsightID) String() string { return ID(id).String() }

// ParseOrgID parses a string into OrgID
func ParseOrgID(s string) (OrgID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("org ID cannot be empty")
	}
	return OrgID(s), nil
}

// ParseKPIID parses a string into KPIID
func ParseKPIID(s string) (KPIID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("KPI ID cannot be empty")
	}
	return KPIID(s), nil
}

// ParseFieldID parses a string into FieldID
func ParseFieldID(s string) (FieldID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("field ID cannot be empty")
	}
	return FieldID(s), nil
}

// ParseRoomID parses a string into RoomID
func ParseRoomID(s string) (RoomID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}
	return RoomID(s), nil
}
