package formula

import (
	"fmt"
	"strings"
)

// ErrorKind classifies formula failures so callers can report them to the
// KPI author without inspecting message text.
type ErrorKind int

const (
	// KindEmptyFormula - blank or whitespace-only formula
	KindEmptyFormula ErrorKind = iota
	// KindNoVariables - parseable but references no data field
	KindNoVariables
	// KindSyntax - not parseable as an expression
	KindSyntax
	// KindUnsupportedConstruct - parseable syntax outside the whitelist
	// (function call, attribute access, subscript, unsupported operator,
	// non-numeric literal, reserved keyword as variable)
	KindUnsupportedConstruct
	// KindMissingVariable - evaluation requested without full bindings
	KindMissingVariable
	// KindDivisionByZero - / or % with a zero divisor
	KindDivisionByZero
	// KindNonNumericResult - evaluation did not reduce to a number
	KindNonNumericResult
)

// Error is the typed failure returned by validation and evaluation.
type Error struct {
	Kind      ErrorKind
	Construct string   // set for KindUnsupportedConstruct
	Missing   []string // set for KindMissingVariable
	Pos       int      // byte offset into the formula, where known
	Detail    string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindEmptyFormula:
		return "formula cannot be empty"
	case KindNoVariables:
		return "formula must contain at least one variable"
	case KindSyntax:
		if e.Detail != "" {
			return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Detail)
		}
		return fmt.Sprintf("syntax error at offset %d", e.Pos)
	case KindUnsupportedConstruct:
		return fmt.Sprintf("%s is not allowed in formulas", e.Construct)
	case KindMissingVariable:
		return fmt.Sprintf("missing values for variables: %s", strings.Join(e.Missing, ", "))
	case KindDivisionByZero:
		return "division by zero"
	case KindNonNumericResult:
		return "formula did not evaluate to a number"
	default:
		return "invalid formula"
	}
}

// Is makes errors.Is match on kind so a bare &Error{Kind: ...} works as a target
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func syntaxErr(pos int, detail string) *Error {
	return &Error{Kind: KindSyntax, Pos: pos, Detail: detail}
}

func unsupportedErr(construct string, pos int) *Error {
	return &Error{Kind: KindUnsupportedConstruct, Construct: construct, Pos: pos}
}
