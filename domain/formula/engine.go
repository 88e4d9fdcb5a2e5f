// Package formula implements the restricted arithmetic expression language
// KPI definitions are written in. It parses, validates, and evaluates
// user-supplied formula strings without any escape hatch into the host
// runtime: only numeric literals, identifiers, + - * / % **, unary signs,
// and parentheses are admitted, and both walks fail closed on anything else.
package formula

import (
	"math"
	"regexp"
	"strings"
)

// reservedKeywords are tokens that are never treated as variables.
var reservedKeywords = map[string]bool{
	"True":  true,
	"False": true,
	"None":  true,
	"and":   true,
	"or":    true,
	"not":   true,
}

// variablePattern matches identifier tokens in a raw formula string.
var variablePattern = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\b`)

// IsValidIdentifier reports whether s can serve as a data-field variable name.
func IsValidIdentifier(s string) bool {
	if s == "" || reservedKeywords[s] {
		return false
	}
	return variablePattern.FindString(s) == s
}

// ExtractVariables returns the formula's identifier tokens with reserved
// keywords stripped and duplicates collapsed, preserving first-seen order.
// It scans the raw string and never fails; an unparseable formula simply
// yields whatever identifiers appear in it.
func ExtractVariables(input string) []string {
	matches := variablePattern.FindAllString(input, -1)
	seen := make(map[string]bool, len(matches))
	variables := make([]string, 0, len(matches))
	for _, name := range matches {
		if reservedKeywords[name] || seen[name] {
			continue
		}
		seen[name] = true
		variables = append(variables, name)
	}
	return variables
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	OK        bool
	Variables []string
	Err       *Error
}

// Validate checks a formula for syntax and safety and extracts its free
// variables. A formula must reference at least one variable; a pure
// constant expression is rejected.
func Validate(input string) ValidationResult {
	if strings.TrimSpace(input) == "" {
		return ValidationResult{Err: &Error{Kind: KindEmptyFormula}}
	}

	variables := ExtractVariables(input)
	if len(variables) == 0 {
		return ValidationResult{Err: &Error{Kind: KindNoVariables}}
	}

	expr, err := Parse(input)
	if err != nil {
		return ValidationResult{Err: err.(*Error)}
	}
	if verr := validateExpr(expr); verr != nil {
		return ValidationResult{Err: verr}
	}

	return ValidationResult{OK: true, Variables: variables}
}

// validateExpr walks the tree enumerating the allowed node kinds. The
// parser cannot currently produce anything else, but the whitelist is the
// security boundary: a future parser extension must be admitted here
// explicitly or evaluation stays unreachable.
func validateExpr(expr Expr) *Error {
	switch e := expr.(type) {
	case Number:
		return nil
	case Variable:
		if reservedKeywords[e.Name] {
			return unsupportedErr("reserved keyword "+quote(e.Name), e.Pos)
		}
		return nil
	case Binary:
		switch e.Op {
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
		default:
			return unsupportedErr("operator "+quote(e.Op.String()), 0)
		}
		if err := validateExpr(e.Left); err != nil {
			return err
		}
		return validateExpr(e.Right)
	case Unary:
		switch e.Op {
		case OpNeg, OpPos:
		default:
			return unsupportedErr("operator "+quote(e.Op.String()), 0)
		}
		return validateExpr(e.Operand)
	default:
		return unsupportedErr("unsupported expression", 0)
	}
}

func quote(s string) string { return `"` + s + `"` }

// Evaluate validates the formula, checks that bindings cover every free
// variable, and computes the result in IEEE-754 double precision. The
// result is returned unrounded; NaN and ±Inf pass through for the caller's
// domain checks. Division and modulo by zero fail with KindDivisionByZero.
func Evaluate(input string, bindings map[string]float64) (float64, error) {
	result := Validate(input)
	if !result.OK {
		return 0, result.Err
	}

	var missing []string
	for _, name := range result.Variables {
		if _, ok := bindings[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return 0, &Error{Kind: KindMissingVariable, Missing: missing}
	}

	expr, err := Parse(input)
	if err != nil {
		return 0, err
	}
	return evalExpr(expr, bindings)
}

func evalExpr(expr Expr, bindings map[string]float64) (float64, error) {
	switch e := expr.(type) {
	case Number:
		return e.Value, nil
	case Variable:
		value, ok := bindings[e.Name]
		if !ok {
			return 0, &Error{Kind: KindMissingVariable, Missing: []string{e.Name}}
		}
		return value, nil
	case Binary:
		left, err := evalExpr(e.Left, bindings)
		if err != nil {
			return 0, err
		}
		right, err := evalExpr(e.Right, bindings)
		if err != nil {
			return 0, err
		}
		return applyBinary(e.Op, left, right)
	case Unary:
		operand, err := evalExpr(e.Operand, bindings)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case OpNeg:
			return -operand, nil
		case OpPos:
			return operand, nil
		default:
			return 0, &Error{Kind: KindNonNumericResult}
		}
	default:
		// Unreachable under the whitelist, checked anyway.
		return 0, &Error{Kind: KindNonNumericResult}
	}
}

func applyBinary(op Op, left, right float64) (float64, error) {
	switch op {
	case OpAdd:
		return left + right, nil
	case OpSub:
		return left - right, nil
	case OpMul:
		return left * right, nil
	case OpDiv:
		if right == 0 {
			return 0, &Error{Kind: KindDivisionByZero}
		}
		return left / right, nil
	case OpMod:
		if right == 0 {
			return 0, &Error{Kind: KindDivisionByZero}
		}
		// math.Mod keeps the dividend's sign, matching the pinned semantics
		return math.Mod(left, right), nil
	case OpPow:
		return math.Pow(left, right), nil
	default:
		return 0, &Error{Kind: KindNonNumericResult}
	}
}
