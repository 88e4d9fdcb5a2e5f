package formula

// Expr is a node in the restricted expression tree. The set of
// implementations below is closed: the validation and evaluation walks
// switch exhaustively over it and fail closed on anything else, which is
// what makes the grammar a security boundary rather than a convention.
type Expr interface {
	isExpr()
}

// Number is a numeric literal (int and float literals both parse to float64)
type Number struct {
	Value float64
}

// Variable is a free variable reference bound at evaluation time
type Variable struct {
	Name string
	Pos  int
}

// Binary is a binary arithmetic operation
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

// Unary is a unary sign operation
type Unary struct {
	Op      Op
	Operand Expr
}

func (Number) isExpr()   {}
func (Variable) isExpr() {}
func (Binary) isExpr()   {}
func (Unary) isExpr()    {}

// Op identifies an arithmetic operator
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNeg
	OpPos
)

// String returns the operator's source representation
func (op Op) String() string {
	switch op {
	case OpAdd, OpPos:
		return "+"
	case OpSub, OpNeg:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpPow:
		return "**"
	default:
		return "?"
	}
}
