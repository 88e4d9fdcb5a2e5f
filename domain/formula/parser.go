package formula

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokPow
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind  tokenKind
	text  string
	value float64 // populated for tokNumber
	pos   int
}

// lexer produces arithmetic tokens and rejects every character class the
// grammar does not admit. Rejection happens here for constructs that are
// recognizable from a single character (subscripts, strings, comparison and
// boolean operators); call and attribute syntax is caught by the parser.
type lexer struct {
	input string
	pos   int
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *lexer) next() (token, *Error) {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		break
	}

	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case isDigit(c), c == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]):
		return l.scanNumber(start)
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil
	}

	l.pos++
	switch c {
	case '+':
		return token{kind: tokPlus, text: "+", pos: start}, nil
	case '-':
		return token{kind: tokMinus, text: "-", pos: start}, nil
	case '*':
		if l.pos < len(l.input) && l.input[l.pos] == '*' {
			l.pos++
			return token{kind: tokPow, text: "**", pos: start}, nil
		}
		return token{kind: tokStar, text: "*", pos: start}, nil
	case '/':
		if l.pos < len(l.input) && l.input[l.pos] == '/' {
			// Floor division is a distinct operator, not two slashes
			return token{}, unsupportedErr(`operator "//"`, start)
		}
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case '%':
		return token{kind: tokPercent, text: "%", pos: start}, nil
	case '(':
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '[', ']':
		return token{}, unsupportedErr("subscript operation", start)
	case '.':
		return token{}, unsupportedErr("attribute access", start)
	case '"', '\'':
		return token{}, unsupportedErr("string literal", start)
	case '<', '>', '=', '!', '&', '|', '^', '~':
		return token{}, unsupportedErr(fmt.Sprintf("operator %q", string(c)), start)
	case ',':
		return token{}, syntaxErr(start, "unexpected comma")
	default:
		return token{}, syntaxErr(start, fmt.Sprintf("unexpected character %q", string(c)))
	}
}

func (l *lexer) scanNumber(start int) (token, *Error) {
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isDigit(c) {
			l.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if c == 'e' || c == 'E' {
			// Exponent suffix: e[+-]?digits
			mark := l.pos
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			if l.pos >= len(l.input) || !isDigit(l.input[l.pos]) {
				l.pos = mark
			} else {
				for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
					l.pos++
				}
			}
		}
		break
	}

	text := l.input[start:l.pos]
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, syntaxErr(start, fmt.Sprintf("invalid numeric literal %q", text))
	}
	return token{kind: tokNumber, text: text, value: value, pos: start}, nil
}

// parser builds the restricted expression tree via recursive descent.
//
// Grammar (Python-compatible precedence, ** right-associative and binding
// tighter than unary minus on its left but admitting unary on its right):
//
//	expr   = term (("+" | "-") term)*
//	term   = factor (("*" | "/" | "%") factor)*
//	factor = ("+" | "-") factor | power
//	power  = atom ("**" factor)?
//	atom   = NUMBER | IDENT | "(" expr ")"
type parser struct {
	lex  *lexer
	tok  token
	peek *token
}

// Parse parses a formula string into an expression tree. It returns a
// *Error of kind KindSyntax or KindUnsupportedConstruct on failure.
func Parse(input string) (Expr, error) {
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		// "x and y" leaves the keyword stranded here; report it as the
		// unsupported operator it is rather than a bare syntax error.
		if p.tok.kind == tokIdent && reservedKeywords[p.tok.text] {
			return nil, unsupportedErr(fmt.Sprintf("operator %q", p.tok.text), p.tok.pos)
		}
		return nil, syntaxErr(p.tok.pos, fmt.Sprintf("unexpected %q", p.tok.text))
	}
	return expr, nil
}

func (p *parser) advance() *Error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseExpr() (Expr, *Error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := OpAdd
		if p.tok.kind == tokMinus {
			op = OpSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, *Error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokStar || p.tok.kind == tokSlash || p.tok.kind == tokPercent {
		var op Op
		switch p.tok.kind {
		case tokStar:
			op = OpMul
		case tokSlash:
			op = OpDiv
		case tokPercent:
			op = OpMod
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Expr, *Error) {
	if p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := OpPos
		if p.tok.kind == tokMinus {
			op = OpNeg
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, *Error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokPow {
		if err := p.advance(); err != nil {
			return nil, err
		}
		// Right operand may itself be signed: a ** -b
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return Binary{Op: OpPow, Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (Expr, *Error) {
	switch p.tok.kind {
	case tokNumber:
		expr := Number{Value: p.tok.value}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.checkPostfix(expr)
	case tokIdent:
		name, pos := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen {
			return nil, unsupportedErr("function call", pos)
		}
		if reservedKeywords[name] {
			return nil, unsupportedErr(fmt.Sprintf("reserved keyword %q", name), pos)
		}
		return p.checkPostfix(Variable{Name: name, Pos: pos})
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, perr := p.parseExpr()
		if perr != nil {
			return nil, perr
		}
		if p.tok.kind != tokRParen {
			return nil, syntaxErr(p.tok.pos, "expected closing parenthesis")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.checkPostfix(expr)
	case tokEOF:
		return nil, syntaxErr(p.tok.pos, "unexpected end of formula")
	default:
		return nil, syntaxErr(p.tok.pos, fmt.Sprintf("unexpected %q", p.tok.text))
	}
}

// checkPostfix rejects call syntax applied to a completed operand, e.g.
// "(a+b)(c)". Attribute and subscript syntax never reach here; the lexer
// rejects those characters outright.
func (p *parser) checkPostfix(expr Expr) (Expr, *Error) {
	if p.tok.kind == tokLParen {
		return nil, unsupportedErr("function call", p.tok.pos)
	}
	return expr, nil
}
