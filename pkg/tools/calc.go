package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// EvalArithmetic evaluates a plain arithmetic expression: + - * / % // **,
// unary sign, parentheses, and numeric literals. Nothing else parses, which
// is the whole point of the safe calculator.
func EvalArithmetic(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("missing_expression")
	}
	p := &calcParser{input: expr}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unsupported_expression")
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("invalid_expression")
	}
	return value, nil
}

// calcParser is a recursive descent parser over the expression grammar
//
//	expr   := term (('+'|'-') term)*
//	term   := power (('*'|'/'|'//'|'%') power)*
//	power  := unary ('**' power)?
//	unary  := ('+'|'-')* primary
//	primary := number | '(' expr ')'
type calcParser struct {
	input string
	pos   int
}

func (p *calcParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *calcParser) peek(s string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *calcParser) accept(s string) bool {
	if p.peek(s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *calcParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.accept("+"):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.accept("-"):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *calcParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		// Floor division before plain division: "//" starts with "/".
		case p.accept("//"):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division_by_zero")
			}
			left = math.Floor(left / right)
		case p.peek("**"):
			// Handled by parsePower; stop the term here.
			return left, nil
		case p.accept("*"):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.accept("/"):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division_by_zero")
			}
			left /= right
		case p.accept("%"):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division_by_zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *calcParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.accept("**") {
		// Right associative.
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *calcParser) parseUnary() (float64, error) {
	neg := false
	for {
		if p.accept("-") {
			neg = !neg
			continue
		}
		if p.accept("+") {
			continue
		}
		break
	}
	value, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if neg {
		value = -value
	}
	return value, nil
}

func (p *calcParser) parsePrimary() (float64, error) {
	if p.accept("(") {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if !p.accept(")") {
			return 0, fmt.Errorf("unsupported_expression")
		}
		return value, nil
	}

	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return 0, fmt.Errorf("unsupported_expression")
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid_expression")
	}
	return value, nil
}
