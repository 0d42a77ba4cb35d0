package builtins

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// evaluateExpression parses and evaluates a math expression: the four
// arithmetic operators, ^ for exponentiation, parentheses, and the
// functions sqrt, sin, cos, tan, abs and log (natural log).
func evaluateExpression(input string) (float64, error) {
	p := &exprParser{src: strings.ReplaceAll(input, " ", "")}
	if p.src == "" {
		return 0, fmt.Errorf("empty expression")
	}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("expression result is not a finite number")
	}
	return value, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

// parseExpr handles + and -.
func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
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

// parseTerm handles * and /.
func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePower()
}

// parsePower handles ^, right-associative.
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exponent, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

var mathFuncs = map[string]func(float64) (float64, error){
	"sqrt": func(v float64) (float64, error) {
		if v < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(v), nil
	},
	"sin": func(v float64) (float64, error) { return math.Sin(v), nil },
	"cos": func(v float64) (float64, error) { return math.Cos(v), nil },
	"tan": func(v float64) (float64, error) { return math.Tan(v), nil },
	"abs": func(v float64) (float64, error) { return math.Abs(v), nil },
	"log": func(v float64) (float64, error) {
		if v <= 0 {
			return 0, fmt.Errorf("log of non-positive number")
		}
		return math.Log(v), nil
	},
}

func (p *exprParser) parseAtom() (float64, error) {
	if p.pos >= len(p.src) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	c := p.src[p.pos]

	if c == '(' {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}

	if unicode.IsLetter(rune(c)) {
		start := p.pos
		for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
			p.pos++
		}
		name := p.src[start:p.pos]
		fn, ok := mathFuncs[name]
		if !ok {
			return 0, fmt.Errorf("unknown function %q", name)
		}
		if p.peek() != '(' {
			return 0, fmt.Errorf("expected '(' after %q", name)
		}
		p.pos++
		arg, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis after %q", name)
		}
		p.pos++
		return fn(arg)
	}

	start := p.pos
	for p.pos < len(p.src) && (unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("cannot evaluate %q", p.src[start:])
	}
	value, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return value, nil
}

// formatNumber renders a result without a trailing ".000000" for whole
// numbers.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
