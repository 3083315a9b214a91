// seehuhn.de/go/maprender - headless rendering of styled map layers
// Copyright (C) 2026  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Src    string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression %q, offset %d: %s", e.Src, e.Pos, e.Reason)
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, &SyntaxError{Src: src, Reason: err.Error()}
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, p.errorf("empty expression")
	}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(k int) token {
	if p.pos+k < len(p.toks) {
		return p.toks[p.pos+k]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) acceptKeyword(kw string) bool {
	if isKeyword(p.peek(), kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.isOp(op) {
		return p.errorf("%q expected", op)
	}
	p.pos++
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Src: p.src, Pos: p.peek().pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Node, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) not() (Node, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Operand: x}, nil
	}
	return p.comparison()
}

var comparisonOps = map[string]string{
	"=": "=", "<>": "<>", "!=": "<>", "<": "<", "<=": "<=", ">": ">", ">=": ">=", "~": "~",
}

func (p *parser) comparison() (Node, error) {
	left, err := p.concat()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind == tokOp {
			if op, ok := comparisonOps[t.text]; ok {
				p.pos++
				right, err := p.concat()
				if err != nil {
					return nil, err
				}
				left = &Binary{Op: op, Left: left, Right: right}
				continue
			}
			return left, nil
		}

		switch {
		case isKeyword(t, "IS"):
			p.pos++
			op := "IS"
			if p.acceptKeyword("NOT") {
				op = "IS NOT"
			}
			right, err := p.concat()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: op, Left: left, Right: right}

		case isKeyword(t, "LIKE"), isKeyword(t, "ILIKE"):
			p.pos++
			right, err := p.concat()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: strings.ToUpper(t.text), Left: left, Right: right}

		case isKeyword(t, "IN"):
			p.pos++
			list, err := p.list()
			if err != nil {
				return nil, err
			}
			left = &In{Operand: left, List: list}

		case isKeyword(t, "BETWEEN"):
			p.pos++
			b, err := p.between(left, false)
			if err != nil {
				return nil, err
			}
			left = b

		case isKeyword(t, "NOT"):
			nt := p.peekAt(1)
			switch {
			case isKeyword(nt, "IN"):
				p.pos += 2
				list, err := p.list()
				if err != nil {
					return nil, err
				}
				left = &In{Operand: left, List: list, Not: true}
			case isKeyword(nt, "LIKE"), isKeyword(nt, "ILIKE"):
				p.pos += 2
				right, err := p.concat()
				if err != nil {
					return nil, err
				}
				left = &Binary{Op: "NOT " + strings.ToUpper(nt.text), Left: left, Right: right}
			case isKeyword(nt, "BETWEEN"):
				p.pos += 2
				b, err := p.between(left, true)
				if err != nil {
					return nil, err
				}
				left = b
			default:
				return left, nil
			}

		default:
			return left, nil
		}
	}
}

func (p *parser) between(x Node, not bool) (Node, error) {
	lo, err := p.concat()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("AND") {
		return nil, p.errorf("AND expected in BETWEEN")
	}
	hi, err := p.concat()
	if err != nil {
		return nil, err
	}
	return &Between{Operand: x, Lo: lo, Hi: hi, Not: not}, nil
}

func (p *parser) list() ([]Node, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var out []Node
	if p.isOp(")") {
		p.pos++
		return out, nil
	}
	for {
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
		if p.isOp(",") {
			p.pos++
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *parser) concat() (Node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		p.pos++
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) additive() (Node, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) multiplicative() (Node, error) {
	left, err := p.power()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.next().text
		right, err := p.power()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) power() (Node, error) {
	base, err := p.unary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.pos++
		exp, err := p.power() // right associative
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "^", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) unary() (Node, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().text
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok && op == "-" {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v}, nil
			case float64:
				return &Literal{Value: -v}, nil
			}
		}
		return &Unary{Op: op, Operand: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &Literal{Value: i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			p.pos--
			return nil, p.errorf("bad number %q", t.text)
		}
		return &Literal{Value: f}, nil

	case tokString:
		return &Literal{Value: t.text}, nil

	case tokQuoted:
		return &Column{Name: t.text}, nil

	case tokVar:
		return &Variable{Name: t.text}, nil

	case tokSpecial:
		return &Special{Name: strings.ToLower(t.text)}, nil

	case tokOp:
		if t.text == "(" {
			x, err := p.or()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return x, nil
		}

	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "NULL":
			return &Literal{Value: nil}, nil
		case "TRUE":
			return &Literal{Value: true}, nil
		case "FALSE":
			return &Literal{Value: false}, nil
		case "CASE":
			return p.caseExpr()
		}
		if p.isOp("(") {
			p.pos++
			var args []Node
			if !p.isOp(")") {
				for {
					a, err := p.or()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.isOp(",") {
						p.pos++
						continue
					}
					break
				}
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			name := strings.ToLower(t.text)
			if _, ok := functions[name]; !ok {
				return nil, &SyntaxError{Src: p.src, Pos: t.pos, Reason: "unknown function " + t.text}
			}
			return &Call{Name: name, Args: args}, nil
		}
		if keywords[strings.ToUpper(t.text)] {
			p.pos--
			return nil, p.errorf("unexpected keyword %s", t.text)
		}
		return &Column{Name: t.text}, nil
	}
	p.pos--
	if t.kind == tokEOF {
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.errorf("unexpected %q", t.text)
}

func (p *parser) caseExpr() (Node, error) {
	c := &Case{}
	for p.acceptKeyword("WHEN") {
		cond, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.acceptKeyword("THEN") {
			return nil, p.errorf("THEN expected")
		}
		res, err := p.or()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, When{Cond: cond, Result: res})
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("WHEN expected")
	}
	if p.acceptKeyword("ELSE") {
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if !p.acceptKeyword("END") {
		return nil, p.errorf("END expected")
	}
	return c, nil
}
