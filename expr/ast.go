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
	"strconv"
	"strings"
	"time"
)

// Node is an element of the syntax tree.
type Node interface {
	// format appends the expression text for the node.
	format(b *strings.Builder)
}

// Literal is a constant: nil, bool, int64, float64 or string.
type Literal struct {
	Value any
}

// Column references a feature attribute.
type Column struct {
	Name string
}

// Variable is an @name reference.
type Variable struct {
	Name string
}

// Special is a $name reference such as $id or $area.
type Special struct {
	Name string
}

// Unary is NOT x, -x or +x.
type Unary struct {
	Op      string
	Operand Node
}

// Binary is a binary operator.  Op is upper case for the word operators
// (AND, OR, IS, IS NOT, LIKE, ILIKE, NOT LIKE, NOT ILIKE).
type Binary struct {
	Op          string
	Left, Right Node
}

// In is x [NOT] IN (a, b, ...).
type In struct {
	Operand Node
	List    []Node
	Not     bool
}

// Between is x [NOT] BETWEEN lo AND hi.
type Between struct {
	Operand, Lo, Hi Node
	Not             bool
}

// Call is a function call.  Name is lower case.
type Call struct {
	Name string
	Args []Node
}

// When is one arm of a CASE expression.
type When struct {
	Cond, Result Node
}

// Case is CASE WHEN ... THEN ... [ELSE ...] END.
type Case struct {
	Whens []When
	Else  Node
}

func (n *Literal) format(b *strings.Builder) {
	b.WriteString(FormatLiteral(n.Value))
}

// FormatLiteral returns the expression syntax for a constant value.
func FormatLiteral(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return "'" + v.Format(time.RFC3339) + "'"
	}
	return QuoteString(ToString(v))
}

// QuoteString returns s as a single-quoted string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteColumn returns name as a double-quoted column reference.
func QuoteColumn(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (n *Column) format(b *strings.Builder) {
	b.WriteString(QuoteColumn(n.Name))
}

func (n *Variable) format(b *strings.Builder) {
	b.WriteString("@" + n.Name)
}

func (n *Special) format(b *strings.Builder) {
	b.WriteString("$" + n.Name)
}

func (n *Unary) format(b *strings.Builder) {
	if n.Op == "NOT" {
		b.WriteString("NOT ")
	} else {
		b.WriteString(n.Op)
	}
	wrap(b, n.Operand)
}

func (n *Binary) format(b *strings.Builder) {
	wrap(b, n.Left)
	b.WriteString(" " + n.Op + " ")
	wrap(b, n.Right)
}

func (n *In) format(b *strings.Builder) {
	wrap(b, n.Operand)
	if n.Not {
		b.WriteString(" NOT")
	}
	b.WriteString(" IN (")
	for i, x := range n.List {
		if i > 0 {
			b.WriteString(", ")
		}
		x.format(b)
	}
	b.WriteString(")")
}

func (n *Between) format(b *strings.Builder) {
	wrap(b, n.Operand)
	if n.Not {
		b.WriteString(" NOT")
	}
	b.WriteString(" BETWEEN ")
	wrap(b, n.Lo)
	b.WriteString(" AND ")
	wrap(b, n.Hi)
}

func (n *Call) format(b *strings.Builder) {
	b.WriteString(n.Name)
	b.WriteString("(")
	for i, x := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		x.format(b)
	}
	b.WriteString(")")
}

func (n *Case) format(b *strings.Builder) {
	b.WriteString("CASE")
	for _, w := range n.Whens {
		b.WriteString(" WHEN ")
		w.Cond.format(b)
		b.WriteString(" THEN ")
		w.Result.format(b)
	}
	if n.Else != nil {
		b.WriteString(" ELSE ")
		n.Else.format(b)
	}
	b.WriteString(" END")
}

// wrap formats compound operands in parentheses.
func wrap(b *strings.Builder, n Node) {
	switch n.(type) {
	case *Binary, *In, *Between, *Unary:
		b.WriteString("(")
		n.format(b)
		b.WriteString(")")
	default:
		n.format(b)
	}
}

// Walk calls fn for n and all nodes below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *Unary:
		Walk(n.Operand, fn)
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *In:
		Walk(n.Operand, fn)
		for _, x := range n.List {
			Walk(x, fn)
		}
	case *Between:
		Walk(n.Operand, fn)
		Walk(n.Lo, fn)
		Walk(n.Hi, fn)
	case *Call:
		for _, x := range n.Args {
			Walk(x, fn)
		}
	case *Case:
		for _, w := range n.Whens {
			Walk(w.Cond, fn)
			Walk(w.Result, fn)
		}
		Walk(n.Else, fn)
	}
}
