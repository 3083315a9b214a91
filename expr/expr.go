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

// Package expr implements the expression language used in styles: rule
// filters, classification attributes, data-defined properties and label
// text.
//
// Values are nil (NULL), bool, int64, float64, string, time.Time and
// time.Duration.  NULL propagates through arithmetic and comparisons.
package expr

import (
	"slices"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Expr is a parsed expression.
type Expr struct {
	src  string
	root Node
}

// Parse parses an expression.
func Parse(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// FromNode wraps a syntax tree, for example one built from an SLD filter.
func FromNode(n Node) *Expr {
	var b strings.Builder
	n.format(&b)
	return &Expr{src: b.String(), root: n}
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Root returns the syntax tree.
func (e *Expr) Root() Node {
	return e.root
}

// Field returns the attribute name if the expression is a plain column
// reference.
func (e *Expr) Field() (string, bool) {
	if c, ok := e.root.(*Column); ok {
		return c.Name, true
	}
	return "", false
}

// Feature gives access to the attributes of the feature being evaluated.
type Feature interface {
	Attribute(name string) (any, bool)
}

// Env is the evaluation context.  All fields are optional.
type Env struct {
	Feature  Feature
	FID      int64
	Geometry orb.Geometry
	Vars     map[string]any
}

// Columns lists the attributes referenced by the expression.  Unknown is
// true if the expression may read attributes which cannot be determined
// statically.
type Columns struct {
	Names   []string
	Unknown bool
}

// Columns returns the referenced attributes, sorted.
func (e *Expr) Columns() Columns {
	var res Columns
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			res.Names = append(res.Names, name)
		}
	}
	Walk(e.root, func(n Node) {
		switch n := n.(type) {
		case *Column:
			add(n.Name)
		case *Special:
			if n.Name == "currentfeature" {
				res.Unknown = true
			}
		case *Call:
			switch n.Name {
			case "attributes", "get_feature", "represent_value":
				res.Unknown = true
			case "attribute":
				if len(n.Args) == 1 {
					if lit, ok := n.Args[0].(*Literal); ok {
						if s, ok := lit.Value.(string); ok {
							add(s)
							return
						}
					}
				}
				res.Unknown = true
			}
		}
	})
	sort.Strings(res.Names)
	return res
}

// Merge combines two column sets.
func (c Columns) Merge(other Columns) Columns {
	names := append(slices.Clone(c.Names), other.Names...)
	sort.Strings(names)
	return Columns{Names: slices.Compact(names), Unknown: c.Unknown || other.Unknown}
}

// Eval evaluates the expression.
func (e *Expr) Eval(env *Env) (any, error) {
	if env == nil {
		env = &Env{}
	}
	return eval(e.root, env)
}

// EvalBool evaluates the expression as a condition.  NULL counts as
// false.
func (e *Expr) EvalBool(env *Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
