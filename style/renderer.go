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

package style

import (
	"fmt"
	"image/color"
	"math"
	"sync"

	"seehuhn.de/go/maprender/expr"
)

// Renderer decides which symbols a vector feature is drawn with.
type Renderer interface {
	// Type returns the renderer name used in QML documents.
	Type() string

	// Match returns the symbols for a feature at the given scale
	// denominator, in drawing order.
	Match(env *expr.Env, scale float64) ([]Match, error)

	// Legend returns one entry per class.  Entry i has Index i.
	Legend() []LegendItem

	// Symbols returns all symbols referenced by the renderer.
	Symbols() []*Symbol

	columns() expr.Columns
}

// Match is a symbol chosen for a feature.  Index is the legend index of
// the class which selected the symbol.
type Match struct {
	Symbol *Symbol
	Index  int
}

// LegendKind says how a legend entry is drawn.
type LegendKind int

// These are the kinds of legend entries.
const (
	// LegendSymbol entries show a vector symbol.
	LegendSymbol LegendKind = iota
	// LegendSwatch entries show a solid colour.
	LegendSwatch
	// LegendDiagram entries show the outline of a diagram.
	LegendDiagram
)

// LegendItem is one entry of a layer legend.
type LegendItem struct {
	Kind      LegendKind
	Title     string
	HasTitle  bool
	Symbol    *Symbol
	Color     color.NRGBA
	Checkable bool
	Checked   bool
	Index     int
	Band      int
}

// SingleSymbol draws every feature with the same symbol.
type SingleSymbol struct {
	Symbol *Symbol
}

// Type implements Renderer.
func (r *SingleSymbol) Type() string { return "singleSymbol" }

// Match implements Renderer.
func (r *SingleSymbol) Match(*expr.Env, float64) ([]Match, error) {
	if r.Symbol == nil {
		return nil, nil
	}
	return []Match{{Symbol: r.Symbol, Index: 0}}, nil
}

// Legend implements Renderer.
func (r *SingleSymbol) Legend() []LegendItem {
	if r.Symbol == nil {
		return nil
	}
	return []LegendItem{{Kind: LegendSymbol, Symbol: r.Symbol, Index: 0}}
}

// Symbols implements Renderer.
func (r *SingleSymbol) Symbols() []*Symbol {
	if r.Symbol == nil {
		return nil
	}
	return []*Symbol{r.Symbol}
}

func (r *SingleSymbol) columns() expr.Columns {
	return r.Symbol.columns()
}

// NullSymbol draws nothing.
type NullSymbol struct{}

// Type implements Renderer.
func (NullSymbol) Type() string { return "nullSymbol" }

// Match implements Renderer.
func (NullSymbol) Match(*expr.Env, float64) ([]Match, error) { return nil, nil }

// Legend implements Renderer.
func (NullSymbol) Legend() []LegendItem { return nil }

// Symbols implements Renderer.
func (NullSymbol) Symbols() []*Symbol { return nil }

func (NullSymbol) columns() expr.Columns { return expr.Columns{} }

// Category is one class of a Categorized renderer.
//
// A category with a nil Value matches features where the classification
// value is NULL.  A category whose Value is the empty string matches all
// values no other category matches.
type Category struct {
	Value  any
	Label  string
	Symbol *Symbol
	Render bool
}

// Categorized draws features according to the value of an attribute or
// expression.
type Categorized struct {
	Attr       string
	Categories []Category

	attr *expr.Expr
}

// NewCategorized creates a categorized renderer.  attr is a field name or
// an expression.
func NewCategorized(attr string, cats []Category) *Categorized {
	return &Categorized{Attr: attr, Categories: cats, attr: classExpr(attr)}
}

// classExpr parses the classification attribute of a renderer.  Names
// which do not parse as expressions are taken as field names.
func classExpr(attr string) *expr.Expr {
	if attr == "" {
		return nil
	}
	e, err := expr.Parse(attr)
	if err != nil {
		return expr.FromNode(&expr.Column{Name: attr})
	}
	return e
}

// Type implements Renderer.
func (r *Categorized) Type() string { return "categorizedSymbol" }

// Match implements Renderer.
func (r *Categorized) Match(env *expr.Env, _ float64) ([]Match, error) {
	e := r.attr
	if e == nil {
		e = classExpr(r.Attr)
	}
	if e == nil {
		return nil, nil
	}
	v, err := e.Eval(env)
	if err != nil {
		return nil, err
	}
	other := -1
	for i, c := range r.Categories {
		switch {
		case c.Value == nil:
			if v == nil {
				return r.matchIndex(i), nil
			}
			continue
		case c.Value == "":
			if other < 0 {
				other = i
			}
			continue
		}
		if v != nil && expr.ToString(c.Value) == expr.ToString(v) {
			return r.matchIndex(i), nil
		}
	}
	if other >= 0 {
		return r.matchIndex(other), nil
	}
	return nil, ErrNoClass
}

func (r *Categorized) matchIndex(i int) []Match {
	c := r.Categories[i]
	if !c.Render || c.Symbol == nil {
		return nil
	}
	return []Match{{Symbol: c.Symbol, Index: i}}
}

// Legend implements Renderer.
func (r *Categorized) Legend() []LegendItem {
	res := make([]LegendItem, len(r.Categories))
	for i, c := range r.Categories {
		res[i] = LegendItem{
			Kind:      LegendSymbol,
			Title:     c.Label,
			HasTitle:  true,
			Symbol:    c.Symbol,
			Checkable: true,
			Checked:   c.Render,
			Index:     i,
		}
	}
	return res
}

// Symbols implements Renderer.
func (r *Categorized) Symbols() []*Symbol {
	var res []*Symbol
	for _, c := range r.Categories {
		if c.Symbol != nil {
			res = append(res, c.Symbol)
		}
	}
	return res
}

func (r *Categorized) columns() expr.Columns {
	var res expr.Columns
	if e := classExpr(r.Attr); e != nil {
		res = e.Columns()
	}
	for _, s := range r.Symbols() {
		res = res.Merge(s.columns())
	}
	return res
}

// Range is one class of a Graduated renderer.
type Range struct {
	Lower, Upper float64
	Label        string
	Symbol       *Symbol
	Render       bool
}

// Graduated draws features according to which numeric range the value of
// an attribute or expression falls into.  The first range is closed at
// both ends, the others only at the upper end.
type Graduated struct {
	Attr   string
	Ranges []Range

	attr *expr.Expr
}

// NewGraduated creates a graduated renderer.
func NewGraduated(attr string, ranges []Range) *Graduated {
	return &Graduated{Attr: attr, Ranges: ranges, attr: classExpr(attr)}
}

// Type implements Renderer.
func (r *Graduated) Type() string { return "graduatedSymbol" }

// Match implements Renderer.
func (r *Graduated) Match(env *expr.Env, _ float64) ([]Match, error) {
	e := r.attr
	if e == nil {
		e = classExpr(r.Attr)
	}
	if e == nil {
		return nil, nil
	}
	v, err := e.Eval(env)
	if err != nil {
		return nil, err
	}
	x, ok := expr.ToFloat(v)
	if !ok || math.IsNaN(x) {
		return nil, ErrNoClass
	}
	for i, rg := range r.Ranges {
		inLower := x > rg.Lower || (i == 0 && x >= rg.Lower)
		if inLower && x <= rg.Upper {
			if !rg.Render || rg.Symbol == nil {
				return nil, nil
			}
			return []Match{{Symbol: rg.Symbol, Index: i}}, nil
		}
	}
	return nil, ErrNoClass
}

// Legend implements Renderer.
func (r *Graduated) Legend() []LegendItem {
	res := make([]LegendItem, len(r.Ranges))
	for i, rg := range r.Ranges {
		res[i] = LegendItem{
			Kind:      LegendSymbol,
			Title:     rg.Label,
			HasTitle:  true,
			Symbol:    rg.Symbol,
			Checkable: true,
			Checked:   rg.Render,
			Index:     i,
		}
	}
	return res
}

// Symbols implements Renderer.
func (r *Graduated) Symbols() []*Symbol {
	var res []*Symbol
	for _, rg := range r.Ranges {
		if rg.Symbol != nil {
			res = append(res, rg.Symbol)
		}
	}
	return res
}

func (r *Graduated) columns() expr.Columns {
	var res expr.Columns
	if e := classExpr(r.Attr); e != nil {
		res = e.Columns()
	}
	for _, s := range r.Symbols() {
		res = res.Merge(s.columns())
	}
	return res
}

// Rule is a node of a rule-based renderer.  A rule applies to a feature
// if its filter holds and the scale is within range; an else rule
// applies if no sibling before it applied.
type Rule struct {
	Key      string
	Label    string
	Filter   *expr.Expr
	Else     bool
	Symbol   *Symbol
	MinDenom float64 // most zoomed-in scale denominator, 0 for none
	MaxDenom float64 // most zoomed-out scale denominator, 0 for none
	Active   bool
	Children []*Rule
}

func (r *Rule) scaleOK(scale float64) bool {
	if scale <= 0 {
		return true
	}
	if r.MinDenom > 0 && scale < r.MinDenom {
		return false
	}
	if r.MaxDenom > 0 && scale > r.MaxDenom {
		return false
	}
	return true
}

// RuleBased draws features with the symbols of the rules that apply.
// Among siblings the first applicable rule wins and its children are
// considered next.
type RuleBased struct {
	Root *Rule

	indexOnce sync.Once
	index     map[*Rule]int
}

// Type implements Renderer.
func (r *RuleBased) Type() string { return "RuleRenderer" }

// flatten lists the rules with symbols in depth-first order.
func (r *RuleBased) flatten() []*Rule {
	var res []*Rule
	var walk func(*Rule)
	walk = func(x *Rule) {
		if x.Symbol != nil {
			res = append(res, x)
		}
		for _, c := range x.Children {
			walk(c)
		}
	}
	if r.Root != nil {
		walk(r.Root)
	}
	return res
}

func (r *RuleBased) legendIndex(x *Rule) int {
	r.indexOnce.Do(func() {
		r.index = map[*Rule]int{}
		for i, y := range r.flatten() {
			r.index[y] = i
		}
	})
	return r.index[x]
}

// Match implements Renderer.
func (r *RuleBased) Match(env *expr.Env, scale float64) ([]Match, error) {
	if r.Root == nil {
		return nil, nil
	}
	var res []Match
	var visit func(rules []*Rule) error
	visit = func(rules []*Rule) error {
		matched := false
		for _, x := range rules {
			if matched || !x.Active || !x.scaleOK(scale) {
				continue
			}
			if !x.Else && x.Filter != nil {
				ok, err := x.Filter.EvalBool(env)
				if err != nil {
					return fmt.Errorf("rule %q: %w", x.Label, err)
				}
				if !ok {
					continue
				}
			}
			matched = true
			if x.Symbol != nil {
				res = append(res, Match{Symbol: x.Symbol, Index: r.legendIndex(x)})
			}
			if err := visit(x.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(r.Root.Children); err != nil {
		return nil, err
	}
	return res, nil
}

// Legend implements Renderer.
func (r *RuleBased) Legend() []LegendItem {
	rules := r.flatten()
	res := make([]LegendItem, len(rules))
	for i, x := range rules {
		res[i] = LegendItem{
			Kind:      LegendSymbol,
			Title:     x.Label,
			HasTitle:  true,
			Symbol:    x.Symbol,
			Checkable: true,
			Checked:   x.Active,
			Index:     i,
		}
	}
	return res
}

// Symbols implements Renderer.
func (r *RuleBased) Symbols() []*Symbol {
	var res []*Symbol
	for _, x := range r.flatten() {
		res = append(res, x.Symbol)
	}
	return res
}

func (r *RuleBased) columns() expr.Columns {
	var res expr.Columns
	var walk func(*Rule)
	walk = func(x *Rule) {
		if x.Filter != nil {
			res = res.Merge(x.Filter.Columns())
		}
		res = res.Merge(x.Symbol.columns())
		for _, c := range x.Children {
			walk(c)
		}
	}
	if r.Root != nil {
		walk(r.Root)
	}
	return res
}

// Heatmap draws point density as a colour ramp.  MaxValue 0 scales the
// ramp to the densest pixel.
type Heatmap struct {
	Radius     float64
	RadiusUnit Unit
	Ramp       *Ramp
	MaxValue   float64
	Weight     string
}

// Type implements Renderer.
func (r *Heatmap) Type() string { return "heatmapRenderer" }

// Match implements Renderer.  Heatmaps are drawn as a whole, so no
// feature has a symbol.
func (r *Heatmap) Match(*expr.Env, float64) ([]Match, error) { return nil, nil }

// Legend implements Renderer, with five ramp entries from 0 to the
// maximum value.
func (r *Heatmap) Legend() []LegendItem {
	hi := r.MaxValue
	if hi <= 0 {
		hi = 1
	}
	return rampLegend(r.ramp(), 0, hi)
}

func (r *Heatmap) ramp() *Ramp {
	if r.Ramp == nil {
		return DefaultRamp
	}
	return r.Ramp
}

// Symbols implements Renderer.
func (r *Heatmap) Symbols() []*Symbol { return nil }

// WeightExpr returns the parsed weight expression, or nil for unit
// weights.
func (r *Heatmap) WeightExpr() (*expr.Expr, error) {
	if r.Weight == "" {
		return nil, nil
	}
	return expr.Parse(r.Weight)
}

// ColorAt returns the heatmap colour for a normalized density.
func (r *Heatmap) ColorAt(t float64) color.NRGBA {
	return r.ramp().At(t)
}

func (r *Heatmap) columns() expr.Columns {
	e, err := r.WeightExpr()
	if err != nil {
		return expr.Columns{Unknown: true}
	}
	if e == nil {
		return expr.Columns{}
	}
	return e.Columns()
}
