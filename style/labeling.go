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
	"maps"
	"slices"

	"seehuhn.de/go/maprender/expr"
)

// LabelSettings describes how the text of a label is found and drawn.
type LabelSettings struct {
	// FieldName is an attribute name, or an expression if IsExpression
	// is set.
	FieldName    string
	IsExpression bool
	Enabled      bool

	FontFamily string
	FontSize   float64
	FontUnit   Unit
	Color      color.NRGBA

	BufferDraw  bool
	BufferSize  float64
	BufferUnit  Unit
	BufferColor color.NRGBA

	DataDefined map[string]*expr.Expr
}

// DefaultLabelSettings returns settings for 10pt dark grey text.
func DefaultLabelSettings(field string) *LabelSettings {
	return &LabelSettings{
		FieldName:   field,
		Enabled:     true,
		FontFamily:  "Sans Serif",
		FontSize:    10,
		FontUnit:    Points,
		Color:       color.NRGBA{50, 50, 50, 255},
		BufferSize:  1,
		BufferUnit:  Millimeters,
		BufferColor: color.NRGBA{250, 250, 250, 255},
	}
}

// TextExpr returns the expression giving the label text.
func (s *LabelSettings) TextExpr() (*expr.Expr, error) {
	if s.FieldName == "" {
		return nil, nil
	}
	if !s.IsExpression {
		return expr.FromNode(&expr.Column{Name: s.FieldName}), nil
	}
	e, err := expr.Parse(s.FieldName)
	if err != nil {
		return nil, fmt.Errorf("label expression: %w", err)
	}
	return e, nil
}

func (s *LabelSettings) columns() expr.Columns {
	var res expr.Columns
	if s == nil || !s.Enabled {
		return res
	}
	e, err := s.TextExpr()
	if err != nil {
		res.Unknown = true
	} else if e != nil {
		res = e.Columns()
	}
	for _, k := range slices.Sorted(maps.Keys(s.DataDefined)) {
		res = res.Merge(s.DataDefined[k].Columns())
	}
	return res
}

// LabelRule is a node of rule-based labeling.
type LabelRule struct {
	Key         string
	Description string
	Filter      *expr.Expr
	Else        bool
	Settings    *LabelSettings
	MinDenom    float64
	MaxDenom    float64
	Active      bool
	Children    []*LabelRule
}

// Labeling attaches text to features.  Simple labeling has Settings;
// rule-based labeling has Rules.
type Labeling struct {
	Settings *LabelSettings
	Rules    []*LabelRule
}

// RuleBased reports whether the labeling uses rules.
func (l *Labeling) RuleBased() bool {
	return l.Settings == nil
}

// Type returns the labeling name used in QML documents.
func (l *Labeling) Type() string {
	if l.RuleBased() {
		return "rule-based"
	}
	return "simple"
}

// SettingsFor returns the settings which label a feature at a scale, in
// rule order.
func (l *Labeling) SettingsFor(env *expr.Env, scale float64) ([]*LabelSettings, error) {
	if l == nil {
		return nil, nil
	}
	if !l.RuleBased() {
		if !l.Settings.Enabled {
			return nil, nil
		}
		return []*LabelSettings{l.Settings}, nil
	}
	var res []*LabelSettings
	var visit func([]*LabelRule) error
	visit = func(rules []*LabelRule) error {
		matched := false
		for _, r := range rules {
			if !r.Active || (r.Else && matched) {
				continue
			}
			if scale > 0 && (r.MinDenom > 0 && scale < r.MinDenom || r.MaxDenom > 0 && scale > r.MaxDenom) {
				continue
			}
			if !r.Else && r.Filter != nil {
				ok, err := r.Filter.EvalBool(env)
				if err != nil {
					return fmt.Errorf("label rule %q: %w", r.Description, err)
				}
				if !ok {
					continue
				}
			}
			matched = true
			if r.Settings != nil && r.Settings.Enabled {
				res = append(res, r.Settings)
			}
			if err := visit(r.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(l.Rules); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Labeling) columns() expr.Columns {
	if l == nil {
		return expr.Columns{}
	}
	if !l.RuleBased() {
		return l.Settings.columns()
	}
	var res expr.Columns
	var walk func([]*LabelRule)
	walk = func(rules []*LabelRule) {
		for _, r := range rules {
			if r.Filter != nil {
				res = res.Merge(r.Filter.Columns())
			}
			res = res.Merge(r.Settings.columns())
			walk(r.Children)
		}
	}
	walk(l.Rules)
	return res
}
