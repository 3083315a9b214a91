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
	"image/color"

	"seehuhn.de/go/maprender/expr"
)

// DiagramKind is the chart type of a diagram.
type DiagramKind string

// These are the supported chart types.
const (
	Pie       DiagramKind = "Pie"
	Histogram DiagramKind = "Histogram"
)

// DiagramAttribute is one slice or bar of a diagram.
type DiagramAttribute struct {
	Expr  *expr.Expr
	Label string
	Color color.NRGBA
}

// DiagramScaling sizes diagrams by a classification value, linearly
// between (LowerValue, LowerSize) and (UpperValue, UpperSize).
type DiagramScaling struct {
	Expr                   *expr.Expr
	LowerValue, UpperValue float64
	LowerSize, UpperSize   float64
}

// Size returns the diagram size for a classification value.
func (s *DiagramScaling) Size(v float64) float64 {
	if s.UpperValue == s.LowerValue {
		return s.UpperSize
	}
	t := (v - s.LowerValue) / (s.UpperValue - s.LowerValue)
	t = min(max(t, 0), 1)
	return s.LowerSize + t*(s.UpperSize-s.LowerSize)
}

// Diagram draws a chart of attribute values on each feature.
type Diagram struct {
	Kind       DiagramKind
	Enabled    bool
	Attributes []DiagramAttribute

	// Size is the pie diameter or the maximum bar length.
	Size       float64
	SizeUnit   Unit
	BarWidth   float64
	PenColor   color.NRGBA
	PenWidth   float64
	Background color.NRGBA
	Opacity    float64
	Legend     bool

	// Scaling, if set, sizes diagrams by a value instead of using Size.
	Scaling *DiagramScaling
}

// LegendItems returns the diagram legend: one untitled entry for the
// chart outline, then one swatch per attribute.
func (d *Diagram) LegendItems(first int) []LegendItem {
	if d == nil || !d.Enabled || !d.Legend {
		return nil
	}
	res := []LegendItem{{Kind: LegendDiagram, HasTitle: true, Index: first}}
	for i, a := range d.Attributes {
		res = append(res, LegendItem{
			Kind:     LegendSwatch,
			Title:    a.Label,
			HasTitle: true,
			Color:    a.Color,
			Index:    first + 1 + i,
		})
	}
	return res
}

func (d *Diagram) columns() expr.Columns {
	var res expr.Columns
	if d == nil || !d.Enabled {
		return res
	}
	for _, a := range d.Attributes {
		if a.Expr != nil {
			res = res.Merge(a.Expr.Columns())
		}
	}
	if d.Scaling != nil && d.Scaling.Expr != nil {
		res = res.Merge(d.Scaling.Expr.Columns())
	}
	return res
}
