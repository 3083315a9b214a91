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
	"maps"
	"slices"
	"strconv"
	"strings"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
)

// Unit is the unit of a size, width or offset.
type Unit int

// These are the supported units.
const (
	Millimeters Unit = iota
	MapUnits
	Pixels
	Percentage
	Points
	Inches
	MetersInMapUnits
)

var unitNames = []string{"MM", "MapUnit", "Pixel", "Percentage", "Point", "Inch", "RenderMetersInMapUnits"}

func (u Unit) String() string {
	if int(u) < len(unitNames) {
		return unitNames[u]
	}
	return "MM"
}

// ParseUnit reads a unit name.  Integer codes are accepted as well.
// Unknown names give Millimeters.
func ParseUnit(s string) Unit {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil && i >= 0 && i < len(unitNames) {
		return Unit(i)
	}
	switch strings.ToLower(s) {
	case "mm", "millimeter", "millimeters":
		return Millimeters
	case "mapunit", "mapunits":
		return MapUnits
	case "pixel", "pixels", "px":
		return Pixels
	case "percentage":
		return Percentage
	case "point", "points", "pt":
		return Points
	case "inch", "inches":
		return Inches
	case "rendermetersinmapunits", "metersinmapunits":
		return MetersInMapUnits
	}
	return Millimeters
}

// ToPixels converts a length to device pixels.  mapUnitsPerPixel is the
// ground size of one output pixel, metersPerMapUnit converts metres to map
// units for MetersInMapUnits.
func (u Unit) ToPixels(v, dpi, mapUnitsPerPixel, metersPerMapUnit float64) float64 {
	switch u {
	case MapUnits:
		if mapUnitsPerPixel > 0 {
			return v / mapUnitsPerPixel
		}
	case MetersInMapUnits:
		if mapUnitsPerPixel > 0 && metersPerMapUnit > 0 {
			return v / metersPerMapUnit / mapUnitsPerPixel
		}
	case Pixels:
		return v
	case Points:
		return v * dpi / 72
	case Inches:
		return v * dpi
	case Percentage:
		return 0
	}
	return v * dpi / 25.4
}

// SymbolType is the geometry kind a symbol draws.
type SymbolType int

// These are the symbol types.
const (
	MarkerSymbol SymbolType = iota
	LineSymbol
	FillSymbol
)

func (t SymbolType) String() string {
	switch t {
	case LineSymbol:
		return "line"
	case FillSymbol:
		return "fill"
	}
	return "marker"
}

func parseSymbolType(s string) (SymbolType, bool) {
	switch s {
	case "marker":
		return MarkerSymbol, true
	case "line":
		return LineSymbol, true
	case "fill":
		return FillSymbol, true
	}
	return 0, false
}

// symbolTypeFor returns the symbol type used for a geometry kind.
func symbolTypeFor(k layer.GeometryKind) SymbolType {
	switch k {
	case layer.KindLine:
		return LineSymbol
	case layer.KindPolygon:
		return FillSymbol
	}
	return MarkerSymbol
}

// Symbol is a stack of symbol layers, drawn bottom to top.
type Symbol struct {
	Type   SymbolType
	Alpha  float64
	Layers []*SymbolLayer
}

// SymbolLayer is one drawing step of a symbol.  Class names the drawing
// operation (SimpleMarker, SvgMarker, SimpleLine, MarkerLine, SimpleFill,
// GradientFill, CentroidFill); Props holds its options as text, keyed by
// the option names used in QML documents.
type SymbolLayer struct {
	Class       string
	Enabled     bool
	Props       map[string]string
	DataDefined map[string]*expr.Expr
	SubSymbol   *Symbol
}

// Clone returns a deep copy.
func (s *Symbol) Clone() *Symbol {
	if s == nil {
		return nil
	}
	c := &Symbol{Type: s.Type, Alpha: s.Alpha}
	for _, l := range s.Layers {
		c.Layers = append(c.Layers, &SymbolLayer{
			Class:       l.Class,
			Enabled:     l.Enabled,
			Props:       maps.Clone(l.Props),
			DataDefined: maps.Clone(l.DataDefined),
			SubSymbol:   l.SubSymbol.Clone(),
		})
	}
	return c
}

// String returns a property, or "" if unset.
func (l *SymbolLayer) String(key string) string {
	return l.Props[key]
}

// Float returns a numeric property.
func (l *SymbolLayer) Float(key string, def float64) float64 {
	s := strings.TrimSpace(l.Props[key])
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// Bool returns a boolean property stored as "0"/"1" or "false"/"true".
func (l *SymbolLayer) Bool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(l.Props[key])) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	return def
}

// Color returns a colour property.
func (l *SymbolLayer) Color(key string, def color.NRGBA) color.NRGBA {
	c, err := ParseColor(l.Props[key])
	if err != nil {
		return def
	}
	return c
}

// Unit returns a unit property.
func (l *SymbolLayer) Unit(key string) Unit {
	return ParseUnit(l.Props[key])
}

// Offset returns an "x,y" property.
func (l *SymbolLayer) Offset(key string) (x, y float64) {
	parts := strings.Split(l.Props[key], ",")
	if len(parts) != 2 {
		return 0, 0
	}
	x, _ = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, _ = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return x, y
}

// Dash returns the custom dash pattern of a line layer, or nil for solid
// lines.
func (l *SymbolLayer) Dash() []float64 {
	var pattern string
	if l.Bool("use_custom_dash", false) {
		pattern = l.Props["customdash"]
	} else {
		switch l.Props["line_style"] {
		case "dash":
			pattern = "4;2"
		case "dot":
			pattern = "1;2"
		case "dash dot":
			pattern = "4;2;1;2"
		case "dash dot dot":
			pattern = "4;2;1;2;1;2"
		default:
			return nil
		}
	}
	var res []float64
	for _, p := range strings.Split(pattern, ";") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 {
			return nil
		}
		res = append(res, v)
	}
	return res
}

// Property returns the data-defined expression for a property, if any.
func (l *SymbolLayer) Property(name string) *expr.Expr {
	return l.DataDefined[name]
}

// defaultLayer returns the layer a new symbol of type t starts with.
func defaultLayer(t SymbolType, c color.NRGBA) *SymbolLayer {
	outline := color.NRGBA{35, 35, 35, 255}
	switch t {
	case LineSymbol:
		return &SymbolLayer{
			Class:   "SimpleLine",
			Enabled: true,
			Props: map[string]string{
				"line_color":      FormatColor(c),
				"line_width":      "0.26",
				"line_width_unit": "MM",
				"line_style":      "solid",
				"capstyle":        "square",
				"joinstyle":       "bevel",
			},
		}
	case FillSymbol:
		return &SymbolLayer{
			Class:   "SimpleFill",
			Enabled: true,
			Props: map[string]string{
				"color":              FormatColor(c),
				"style":              "solid",
				"outline_color":      FormatColor(outline),
				"outline_width":      "0.26",
				"outline_width_unit": "MM",
				"outline_style":      "solid",
				"joinstyle":          "bevel",
			},
		}
	}
	return &SymbolLayer{
		Class:   "SimpleMarker",
		Enabled: true,
		Props: map[string]string{
			"name":               "circle",
			"color":              FormatColor(c),
			"size":               "2",
			"size_unit":          "MM",
			"outline_color":      FormatColor(outline),
			"outline_width":      "0",
			"outline_width_unit": "MM",
			"outline_style":      "solid",
		},
	}
}

// NewSymbol returns a one-layer symbol of the given type and colour.
func NewSymbol(t SymbolType, c color.NRGBA) *Symbol {
	return &Symbol{Type: t, Alpha: 1, Layers: []*SymbolLayer{defaultLayer(t, c)}}
}

// columns returns the attributes read by data-defined properties.
func (s *Symbol) columns() expr.Columns {
	var res expr.Columns
	if s == nil {
		return res
	}
	for _, l := range s.Layers {
		keys := slices.Sorted(maps.Keys(l.DataDefined))
		for _, k := range keys {
			res = res.Merge(l.DataDefined[k].Columns())
		}
		res = res.Merge(l.SubSymbol.columns())
	}
	return res
}

// MainColor returns the colour shown for the symbol in swatches.
func (s *Symbol) MainColor() color.NRGBA {
	if s == nil {
		return color.NRGBA{}
	}
	for _, l := range s.Layers {
		if !l.Enabled {
			continue
		}
		for _, key := range []string{"color", "line_color"} {
			if _, ok := l.Props[key]; ok {
				return l.Color(key, color.NRGBA{})
			}
		}
		if l.SubSymbol != nil {
			return l.SubSymbol.MainColor()
		}
	}
	return color.NRGBA{}
}

// svgRefs visits the symbol layers whose properties hold SVG
// references, with the property name.
func (s *Symbol) svgRefs(fn func(l *SymbolLayer, key string)) {
	if s == nil {
		return
	}
	for _, l := range s.Layers {
		switch l.Class {
		case "SvgMarker":
			fn(l, "name")
		case "SVGFill":
			fn(l, "svgFile")
		}
		l.SubSymbol.svgRefs(fn)
	}
}

// GradientRamp returns the colours of a GradientFill layer.
func (l *SymbolLayer) GradientRamp() *Ramp {
	if l.Props["color_type"] == "1" {
		if r, err := parseRampProps(l.Props); err == nil {
			return r
		}
	}
	return &Ramp{
		Color1: l.Color("color", color.NRGBA{0, 0, 255, 255}),
		Color2: l.Color("gradient_color2", color.NRGBA{255, 255, 255, 255}),
	}
}
