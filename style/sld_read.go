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
	"strconv"
	"strings"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
)

func sldInvalid(format string, args ...any) error {
	return &ValidationError{Format: FormatSLD, Reason: fmt.Sprintf(format, args...)}
}

// readSLD reads the first user style of an SLD document.  Rules become a
// rule-based renderer, except that a single rule without filter or scale
// range becomes a single symbol renderer.  Text symbolizers become
// rule-based labeling.  The geometry type is inferred from the
// symbolizers: polygon if any rule fills, else line if any rule strokes,
// else point.
func readSLD(data []byte) (*Style, error) {
	root, err := parseXML(data)
	if err != nil {
		return nil, &ValidationError{Format: FormatSLD, Reason: "malformed XML", Err: err}
	}
	if root.Name != "StyledLayerDescriptor" {
		return nil, sldInvalid("root element is <%s>, want <StyledLayerDescriptor>", root.Name)
	}
	us := root.find("UserStyle")
	if len(us) == 0 {
		return nil, sldInvalid("no user style")
	}

	var ruleEls []*element
	for _, fts := range us[0].children("FeatureTypeStyle") {
		ruleEls = append(ruleEls, fts.children("Rule")...)
	}

	s := &Style{Type: LayerVector, Opacity: 1}
	kind := layer.KindPoint
	for _, r := range ruleEls {
		switch {
		case r.child("PolygonSymbolizer") != nil:
			kind = layer.KindPolygon
		case r.child("LineSymbolizer") != nil && kind != layer.KindPolygon:
			kind = layer.KindLine
		}
	}
	s.GeometryType = kind
	s.geometryInferred = true
	symType := symbolTypeFor(s.GeometryType)

	root0 := &Rule{Active: true}
	var labelRules []*LabelRule
	for i, rel := range ruleEls {
		r := &Rule{
			Key:      fmt.Sprintf("{sld-rule-%d}", i),
			Label:    sldRuleTitle(rel),
			MinDenom: floatText(rel.child("MinScaleDenominator"), 0),
			MaxDenom: floatText(rel.child("MaxScaleDenominator"), 0),
			Active:   true,
		}
		if rel.child("ElseFilter") != nil {
			r.Else = true
		} else if f := rel.child("Filter"); f != nil {
			n, err := ogcFilter(f)
			if err != nil {
				return nil, err
			}
			if n != nil {
				r.Filter = expr.FromNode(n)
			}
		}
		sym, err := sldSymbol(rel, symType)
		if err != nil {
			return nil, err
		}
		r.Symbol = sym

		if ts := rel.child("TextSymbolizer"); ts != nil {
			ls, err := sldLabel(ts)
			if err != nil {
				return nil, err
			}
			labelRules = append(labelRules, &LabelRule{
				Key:         r.Key,
				Description: r.Label,
				Filter:      r.Filter,
				Else:        r.Else,
				Settings:    ls,
				MinDenom:    r.MinDenom,
				MaxDenom:    r.MaxDenom,
				Active:      true,
			})
		}
		if r.Symbol != nil || r.Else || r.Filter != nil {
			root0.Children = append(root0.Children, r)
		}
	}

	if len(root0.Children) == 1 {
		r := root0.Children[0]
		if r.Filter == nil && !r.Else && r.MinDenom == 0 && r.MaxDenom == 0 && r.Symbol != nil {
			s.Renderer = &SingleSymbol{Symbol: r.Symbol}
		}
	}
	if s.Renderer == nil {
		s.Renderer = &RuleBased{Root: root0}
	}
	if len(labelRules) > 0 {
		s.Labeling = &Labeling{Rules: labelRules}
	}
	return s, nil
}

func sldRuleTitle(rel *element) string {
	if t := rel.child("Description").child("Title").text(); t != "" {
		return t
	}
	if t := rel.child("Title").text(); t != "" {
		return t
	}
	return rel.child("Name").text()
}

func floatText(el *element, def float64) float64 {
	v, err := strconv.ParseFloat(el.text(), 64)
	if err != nil {
		return def
	}
	return v
}

// svgParams reads the CssParameter/SvgParameter children of a Fill or
// Stroke element.
func svgParams(el *element) map[string]string {
	res := map[string]string{}
	if el == nil {
		return res
	}
	for _, c := range el.Children {
		if c.Name == "CssParameter" || c.Name == "SvgParameter" {
			res[c.attr("name")] = paramText(c)
		}
	}
	return res
}

// paramText returns the literal text of a parameter, looking inside
// ogc:Literal children.
func paramText(el *element) string {
	if lit := el.child("Literal"); lit != nil {
		return lit.text()
	}
	return el.text()
}

func sldColor(params map[string]string, key, opacityKey string, def color.NRGBA) color.NRGBA {
	c := def
	if v, ok := params[key]; ok {
		if pc, err := ParseColor(v); err == nil {
			c = pc
		}
	}
	if v, ok := params[opacityKey]; ok {
		if op, err := strconv.ParseFloat(v, 64); err == nil {
			c.A = uint8(min(max(op, 0), 1) * 255)
		}
	}
	return c
}

// sldUnit maps the uom attribute of a symbolizer.  Without uom, SLD sizes
// are in pixels.
func sldUnit(el *element) Unit {
	uom := el.attr("uom")
	switch {
	case strings.HasSuffix(uom, "metre"):
		return MetersInMapUnits
	case strings.HasSuffix(uom, "foot"):
		return MapUnits
	}
	return Pixels
}

func sldSymbol(rel *element, t SymbolType) (*Symbol, error) {
	sym := &Symbol{Type: t, Alpha: 1}
	for _, c := range rel.Children {
		var layers []*SymbolLayer
		var err error
		switch c.Name {
		case "PolygonSymbolizer":
			layers = sldPolygon(c)
		case "LineSymbolizer":
			layers = sldLine(c)
		case "PointSymbolizer":
			layers, err = sldPoint(c)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		sym.Layers = append(sym.Layers, layers...)
	}
	if len(sym.Layers) == 0 {
		return nil, nil
	}

	// point symbolizers inside line or fill symbols draw on the vertices
	// or the centroid
	for i, l := range sym.Layers {
		isMarker := l.Class == "SimpleMarker" || l.Class == "SvgMarker"
		switch {
		case isMarker && t == LineSymbol:
			sym.Layers[i] = &SymbolLayer{
				Class:     "MarkerLine",
				Enabled:   true,
				Props:     map[string]string{"placement": "vertex"},
				SubSymbol: &Symbol{Type: MarkerSymbol, Alpha: 1, Layers: []*SymbolLayer{l}},
			}
		case isMarker && t == FillSymbol:
			sym.Layers[i] = &SymbolLayer{
				Class:     "CentroidFill",
				Enabled:   true,
				Props:     map[string]string{"point_on_surface": "0"},
				SubSymbol: &Symbol{Type: MarkerSymbol, Alpha: 1, Layers: []*SymbolLayer{l}},
			}
		case l.Class == "SimpleLine" && t == FillSymbol:
			p := l.Props
			sym.Layers[i] = &SymbolLayer{
				Class:   "SimpleFill",
				Enabled: true,
				Props: map[string]string{
					"style":              "no",
					"color":              "0,0,0,0",
					"outline_color":      p["line_color"],
					"outline_width":      p["line_width"],
					"outline_width_unit": p["line_width_unit"],
					"outline_style":      p["line_style"],
				},
			}
		}
	}
	return sym, nil
}

func sldPolygon(el *element) []*SymbolLayer {
	fill := el.child("Fill")
	stroke := el.child("Stroke")
	fp := svgParams(fill)
	sp := svgParams(stroke)
	unit := sldUnit(el)
	props := map[string]string{
		"color":              FormatColor(sldColor(fp, "fill", "fill-opacity", color.NRGBA{128, 128, 128, 255})),
		"style":              "solid",
		"outline_color":      FormatColor(sldColor(sp, "stroke", "stroke-opacity", color.NRGBA{0, 0, 0, 255})),
		"outline_width":      orDefault(sp["stroke-width"], "1"),
		"outline_width_unit": unit.String(),
		"outline_style":      "solid",
		"joinstyle":          orDefault(sp["stroke-linejoin"], "bevel"),
	}
	if fill == nil {
		props["style"] = "no"
	}
	if stroke == nil {
		props["outline_style"] = "no"
	}
	return []*SymbolLayer{{Class: "SimpleFill", Enabled: true, Props: props}}
}

func sldLine(el *element) []*SymbolLayer {
	sp := svgParams(el.child("Stroke"))
	unit := sldUnit(el)
	props := map[string]string{
		"line_color":      FormatColor(sldColor(sp, "stroke", "stroke-opacity", color.NRGBA{0, 0, 0, 255})),
		"line_width":      orDefault(sp["stroke-width"], "1"),
		"line_width_unit": unit.String(),
		"line_style":      "solid",
		"capstyle":        sldCap(sp["stroke-linecap"]),
		"joinstyle":       orDefault(sp["stroke-linejoin"], "bevel"),
	}
	if dash := strings.Fields(sp["stroke-dasharray"]); len(dash) > 0 {
		props["use_custom_dash"] = "1"
		props["customdash"] = strings.Join(dash, ";")
		props["customdash_unit"] = unit.String()
	}
	if off := sp["stroke-dashoffset"]; off != "" {
		props["dash_offset"] = off
	}
	if po := el.child("PerpendicularOffset").text(); po != "" {
		props["offset"] = po
		props["offset_unit"] = unit.String()
	}
	return []*SymbolLayer{{Class: "SimpleLine", Enabled: true, Props: props}}
}

func sldCap(s string) string {
	switch s {
	case "butt":
		return "flat"
	case "round":
		return "round"
	}
	return "square"
}

func sldPoint(el *element) ([]*SymbolLayer, error) {
	g := el.child("Graphic")
	if g == nil {
		return nil, sldInvalid("point symbolizer without graphic")
	}
	unit := sldUnit(el)
	size := orDefault(g.child("Size").text(), "6")
	angle := orDefault(g.child("Rotation").text(), "0")

	if eg := g.child("ExternalGraphic"); eg != nil {
		href := eg.child("OnlineResource").attr("href")
		if href == "" {
			return nil, sldInvalid("external graphic without href")
		}
		return []*SymbolLayer{{
			Class:   "SvgMarker",
			Enabled: true,
			Props: map[string]string{
				"name":      href,
				"size":      size,
				"size_unit": unit.String(),
				"angle":     angle,
			},
		}}, nil
	}

	mark := g.child("Mark")
	fp := svgParams(mark.child("Fill"))
	sp := svgParams(mark.child("Stroke"))
	name := orDefault(mark.child("WellKnownName").text(), "square")
	props := map[string]string{
		"name":               sldMarkName(name),
		"color":              FormatColor(sldColor(fp, "fill", "fill-opacity", color.NRGBA{128, 128, 128, 255})),
		"outline_color":      FormatColor(sldColor(sp, "stroke", "stroke-opacity", color.NRGBA{0, 0, 0, 255})),
		"outline_width":      orDefault(sp["stroke-width"], "0"),
		"outline_width_unit": unit.String(),
		"outline_style":      "solid",
		"size":               size,
		"size_unit":          unit.String(),
		"angle":              angle,
	}
	if mark.child("Stroke") == nil {
		props["outline_style"] = "no"
	}
	return []*SymbolLayer{{Class: "SimpleMarker", Enabled: true, Props: props}}, nil
}

func sldMarkName(wkn string) string {
	switch strings.ToLower(wkn) {
	case "x":
		return "cross2"
	case "shape://vertline", "shape://horline":
		return "line"
	}
	return strings.ToLower(wkn)
}

func sldLabel(ts *element) (*LabelSettings, error) {
	lab := ts.child("Label")
	var field string
	isExpr := false
	if pn := lab.child("PropertyName"); pn != nil && len(lab.Children) == 1 {
		field = pn.text()
	} else if lab != nil {
		n, err := ogcExpression(lab)
		if err != nil {
			return nil, err
		}
		if n != nil {
			field = expr.FromNode(n).String()
			isExpr = true
		}
	}
	s := DefaultLabelSettings(field)
	s.IsExpression = isExpr
	fp := svgParams(ts.child("Font"))
	if f := fp["font-family"]; f != "" {
		s.FontFamily = f
	}
	if v, err := strconv.ParseFloat(fp["font-size"], 64); err == nil {
		s.FontSize = v
		s.FontUnit = Pixels
	}
	s.Color = sldColor(svgParams(ts.child("Fill")), "fill", "fill-opacity", color.NRGBA{0, 0, 0, 255})
	if halo := ts.child("Halo"); halo != nil {
		s.BufferDraw = true
		s.BufferSize = floatText(halo.child("Radius"), 1)
		s.BufferUnit = Pixels
		s.BufferColor = sldColor(svgParams(halo.child("Fill")), "fill", "fill-opacity", color.NRGBA{255, 255, 255, 255})
	}
	return s, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

var ogcComparison = map[string]string{
	"PropertyIsEqualTo":              "=",
	"PropertyIsNotEqualTo":           "<>",
	"PropertyIsLessThan":             "<",
	"PropertyIsGreaterThan":          ">",
	"PropertyIsLessThanOrEqualTo":    "<=",
	"PropertyIsGreaterThanOrEqualTo": ">=",
}

var ogcArithmetic = map[string]string{
	"Add": "+",
	"Sub": "-",
	"Mul": "*",
	"Div": "/",
}

// ogcFilter converts the content of an ogc:Filter element.
func ogcFilter(f *element) (expr.Node, error) {
	if len(f.Children) == 0 {
		return nil, nil
	}
	if len(f.Children) > 1 {
		return nil, sldInvalid("filter with %d conditions", len(f.Children))
	}
	return ogcCondition(f.Children[0])
}

func ogcCondition(el *element) (expr.Node, error) {
	if op, ok := ogcComparison[el.Name]; ok {
		if len(el.Children) != 2 {
			return nil, sldInvalid("%s needs two operands", el.Name)
		}
		l, err := ogcExpression(el.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := ogcExpression(el.Children[1])
		if err != nil {
			return nil, err
		}
		return &expr.Binary{Op: op, Left: l, Right: r}, nil
	}

	switch el.Name {
	case "And", "Or":
		if len(el.Children) == 0 {
			return nil, sldInvalid("empty <%s>", el.Name)
		}
		var res expr.Node
		for _, c := range el.Children {
			n, err := ogcCondition(c)
			if err != nil {
				return nil, err
			}
			if res == nil {
				res = n
			} else {
				res = &expr.Binary{Op: strings.ToUpper(el.Name), Left: res, Right: n}
			}
		}
		return res, nil
	case "Not":
		if len(el.Children) != 1 {
			return nil, sldInvalid("<Not> needs one operand")
		}
		n, err := ogcCondition(el.Children[0])
		if err != nil {
			return nil, err
		}
		return &expr.Unary{Op: "NOT", Operand: n}, nil
	case "PropertyIsNull":
		if len(el.Children) != 1 {
			return nil, sldInvalid("<PropertyIsNull> needs one operand")
		}
		n, err := ogcExpression(el.Children[0])
		if err != nil {
			return nil, err
		}
		return &expr.Binary{Op: "IS", Left: n, Right: &expr.Literal{}}, nil
	case "PropertyIsBetween":
		if len(el.Children) != 3 {
			return nil, sldInvalid("<PropertyIsBetween> needs three operands")
		}
		var ops [3]expr.Node
		for i, c := range el.Children {
			src := c
			if c.Name == "LowerBoundary" || c.Name == "UpperBoundary" {
				if len(c.Children) != 1 {
					return nil, sldInvalid("invalid <%s>", c.Name)
				}
				src = c.Children[0]
			}
			n, err := ogcExpression(src)
			if err != nil {
				return nil, err
			}
			ops[i] = n
		}
		return &expr.Between{Operand: ops[0], Lo: ops[1], Hi: ops[2]}, nil
	case "PropertyIsLike":
		if len(el.Children) != 2 {
			return nil, sldInvalid("<PropertyIsLike> needs two operands")
		}
		n, err := ogcExpression(el.Children[0])
		if err != nil {
			return nil, err
		}
		pattern := likePattern(el.Children[1].text(),
			orDefault(el.attr("wildCard"), "*"),
			orDefault(el.attr("singleChar"), "."),
			orDefault(el.attr("escapeChar"), "!"))
		op := "LIKE"
		if !el.attrBool("matchCase", true) {
			op = "ILIKE"
		}
		return &expr.Binary{Op: op, Left: n, Right: &expr.Literal{Value: pattern}}, nil
	}
	return nil, sldInvalid("unsupported filter <%s>", el.Name)
}

// likePattern converts an OGC pattern to LIKE syntax.
func likePattern(p, wild, single, esc string) string {
	var b strings.Builder
	for i := 0; i < len(p); {
		switch {
		case strings.HasPrefix(p[i:], esc) && i+len(esc) < len(p):
			i += len(esc)
			b.WriteByte(p[i])
			i++
			continue
		case strings.HasPrefix(p[i:], wild):
			b.WriteByte('%')
			i += len(wild)
			continue
		case strings.HasPrefix(p[i:], single):
			b.WriteByte('_')
			i += len(single)
			continue
		}
		b.WriteByte(p[i])
		i++
	}
	return b.String()
}

func ogcExpression(el *element) (expr.Node, error) {
	switch el.Name {
	case "PropertyName":
		return &expr.Column{Name: el.text()}, nil
	case "Literal":
		return ogcLiteral(el.text()), nil
	case "Function":
		call := &expr.Call{Name: strings.ToLower(el.attr("name"))}
		for _, c := range el.Children {
			n, err := ogcExpression(c)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, n)
		}
		return call, nil
	case "Label":
		var parts []expr.Node
		if t := strings.TrimSpace(el.Text); t != "" && len(el.Children) == 0 {
			return &expr.Literal{Value: t}, nil
		}
		for _, c := range el.Children {
			n, err := ogcExpression(c)
			if err != nil {
				return nil, err
			}
			parts = append(parts, n)
		}
		if len(parts) == 0 {
			return nil, nil
		}
		res := parts[0]
		for _, p := range parts[1:] {
			res = &expr.Binary{Op: "||", Left: res, Right: p}
		}
		return res, nil
	}
	if op, ok := ogcArithmetic[el.Name]; ok {
		if len(el.Children) != 2 {
			return nil, sldInvalid("<%s> needs two operands", el.Name)
		}
		l, err := ogcExpression(el.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := ogcExpression(el.Children[1])
		if err != nil {
			return nil, err
		}
		return &expr.Binary{Op: op, Left: l, Right: r}, nil
	}
	return nil, sldInvalid("unsupported expression <%s>", el.Name)
}

// ogcLiteral keeps numeric literals numeric so that comparisons with
// numeric attributes work as expected.
func ogcLiteral(s string) expr.Node {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &expr.Literal{Value: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return &expr.Literal{Value: f}
	}
	return &expr.Literal{Value: s}
}
