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

	"seehuhn.de/go/maprender/expr"
)

// sldPixelSize is the size of a standard rendering pixel in millimetres.
const sldPixelSize = 0.28

var (
	fallbackFill   = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	fallbackStroke = color.NRGBA{A: 255}
)

// sldRule is a rule of the output document before conversion to XML.
type sldRule struct {
	name     string
	filter   expr.Node
	isElse   bool
	minDenom float64
	maxDenom float64
	symbol   *Symbol
	label    *LabelSettings
}

// writeSLD writes the style as an SLD 1.1 document.  Heatmaps and
// diagrams have no SLD form and are left out.
func writeSLD(s *Style) (string, error) {
	rules, err := sldRules(s)
	if err != nil {
		return "", err
	}

	fts := newElement("se:FeatureTypeStyle")
	for _, r := range rules {
		rel := newElement("se:Rule")
		rel.addText("se:Name", r.name)
		desc := newElement("se:Description")
		desc.addText("se:Title", r.name)
		rel.add(desc)
		switch {
		case r.isElse:
			rel.add(newElement("se:ElseFilter"))
		case r.filter != nil:
			f, err := ogcConditionXML(r.filter)
			if err != nil {
				return "", err
			}
			rel.add(newElement("ogc:Filter").add(f))
		}
		if r.minDenom > 0 {
			rel.addText("se:MinScaleDenominator", formatFloat(r.minDenom))
		}
		if r.maxDenom > 0 {
			rel.addText("se:MaxScaleDenominator", formatFloat(r.maxDenom))
		}
		if r.symbol != nil {
			rel.add(symbolizersXML(r.symbol)...)
		}
		if r.label != nil {
			ts, err := textSymbolizerXML(r.label)
			if err != nil {
				return "", err
			}
			rel.add(ts)
		}
		fts.add(rel)
	}

	root := newElement("StyledLayerDescriptor",
		"version", "1.1.0",
		"xmlns", "http://www.opengis.net/sld",
		"xmlns:ogc", "http://www.opengis.net/ogc",
		"xmlns:se", "http://www.opengis.net/se",
		"xmlns:xlink", "http://www.w3.org/1999/xlink",
		"xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance",
		"xsi:schemaLocation", "http://www.opengis.net/sld http://schemas.opengis.net/sld/1.1.0/StyledLayerDescriptor.xsd",
	)
	nl := newElement("NamedLayer")
	nl.addText("se:Name", "layer")
	us := newElement("UserStyle")
	us.addText("se:Name", "layer")
	us.add(fts)
	nl.add(us)
	root.add(nl)
	return writeXML(root, "")
}

func sldRules(s *Style) ([]sldRule, error) {
	var res []sldRule
	switch r := s.Renderer.(type) {
	case *SingleSymbol:
		if r.Symbol != nil {
			res = append(res, sldRule{name: "Single symbol", symbol: r.Symbol})
		}

	case *Categorized:
		attr := classExpr(r.Attr)
		if attr == nil {
			return nil, fmt.Errorf("categorized renderer without attribute")
		}
		for _, c := range r.Categories {
			if !c.Render || c.Symbol == nil {
				continue
			}
			rule := sldRule{name: c.Label, symbol: c.Symbol}
			switch {
			case c.Value == nil:
				rule.filter = &expr.Binary{Op: "IS", Left: attr.Root(), Right: &expr.Literal{}}
			case c.Value == "":
				rule.isElse = true
			default:
				rule.filter = &expr.Binary{Op: "=", Left: attr.Root(), Right: ogcLiteral(expr.ToString(c.Value))}
			}
			res = append(res, rule)
		}

	case *Graduated:
		attr := classExpr(r.Attr)
		if attr == nil {
			return nil, fmt.Errorf("graduated renderer without attribute")
		}
		for i, rg := range r.Ranges {
			if !rg.Render || rg.Symbol == nil {
				continue
			}
			lowerOp := ">"
			if i == 0 {
				lowerOp = ">="
			}
			res = append(res, sldRule{
				name: rg.Label,
				filter: &expr.Binary{
					Op:    "AND",
					Left:  &expr.Binary{Op: lowerOp, Left: attr.Root(), Right: &expr.Literal{Value: rg.Lower}},
					Right: &expr.Binary{Op: "<=", Left: attr.Root(), Right: &expr.Literal{Value: rg.Upper}},
				},
				symbol: rg.Symbol,
			})
		}

	case *RuleBased:
		var walk func(rules []*Rule, parent expr.Node, lo, hi float64)
		walk = func(rules []*Rule, parent expr.Node, lo, hi float64) {
			for _, x := range rules {
				if !x.Active {
					continue
				}
				f := parent
				if x.Filter != nil {
					f = andNode(parent, x.Filter.Root())
				}
				rlo, rhi := lo, hi
				if x.MinDenom > 0 {
					rlo = x.MinDenom
				}
				if x.MaxDenom > 0 {
					rhi = x.MaxDenom
				}
				if x.Symbol != nil {
					res = append(res, sldRule{
						name:     x.Label,
						filter:   f,
						isElse:   x.Else,
						minDenom: rlo,
						maxDenom: rhi,
						symbol:   x.Symbol,
					})
				}
				walk(x.Children, f, rlo, rhi)
			}
		}
		if r.Root != nil {
			walk(r.Root.Children, nil, 0, 0)
		}
	}

	if l := s.Labeling; l != nil {
		if !l.RuleBased() {
			if l.Settings.Enabled {
				res = append(res, sldRule{name: "Labels", label: l.Settings})
			}
		} else {
			var walk func(rules []*LabelRule, parent expr.Node)
			walk = func(rules []*LabelRule, parent expr.Node) {
				for _, x := range rules {
					if !x.Active {
						continue
					}
					f := parent
					if x.Filter != nil {
						f = andNode(parent, x.Filter.Root())
					}
					if x.Settings != nil && x.Settings.Enabled {
						res = append(res, sldRule{
							name:     x.Description,
							filter:   f,
							isElse:   x.Else,
							minDenom: x.MinDenom,
							maxDenom: x.MaxDenom,
							label:    x.Settings,
						})
					}
					walk(x.Children, f)
				}
			}
			walk(l.Rules, nil)
		}
	}
	return res, nil
}

func andNode(a, b expr.Node) expr.Node {
	if a == nil {
		return b
	}
	return &expr.Binary{Op: "AND", Left: a, Right: b}
}

// sldLength converts a length for output.  Map unit lengths are written
// as metres and set the uom of the symbolizer; everything else is
// converted to pixels.
func sldLength(sym *element, v float64, u Unit) string {
	switch u {
	case MapUnits, MetersInMapUnits:
		sym.set("uom", "http://www.opengeospatial.org/se/units/metre")
		return formatFloat(v)
	case Pixels:
		return formatFloat(v)
	case Points:
		return formatFloat(roundTo(v*25.4/72/sldPixelSize, 3))
	case Inches:
		return formatFloat(roundTo(v*25.4/sldPixelSize, 3))
	}
	return formatFloat(roundTo(v/sldPixelSize, 3))
}

func roundTo(v float64, digits int) float64 {
	s := strconv.FormatFloat(v, 'f', digits, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}

func svgParam(name, value string) *element {
	p := newElement("se:SvgParameter", "name", name)
	p.Text = value
	return p
}

func fillXML(l *SymbolLayer, key string) *element {
	c := l.Color(key, fallbackFill)
	f := newElement("se:Fill").add(svgParam("fill", FormatHex(c)))
	if c.A != 255 {
		f.add(svgParam("fill-opacity", formatFloat(roundTo(float64(c.A)/255, 3))))
	}
	return f
}

func strokeXML(sym *element, l *SymbolLayer, colorKey, widthKey, unitKey string) *element {
	c := l.Color(colorKey, fallbackStroke)
	s := newElement("se:Stroke").add(svgParam("stroke", FormatHex(c)))
	if c.A != 255 {
		s.add(svgParam("stroke-opacity", formatFloat(roundTo(float64(c.A)/255, 3))))
	}
	s.add(svgParam("stroke-width", sldLength(sym, l.Float(widthKey, 0.26), l.Unit(unitKey))))
	if j := l.String("joinstyle"); j != "" {
		s.add(svgParam("stroke-linejoin", j))
	}
	switch l.String("capstyle") {
	case "flat":
		s.add(svgParam("stroke-linecap", "butt"))
	case "round":
		s.add(svgParam("stroke-linecap", "round"))
	case "square":
		s.add(svgParam("stroke-linecap", "square"))
	}
	if dash := l.Dash(); len(dash) > 0 {
		var txt string
		for i, d := range dash {
			if i > 0 {
				txt += " "
			}
			txt += sldLength(sym, d, l.Unit("customdash_unit"))
		}
		s.add(svgParam("stroke-dasharray", txt))
	}
	return s
}

// symbolizersXML converts the enabled layers of a symbol.
func symbolizersXML(sym *Symbol) []*element {
	var res []*element
	for _, l := range sym.Layers {
		if !l.Enabled {
			continue
		}
		switch l.Class {
		case "SimpleFill", "GradientFill":
			ps := newElement("se:PolygonSymbolizer")
			if l.String("style") != "no" {
				ps.add(fillXML(l, "color"))
			}
			if l.String("outline_style") != "no" && l.Class == "SimpleFill" {
				ps.add(strokeXML(ps, l, "outline_color", "outline_width", "outline_width_unit"))
			}
			res = append(res, ps)
		case "SimpleLine":
			if l.String("line_style") == "no" {
				continue
			}
			ls := newElement("se:LineSymbolizer")
			ls.add(strokeXML(ls, l, "line_color", "line_width", "line_width_unit"))
			res = append(res, ls)
		case "SimpleMarker", "SvgMarker":
			res = append(res, pointSymbolizerXML(l))
		case "MarkerLine", "CentroidFill":
			if l.SubSymbol != nil {
				res = append(res, symbolizersXML(l.SubSymbol)...)
			}
		}
	}
	return res
}

func pointSymbolizerXML(l *SymbolLayer) *element {
	ps := newElement("se:PointSymbolizer")
	g := newElement("se:Graphic")
	if l.Class == "SvgMarker" {
		eg := newElement("se:ExternalGraphic")
		eg.add(newElement("se:OnlineResource", "xlink:type", "simple", "xlink:href", l.String("name")))
		eg.addText("se:Format", "image/svg+xml")
		g.add(eg)
	} else {
		m := newElement("se:Mark")
		name := l.String("name")
		if name == "cross2" {
			name = "x"
		}
		m.addText("se:WellKnownName", name)
		m.add(fillXML(l, "color"))
		if l.String("outline_style") != "no" {
			m.add(strokeXML(ps, l, "outline_color", "outline_width", "outline_width_unit"))
		}
		g.add(m)
	}
	g.addText("se:Size", sldLength(ps, l.Float("size", 2), l.Unit("size_unit")))
	if a := l.Float("angle", 0); a != 0 {
		g.addText("se:Rotation", formatFloat(a))
	}
	return ps.add(g)
}

func textSymbolizerXML(s *LabelSettings) (*element, error) {
	ts := newElement("se:TextSymbolizer")
	label := newElement("se:Label")
	if s.IsExpression {
		e, err := s.TextExpr()
		if err != nil {
			return nil, err
		}
		v, err := ogcValueXML(e.Root())
		if err != nil {
			return nil, err
		}
		label.add(v)
	} else {
		label.addText("ogc:PropertyName", s.FieldName)
	}
	ts.add(label)
	font := newElement("se:Font")
	font.add(svgParam("font-family", s.FontFamily))
	font.add(svgParam("font-size", sldLength(ts, s.FontSize, s.FontUnit)))
	ts.add(font)
	if s.BufferDraw {
		halo := newElement("se:Halo")
		halo.addText("se:Radius", sldLength(ts, s.BufferSize, s.BufferUnit))
		halo.add(newElement("se:Fill").add(svgParam("fill", FormatHex(s.BufferColor))))
		ts.add(halo)
	}
	ts.add(newElement("se:Fill").add(svgParam("fill", FormatHex(s.Color))))
	return ts, nil
}

var comparisonOGC = map[string]string{}

func init() {
	for k, v := range ogcComparison {
		comparisonOGC[v] = k
	}
}

// ogcConditionXML converts a filter expression to an OGC filter.
func ogcConditionXML(n expr.Node) (*element, error) {
	switch n := n.(type) {
	case *expr.Binary:
		if name, ok := comparisonOGC[n.Op]; ok {
			return ogcPair("ogc:"+name, n.Left, n.Right)
		}
		switch n.Op {
		case "AND", "OR":
			name := "ogc:And"
			if n.Op == "OR" {
				name = "ogc:Or"
			}
			el := newElement(name)
			for _, side := range []expr.Node{n.Left, n.Right} {
				c, err := ogcConditionXML(side)
				if err != nil {
					return nil, err
				}
				// flatten chains of the same operator
				if c.Name == name {
					el.add(c.Children...)
				} else {
					el.add(c)
				}
			}
			return el, nil
		case "IS", "IS NOT":
			lit, ok := n.Right.(*expr.Literal)
			if !ok || lit.Value != nil {
				break
			}
			v, err := ogcValueXML(n.Left)
			if err != nil {
				return nil, err
			}
			el := newElement("ogc:PropertyIsNull").add(v)
			if n.Op == "IS NOT" {
				return newElement("ogc:Not").add(el), nil
			}
			return el, nil
		case "LIKE", "ILIKE", "NOT LIKE", "NOT ILIKE":
			lit, ok := n.Right.(*expr.Literal)
			if !ok {
				break
			}
			v, err := ogcValueXML(n.Left)
			if err != nil {
				return nil, err
			}
			matchCase := "true"
			if n.Op == "ILIKE" || n.Op == "NOT ILIKE" {
				matchCase = "false"
			}
			el := newElement("ogc:PropertyIsLike",
				"wildCard", "%", "singleChar", "_", "escapeChar", "\\", "matchCase", matchCase)
			el.add(v)
			el.addText("ogc:Literal", expr.ToString(lit.Value))
			if n.Op == "NOT LIKE" || n.Op == "NOT ILIKE" {
				return newElement("ogc:Not").add(el), nil
			}
			return el, nil
		}
	case *expr.Unary:
		if n.Op == "NOT" {
			c, err := ogcConditionXML(n.Operand)
			if err != nil {
				return nil, err
			}
			return newElement("ogc:Not").add(c), nil
		}
	case *expr.In:
		el := newElement("ogc:Or")
		for _, item := range n.List {
			c, err := ogcPair("ogc:PropertyIsEqualTo", n.Operand, item)
			if err != nil {
				return nil, err
			}
			el.add(c)
		}
		if len(n.List) == 1 {
			el = el.Children[0]
		}
		if n.Not {
			return newElement("ogc:Not").add(el), nil
		}
		return el, nil
	case *expr.Between:
		v, err := ogcValueXML(n.Operand)
		if err != nil {
			return nil, err
		}
		lo, err := ogcValueXML(n.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := ogcValueXML(n.Hi)
		if err != nil {
			return nil, err
		}
		el := newElement("ogc:PropertyIsBetween").add(
			v,
			newElement("ogc:LowerBoundary").add(lo),
			newElement("ogc:UpperBoundary").add(hi),
		)
		if n.Not {
			return newElement("ogc:Not").add(el), nil
		}
		return el, nil
	}
	return nil, fmt.Errorf("filter %q has no SLD form", expr.FromNode(n).String())
}

func ogcPair(name string, a, b expr.Node) (*element, error) {
	l, err := ogcValueXML(a)
	if err != nil {
		return nil, err
	}
	r, err := ogcValueXML(b)
	if err != nil {
		return nil, err
	}
	return newElement(name).add(l, r), nil
}

var arithmeticOGC = map[string]string{"+": "ogc:Add", "-": "ogc:Sub", "*": "ogc:Mul", "/": "ogc:Div"}

func ogcValueXML(n expr.Node) (*element, error) {
	switch n := n.(type) {
	case *expr.Column:
		return &element{Name: "ogc:PropertyName", Text: n.Name}, nil
	case *expr.Literal:
		if n.Value == nil {
			return nil, fmt.Errorf("NULL literal has no SLD form")
		}
		return &element{Name: "ogc:Literal", Text: expr.ToString(n.Value)}, nil
	case *expr.Unary:
		if n.Op == "-" {
			if lit, ok := n.Operand.(*expr.Literal); ok {
				if v, ok := expr.ToFloat(lit.Value); ok {
					return &element{Name: "ogc:Literal", Text: formatFloat(-v)}, nil
				}
			}
		}
	case *expr.Binary:
		if name, ok := arithmeticOGC[n.Op]; ok {
			return ogcPair(name, n.Left, n.Right)
		}
		if n.Op == "||" {
			f, err := ogcPair("ogc:Function", n.Left, n.Right)
			if err != nil {
				return nil, err
			}
			return f.set("name", "Concatenate"), nil
		}
	case *expr.Call:
		f := newElement("ogc:Function", "name", n.Name)
		for _, a := range n.Args {
			v, err := ogcValueXML(a)
			if err != nil {
				return nil, err
			}
			f.add(v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expression %q has no SLD form", expr.FromNode(n).String())
}
