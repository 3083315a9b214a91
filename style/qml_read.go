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
	"strconv"
	"strings"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
)

// geometryCodes are the values of <layerGeometryType>.
var geometryCodes = []layer.GeometryKind{
	layer.KindPoint, layer.KindLine, layer.KindPolygon, layer.KindUnknown, layer.KindNull,
}

func geometryCode(k layer.GeometryKind) int {
	for i, g := range geometryCodes {
		if g == k {
			return i
		}
	}
	return 3
}

type qmlReader struct {
	opts *ParseOptions
}

func (q *qmlReader) invalid(format string, args ...any) error {
	return &ValidationError{Format: FormatQML, Reason: fmt.Sprintf(format, args...)}
}

func readQML(data []byte, opts *ParseOptions) (*Style, error) {
	root, err := parseXML(data)
	if err != nil {
		return nil, &ValidationError{Format: FormatQML, Reason: "malformed XML", Err: err}
	}
	q := &qmlReader{opts: opts}
	if root.Name != "qgis" {
		return nil, q.invalid("root element is <%s>, want <qgis>", root.Name)
	}

	s := &Style{
		ScaleBased: root.attrBool("hasScaleBasedVisibilityFlag", false),
		MinScale:   root.attrFloat("minScale", 0),
		MaxScale:   root.attrFloat("maxScale", 0),
		Opacity:    1,
	}
	if t := root.child("layerOpacity").text(); t != "" {
		if v, err := strconv.ParseFloat(t, 64); err == nil {
			s.Opacity = v
		}
	}
	if g := root.child("layerGeometryType"); g != nil {
		code, err := strconv.Atoi(g.text())
		if err != nil || code < 0 || code >= len(geometryCodes) {
			return nil, q.invalid("invalid layer geometry type %q", g.text())
		}
		s.GeometryType = geometryCodes[code]
	}

	if rr := rasterRendererElement(root); rr != nil {
		s.Type = LayerRaster
		s.GeometryType = layer.KindUnknown
		s.Raster, err = q.rasterRenderer(rr)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	rel := root.child("renderer-v2")
	if rel == nil {
		return nil, q.invalid("no renderer")
	}
	s.Type = LayerVector
	if s.Renderer, err = q.renderer(rel); err != nil {
		return nil, err
	}
	s.OrderByEnabled = rel.attrBool("enableorderby", false)
	for _, c := range rel.child("orderby").children("orderByClause") {
		e, err := expr.Parse(c.text())
		if err != nil {
			return nil, &ValidationError{Format: FormatQML, Reason: "invalid order by clause", Err: err}
		}
		s.OrderBy = append(s.OrderBy, OrderClause{
			Expr:       e,
			Ascending:  c.attrBool("asc", true),
			NullsFirst: c.attrBool("nullsFirst", false),
		})
	}
	if lel := root.child("labeling"); lel != nil {
		if s.Labeling, err = q.labeling(lel); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{"SingleCategoryDiagramRenderer", "LinearlyInterpolatedDiagramRenderer"} {
		if del := root.child(name); del != nil {
			if s.Diagram, err = q.diagram(del); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// rasterRendererElement finds the raster renderer of a raster style, or
// returns nil for vector styles.
func rasterRendererElement(root *element) *element {
	if pipe := root.child("pipe"); pipe != nil {
		if rr := pipe.child("rasterrenderer"); rr != nil {
			return rr
		}
		if pipe.child("provider").child("resampling") != nil {
			return newElement("rasterrenderer")
		}
	}
	if root.child("rasterproperties") != nil {
		if rr := root.child("rasterrenderer"); rr != nil {
			return rr
		}
	}
	return nil
}

// options reads the <Option type="Map"> children of el, falling back to
// legacy <prop k="" v=""/> elements.
func options(el *element) map[string]string {
	res := map[string]string{}
	if m := el.child("Option"); m != nil && m.attr("type") == "Map" {
		for _, o := range m.children("Option") {
			if o.attr("type") == "Map" || o.attr("type") == "List" {
				continue
			}
			res[o.attr("name")] = o.attr("value")
		}
	}
	for _, p := range el.children("prop") {
		if _, ok := res[p.attr("k")]; !ok {
			res[p.attr("k")] = p.attr("v")
		}
	}
	return res
}

// optionMap returns the named children of an <Option type="Map">.
func optionMap(el *element) map[string]*element {
	res := map[string]*element{}
	if el == nil {
		return res
	}
	for _, o := range el.children("Option") {
		res[o.attr("name")] = o
	}
	return res
}

// dataDefined reads the active properties of a <data_defined_properties>
// or <dd_properties> element.
func (q *qmlReader) dataDefined(el *element) (map[string]*expr.Expr, error) {
	if el == nil {
		return nil, nil
	}
	props := optionMap(optionMap(el.child("Option"))["properties"])
	var res map[string]*expr.Expr
	for name, p := range props {
		fields := optionMap(p)
		if fields["active"] == nil || fields["active"].attr("value") != "true" {
			continue
		}
		var e *expr.Expr
		switch fields["type"].attrOr("value", "") {
		case "2":
			e = expr.FromNode(&expr.Column{Name: fields["field"].attrOr("value", "")})
		case "3":
			var err error
			e, err = expr.Parse(fields["expression"].attrOr("value", ""))
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid data-defined " + name, Err: err}
			}
		default:
			continue
		}
		if res == nil {
			res = map[string]*expr.Expr{}
		}
		res[name] = e
	}
	return res, nil
}

// attrOr is attr for possibly missing elements.
func (e *element) attrOr(name, def string) string {
	if e == nil || !e.hasAttr(name) {
		return def
	}
	return e.attr(name)
}

// legacyDataDefined reads "<key>_dd_*" symbol layer properties.
func legacyDataDefined(props map[string]string) (map[string]*expr.Expr, error) {
	var res map[string]*expr.Expr
	for k, v := range props {
		name, ok := strings.CutSuffix(k, "_dd_active")
		if !ok || v != "1" {
			continue
		}
		var e *expr.Expr
		if props[name+"_dd_useexpr"] == "1" {
			var err error
			e, err = expr.Parse(props[name+"_dd_expression"])
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid data-defined " + name, Err: err}
			}
		} else if f := props[name+"_dd_field"]; f != "" {
			e = expr.FromNode(&expr.Column{Name: f})
		} else {
			continue
		}
		if res == nil {
			res = map[string]*expr.Expr{}
		}
		res[legacyPropertyName(name)] = e
	}
	return res, nil
}

func legacyPropertyName(name string) string {
	switch name {
	case "color":
		return "fillColor"
	case "color_border", "outline_color", "line_color":
		return "strokeColor"
	case "width", "outline_width", "line_width":
		return "strokeWidth"
	}
	return name
}

func (q *qmlReader) symbols(el *element) (map[string]*Symbol, error) {
	res := map[string]*Symbol{}
	for _, sel := range el.child("symbols").children("symbol") {
		sym, err := q.symbol(sel)
		if err != nil {
			return nil, err
		}
		res[sel.attr("name")] = sym
	}
	return res, nil
}

func (q *qmlReader) symbol(el *element) (*Symbol, error) {
	t, ok := parseSymbolType(el.attr("type"))
	if !ok {
		return nil, q.invalid("unknown symbol type %q", el.attr("type"))
	}
	sym := &Symbol{Type: t, Alpha: el.attrFloat("alpha", 1)}
	for _, lel := range el.children("layer") {
		props := options(lel)
		dd, err := q.dataDefined(lel.child("data_defined_properties"))
		if err != nil {
			return nil, err
		}
		legacy, err := legacyDataDefined(props)
		if err != nil {
			return nil, err
		}
		for k, v := range legacy {
			if dd == nil {
				dd = map[string]*expr.Expr{}
			}
			if _, ok := dd[k]; !ok {
				dd[k] = v
			}
		}
		l := &SymbolLayer{
			Class:       lel.attr("class"),
			Enabled:     lel.attrBool("enabled", true),
			Props:       props,
			DataDefined: dd,
		}
		if sub := lel.child("symbol"); sub != nil {
			if l.SubSymbol, err = q.symbol(sub); err != nil {
				return nil, err
			}
		}
		sym.Layers = append(sym.Layers, l)
	}
	return sym, nil
}

func (q *qmlReader) renderer(el *element) (Renderer, error) {
	syms, err := q.symbols(el)
	if err != nil {
		return nil, err
	}
	lookup := func(name string) (*Symbol, error) {
		s, ok := syms[name]
		if !ok {
			return nil, q.invalid("missing symbol %q", name)
		}
		return s, nil
	}

	switch t := el.attr("type"); t {
	case "singleSymbol":
		sym, err := lookup("0")
		if err != nil {
			return nil, err
		}
		return &SingleSymbol{Symbol: sym}, nil

	case "categorizedSymbol":
		var cats []Category
		for _, c := range el.child("categories").children("category") {
			var sym *Symbol
			if c.hasAttr("symbol") {
				if sym, err = lookup(c.attr("symbol")); err != nil {
					return nil, err
				}
			}
			var val any = c.attr("value")
			switch c.attr("type") {
			case "invalid", "NULL":
				val = nil
			}
			cats = append(cats, Category{
				Value:  val,
				Label:  c.attr("label"),
				Symbol: sym,
				Render: c.attrBool("render", true),
			})
		}
		return NewCategorized(el.attr("attr"), cats), nil

	case "graduatedSymbol":
		var ranges []Range
		for _, r := range el.child("ranges").children("range") {
			var sym *Symbol
			if r.hasAttr("symbol") {
				if sym, err = lookup(r.attr("symbol")); err != nil {
					return nil, err
				}
			}
			ranges = append(ranges, Range{
				Lower:  r.attrFloat("lower", math.Inf(-1)),
				Upper:  r.attrFloat("upper", math.Inf(1)),
				Label:  r.attr("label"),
				Symbol: sym,
				Render: r.attrBool("render", true),
			})
		}
		return NewGraduated(el.attr("attr"), ranges), nil

	case "RuleRenderer":
		rel := el.child("rules")
		if rel == nil {
			return nil, q.invalid("rule renderer without rules")
		}
		root := &Rule{Key: rel.attr("key"), Active: true}
		if root.Children, err = q.rules(rel, syms); err != nil {
			return nil, err
		}
		return &RuleBased{Root: root}, nil

	case "heatmapRenderer":
		h := &Heatmap{
			Radius:     el.attrFloat("radius", 10),
			RadiusUnit: ParseUnit(el.attr("radius_unit")),
			MaxValue:   el.attrFloat("max_value", 0),
			Weight:     el.attr("weight_expression"),
		}
		if _, err := h.WeightExpr(); err != nil {
			return nil, &ValidationError{Format: FormatQML, Reason: "invalid heatmap weight", Err: err}
		}
		if rel := el.child("colorramp"); rel != nil {
			if h.Ramp, err = parseRampProps(options(rel)); err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid colour ramp", Err: err}
			}
		}
		return h, nil

	case "nullSymbol":
		return NullSymbol{}, nil

	default:
		return nil, q.invalid("unsupported renderer %q", t)
	}
}

func (q *qmlReader) rules(el *element, syms map[string]*Symbol) ([]*Rule, error) {
	var res []*Rule
	for _, rel := range el.children("rule") {
		r := &Rule{
			Key:      rel.attr("key"),
			Label:    rel.attr("label"),
			MinDenom: rel.attrFloat("scalemindenom", 0),
			MaxDenom: rel.attrFloat("scalemaxdenom", 0),
			Active:   rel.attrOr("checkstate", "1") != "0",
		}
		switch f := strings.TrimSpace(rel.attr("filter")); {
		case strings.EqualFold(f, "ELSE") || rel.attrBool("else", false):
			r.Else = true
		case f != "":
			e, err := expr.Parse(f)
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: fmt.Sprintf("invalid filter in rule %q", r.Label), Err: err}
			}
			r.Filter = e
		}
		if name := rel.attr("symbol"); name != "" {
			sym, ok := syms[name]
			if !ok {
				return nil, q.invalid("missing symbol %q", name)
			}
			r.Symbol = sym
		}
		var err error
		if r.Children, err = q.rules(rel, syms); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

func (q *qmlReader) labeling(el *element) (*Labeling, error) {
	switch t := el.attr("type"); t {
	case "simple":
		s, err := q.labelSettings(el.child("settings"))
		if err != nil {
			return nil, err
		}
		return &Labeling{Settings: s}, nil
	case "rule-based":
		rules, err := q.labelRules(el.child("rules"))
		if err != nil {
			return nil, err
		}
		return &Labeling{Rules: rules}, nil
	default:
		return nil, q.invalid("unsupported labeling %q", t)
	}
}

func (q *qmlReader) labelRules(el *element) ([]*LabelRule, error) {
	var res []*LabelRule
	for _, rel := range el.children("rule") {
		r := &LabelRule{
			Key:         rel.attr("key"),
			Description: rel.attr("description"),
			MinDenom:    rel.attrFloat("scalemindenom", 0),
			MaxDenom:    rel.attrFloat("scalemaxdenom", 0),
			Active:      rel.attrBool("active", true),
		}
		switch f := strings.TrimSpace(rel.attr("filter")); {
		case strings.EqualFold(f, "ELSE"):
			r.Else = true
		case f != "":
			e, err := expr.Parse(f)
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid label rule filter", Err: err}
			}
			r.Filter = e
		}
		if sel := rel.child("settings"); sel != nil {
			s, err := q.labelSettings(sel)
			if err != nil {
				return nil, err
			}
			r.Settings = s
		}
		var err error
		if r.Children, err = q.labelRules(rel); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

func (q *qmlReader) labelSettings(el *element) (*LabelSettings, error) {
	if el == nil {
		return nil, q.invalid("labeling without settings")
	}
	ts := el.child("text-style")
	if ts == nil {
		ts = newElement("text-style")
	}
	s := DefaultLabelSettings(ts.attr("fieldName"))
	s.IsExpression = ts.attrBool("isExpression", false)
	if f := ts.attr("fontFamily"); f != "" {
		s.FontFamily = f
	}
	s.FontSize = ts.attrFloat("fontSize", s.FontSize)
	if ts.hasAttr("fontSizeUnit") {
		s.FontUnit = ParseUnit(ts.attr("fontSizeUnit"))
	}
	if c, err := ParseColor(ts.attr("textColor")); err == nil {
		s.Color = c
	}
	if b := el.child("text-buffer"); b != nil {
		s.BufferDraw = b.attrBool("bufferDraw", false)
		s.BufferSize = b.attrFloat("bufferSize", s.BufferSize)
		if b.hasAttr("bufferSizeUnits") {
			s.BufferUnit = ParseUnit(b.attr("bufferSizeUnits"))
		}
		if c, err := ParseColor(b.attr("bufferColor")); err == nil {
			s.BufferColor = c
		}
	}
	if r := el.child("rendering"); r != nil {
		s.Enabled = r.attrBool("drawLabels", true)
	}
	if s.IsExpression {
		if _, err := s.TextExpr(); err != nil {
			return nil, &ValidationError{Format: FormatQML, Reason: "invalid label expression", Err: err}
		}
	}
	dd, err := q.dataDefined(el.child("dd_properties"))
	if err != nil {
		return nil, err
	}
	s.DataDefined = dd
	return s, nil
}

func (q *qmlReader) diagram(el *element) (*Diagram, error) {
	cat := el.child("DiagramCategory")
	if cat == nil {
		return nil, q.invalid("diagram without category")
	}
	d := &Diagram{
		Kind:       DiagramKind(el.attr("diagramType")),
		Enabled:    cat.attrBool("enabled", true),
		Legend:     el.attrBool("attributeLegend", true),
		Size:       cat.attrFloat("width", 15),
		SizeUnit:   ParseUnit(cat.attrOr("sizeType", "MM")),
		BarWidth:   cat.attrFloat("barWidth", 5),
		PenWidth:   cat.attrFloat("penWidth", 0),
		Opacity:    cat.attrFloat("opacity", 1),
		PenColor:   color.NRGBA{0, 0, 0, 255},
		Background: color.NRGBA{255, 255, 255, 255},
	}
	if d.Kind == Histogram {
		d.Size = cat.attrFloat("height", d.Size)
	}
	if c, err := ParseColor(cat.attr("penColor")); err == nil {
		d.PenColor = c
	}
	if c, err := ParseColor(cat.attr("backgroundColor")); err == nil {
		d.Background = c
		if cat.hasAttr("backgroundAlpha") {
			d.Background.A = uint8(cat.attrInt("backgroundAlpha", 255))
		}
	}
	for _, a := range cat.children("attribute") {
		e, err := expr.Parse(a.attr("field"))
		if err != nil {
			return nil, &ValidationError{Format: FormatQML, Reason: "invalid diagram attribute", Err: err}
		}
		c, err := ParseColor(a.attr("color"))
		if err != nil {
			return nil, &ValidationError{Format: FormatQML, Reason: "invalid diagram colour", Err: err}
		}
		if a.hasAttr("colorOpacity") {
			c.A = uint8(a.attrFloat("colorOpacity", 1) * 255)
		}
		d.Attributes = append(d.Attributes, DiagramAttribute{Expr: e, Label: a.attr("label"), Color: c})
	}

	if el.Name == "LinearlyInterpolatedDiagramRenderer" {
		src := el.attr("classificationAttributeExpression")
		if src == "" && el.attr("classificationField") != "" {
			src = expr.QuoteColumn(el.attr("classificationField"))
		}
		sc := &DiagramScaling{
			LowerValue: el.attrFloat("lowerValue", 0),
			UpperValue: el.attrFloat("upperValue", 0),
			LowerSize:  el.attrFloat("lowerWidth", 0),
			UpperSize:  el.attrFloat("upperWidth", d.Size),
		}
		if d.Kind == Histogram {
			sc.LowerSize = el.attrFloat("lowerHeight", sc.LowerSize)
			sc.UpperSize = el.attrFloat("upperHeight", sc.UpperSize)
		}
		if src != "" {
			e, err := expr.Parse(src)
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid diagram classification", Err: err}
			}
			sc.Expr = e
		}
		d.Scaling = sc
	}
	return d, nil
}

func (q *qmlReader) rasterRenderer(el *element) (RasterRenderer, error) {
	opacity := el.attrFloat("opacity", 1)
	switch t := el.attr("type"); t {
	case "", "singlebandgray":
		return &SingleBandGray{
			Band:         el.attrInt("grayBand", 1),
			WhiteToBlack: el.attr("gradient") == "WhiteToBlack",
			Range:        contrastRange(el.child("contrastEnhancement")),
			Opacity:      opacity,
		}, nil

	case "singlebandpseudocolor":
		r := &SingleBandPseudoColor{Band: el.attrInt("band", 1), Opacity: opacity}
		lo, hi := el.attrFloat("classificationMin", math.NaN()), el.attrFloat("classificationMax", math.NaN())
		if !math.IsNaN(lo) && !math.IsNaN(hi) {
			r.Range = MinMax{Min: lo, Max: hi, Set: true}
		}
		sh := el.child("rastershader").child("colorrampshader")
		if sh == nil {
			return nil, q.invalid("pseudocolor renderer without shader")
		}
		r.Shader.Type = parseShaderType(sh.attr("colorRampType"))
		r.Shader.Clip = sh.attrBool("clip", false)
		for _, it := range sh.children("item") {
			c, err := ParseColor(it.attr("color"))
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid shader colour", Err: err}
			}
			if it.hasAttr("alpha") {
				c.A = uint8(it.attrInt("alpha", 255))
			}
			v, err := parseValue(it.attr("value"))
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid shader value", Err: err}
			}
			r.Shader.Items = append(r.Shader.Items, ShaderItem{Value: v, Color: c, Label: it.attr("label")})
		}
		return r, nil

	case "paletted":
		r := &Paletted{Band: el.attrInt("band", 1), Opacity: opacity}
		for _, pe := range el.child("colorPalette").children("paletteEntry") {
			c, err := ParseColor(pe.attr("color"))
			if err != nil {
				return nil, &ValidationError{Format: FormatQML, Reason: "invalid palette colour", Err: err}
			}
			if pe.hasAttr("alpha") {
				c.A = uint8(pe.attrInt("alpha", 255))
			}
			r.Classes = append(r.Classes, PaletteClass{
				Value: pe.attrFloat("value", 0),
				Color: c,
				Label: pe.attr("label"),
			})
		}
		return r, nil

	case "multibandcolor":
		return &MultiBandColor{
			Red:        el.attrInt("redBand", 1),
			Green:      el.attrInt("greenBand", 2),
			Blue:       el.attrInt("blueBand", 3),
			RedRange:   contrastRange(el.child("redContrastEnhancement")),
			GreenRange: contrastRange(el.child("greenContrastEnhancement")),
			BlueRange:  contrastRange(el.child("blueContrastEnhancement")),
			Opacity:    opacity,
		}, nil

	default:
		return nil, q.invalid("unsupported raster renderer %q", t)
	}
}

func contrastRange(el *element) MinMax {
	if el == nil {
		return MinMax{}
	}
	lo, err1 := strconv.ParseFloat(el.child("minValue").text(), 64)
	hi, err2 := strconv.ParseFloat(el.child("maxValue").text(), 64)
	if err1 != nil || err2 != nil {
		return MinMax{}
	}
	return MinMax{Min: lo, Max: hi, Set: true}
}

// parseValue reads a number, accepting "inf" and "-inf".
func parseValue(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
