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
	"math"
	"slices"
	"strconv"

	"seehuhn.de/go/maprender/expr"
)

const qmlVersion = "3.34.0-Prizren"

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeQML(s *Style) (string, error) {
	root := newElement("qgis",
		"version", qmlVersion,
		"hasScaleBasedVisibilityFlag", boolAttr(s.ScaleBased),
		"minScale", formatFloat(s.MinScale),
		"maxScale", formatFloat(s.MaxScale),
		"styleCategories", "AllStyleCategories",
	)

	if s.Type == LayerRaster {
		pipe := newElement("pipe")
		pipe.add(newElement("provider").add(newElement("resampling", "enabled", "false")))
		if s.Raster != nil {
			rr, err := rasterRendererXML(s.Raster)
			if err != nil {
				return "", err
			}
			pipe.add(rr)
		}
		root.add(pipe)
		root.addText("layerOpacity", formatFloat(s.Opacity))
		return writeXML(root, "<!DOCTYPE qgis PUBLIC 'http://mrcc.com/qgis.dtd' 'SYSTEM'>")
	}

	rel, err := rendererXML(s.Renderer)
	if err != nil {
		return "", err
	}
	rel.set("enableorderby", boolAttr(s.OrderByEnabled))
	if len(s.OrderBy) > 0 {
		ob := newElement("orderby")
		for _, o := range s.OrderBy {
			c := ob.addText("orderByClause", o.Expr.String())
			c.set("asc", boolAttr(o.Ascending))
			c.set("nullsFirst", boolAttr(o.NullsFirst))
		}
		rel.add(ob)
	}
	root.add(rel)
	if s.Labeling != nil {
		root.add(labelingXML(s.Labeling))
	}
	if s.Diagram != nil {
		root.add(diagramXML(s.Diagram))
	}
	root.addText("layerOpacity", formatFloat(s.Opacity))
	root.addText("layerGeometryType", strconv.Itoa(geometryCode(s.GeometryType)))
	return writeXML(root, "<!DOCTYPE qgis PUBLIC 'http://mrcc.com/qgis.dtd' 'SYSTEM'>")
}

// optionsXML writes properties as an <Option type="Map"> element.
func optionsXML(props map[string]string) *element {
	m := newElement("Option", "type", "Map")
	for _, k := range slices.Sorted(maps.Keys(props)) {
		m.add(newElement("Option", "name", k, "type", "QString", "value", props[k]))
	}
	return m
}

func dataDefinedXML(name string, dd map[string]*expr.Expr) *element {
	props := newElement("Option", "name", "properties", "type", "Map")
	for _, k := range slices.Sorted(maps.Keys(dd)) {
		p := newElement("Option", "name", k, "type", "Map")
		p.add(newElement("Option", "name", "active", "type", "bool", "value", "true"))
		if f, ok := dd[k].Field(); ok {
			p.add(newElement("Option", "name", "field", "type", "QString", "value", f))
			p.add(newElement("Option", "name", "type", "type", "int", "value", "2"))
		} else {
			p.add(newElement("Option", "name", "expression", "type", "QString", "value", dd[k].String()))
			p.add(newElement("Option", "name", "type", "type", "int", "value", "3"))
		}
		props.add(p)
	}
	m := newElement("Option", "type", "Map")
	m.add(newElement("Option", "name", "name", "type", "QString", "value", ""))
	m.add(props)
	m.add(newElement("Option", "name", "type", "type", "QString", "value", "collection"))
	return newElement(name).add(m)
}

func symbolXML(name string, sym *Symbol) *element {
	el := newElement("symbol",
		"name", name,
		"type", sym.Type.String(),
		"alpha", formatFloat(sym.Alpha),
		"clip_to_extent", "1",
		"force_rhr", "0",
	)
	for _, l := range sym.Layers {
		lel := newElement("layer", "class", l.Class, "enabled", boolAttr(l.Enabled), "pass", "0", "locked", "0")
		lel.add(optionsXML(l.Props))
		lel.add(dataDefinedXML("data_defined_properties", l.DataDefined))
		if l.SubSymbol != nil {
			lel.add(symbolXML("@"+name+"@0", l.SubSymbol))
		}
		el.add(lel)
	}
	return el
}

func symbolsXML(syms []*Symbol) *element {
	el := newElement("symbols")
	for i, s := range syms {
		el.add(symbolXML(strconv.Itoa(i), s))
	}
	return el
}

func rendererXML(r Renderer) (*element, error) {
	if r == nil {
		r = NullSymbol{}
	}
	el := newElement("renderer-v2", "type", r.Type(), "forceraster", "0", "symbollevels", "0")
	switch r := r.(type) {
	case *SingleSymbol:
		el.add(symbolsXML(r.Symbols()))

	case *Categorized:
		el.set("attr", r.Attr)
		cats := newElement("categories")
		var syms []*Symbol
		for _, c := range r.Categories {
			cel := newElement("category", "label", c.Label, "render", strconv.FormatBool(c.Render))
			if c.Symbol != nil {
				cel.set("symbol", strconv.Itoa(len(syms)))
				syms = append(syms, c.Symbol)
			}
			if c.Value == nil {
				cel.set("value", "").set("type", "invalid")
			} else {
				cel.set("value", expr.ToString(c.Value)).set("type", "string")
			}
			cats.add(cel)
		}
		el.add(cats, symbolsXML(syms))

	case *Graduated:
		el.set("attr", r.Attr).set("graduatedMethod", "GraduatedColor")
		ranges := newElement("ranges")
		var syms []*Symbol
		for _, rg := range r.Ranges {
			rel := newElement("range",
				"lower", formatFloat(rg.Lower),
				"upper", formatFloat(rg.Upper),
				"label", rg.Label,
				"render", strconv.FormatBool(rg.Render),
			)
			if rg.Symbol != nil {
				rel.set("symbol", strconv.Itoa(len(syms)))
				syms = append(syms, rg.Symbol)
			}
			ranges.add(rel)
		}
		el.add(ranges, symbolsXML(syms))

	case *RuleBased:
		var syms []*Symbol
		var write func(parent *element, rules []*Rule)
		write = func(parent *element, rules []*Rule) {
			for _, x := range rules {
				rel := newElement("rule", "key", x.Key)
				if x.Label != "" {
					rel.set("label", x.Label)
				}
				switch {
				case x.Else:
					rel.set("filter", "ELSE")
				case x.Filter != nil:
					rel.set("filter", x.Filter.String())
				}
				if x.MinDenom > 0 {
					rel.set("scalemindenom", formatFloat(x.MinDenom))
				}
				if x.MaxDenom > 0 {
					rel.set("scalemaxdenom", formatFloat(x.MaxDenom))
				}
				if !x.Active {
					rel.set("checkstate", "0")
				}
				if x.Symbol != nil {
					rel.set("symbol", strconv.Itoa(len(syms)))
					syms = append(syms, x.Symbol)
				}
				write(rel, x.Children)
				parent.add(rel)
			}
		}
		rules := newElement("rules")
		if r.Root != nil {
			rules.set("key", r.Root.Key)
			write(rules, r.Root.Children)
		}
		el.add(rules, symbolsXML(syms))

	case *Heatmap:
		el.set("radius", formatFloat(r.Radius)).
			set("radius_unit", strconv.Itoa(int(r.RadiusUnit))).
			set("max_value", formatFloat(r.MaxValue)).
			set("weight_expression", r.Weight).
			set("quality", "3")
		ramp := newElement("colorramp", "type", "gradient", "name", "[source]")
		ramp.add(optionsXML(r.ramp().props()))
		el.add(ramp)

	case NullSymbol:

	default:
		return nil, fmt.Errorf("cannot write renderer %q", r.Type())
	}
	return el, nil
}

func labelSettingsXML(s *LabelSettings) *element {
	el := newElement("settings", "calloutType", "simple")
	el.add(newElement("text-style",
		"fieldName", s.FieldName,
		"isExpression", boolAttr(s.IsExpression),
		"fontFamily", s.FontFamily,
		"fontSize", formatFloat(s.FontSize),
		"fontSizeUnit", s.FontUnit.String(),
		"textColor", FormatColor(s.Color),
	))
	el.add(newElement("text-buffer",
		"bufferDraw", boolAttr(s.BufferDraw),
		"bufferSize", formatFloat(s.BufferSize),
		"bufferSizeUnits", s.BufferUnit.String(),
		"bufferColor", FormatColor(s.BufferColor),
	))
	el.add(newElement("rendering", "drawLabels", boolAttr(s.Enabled)))
	el.add(dataDefinedXML("dd_properties", s.DataDefined))
	return el
}

func labelingXML(l *Labeling) *element {
	el := newElement("labeling", "type", l.Type())
	if !l.RuleBased() {
		return el.add(labelSettingsXML(l.Settings))
	}
	var write func(parent *element, rules []*LabelRule)
	write = func(parent *element, rules []*LabelRule) {
		for _, r := range rules {
			rel := newElement("rule", "key", r.Key, "description", r.Description)
			switch {
			case r.Else:
				rel.set("filter", "ELSE")
			case r.Filter != nil:
				rel.set("filter", r.Filter.String())
			}
			if r.MinDenom > 0 {
				rel.set("scalemindenom", formatFloat(r.MinDenom))
			}
			if r.MaxDenom > 0 {
				rel.set("scalemaxdenom", formatFloat(r.MaxDenom))
			}
			if !r.Active {
				rel.set("active", "0")
			}
			if r.Settings != nil {
				rel.add(labelSettingsXML(r.Settings))
			}
			write(rel, r.Children)
			parent.add(rel)
		}
	}
	rules := newElement("rules", "key", "{00000000-0000-0000-0000-000000000000}")
	write(rules, l.Rules)
	return el.add(rules)
}

func diagramXML(d *Diagram) *element {
	name := "SingleCategoryDiagramRenderer"
	if d.Scaling != nil {
		name = "LinearlyInterpolatedDiagramRenderer"
	}
	el := newElement(name, "diagramType", string(d.Kind), "attributeLegend", boolAttr(d.Legend))
	if sc := d.Scaling; sc != nil {
		el.set("lowerValue", formatFloat(sc.LowerValue)).
			set("upperValue", formatFloat(sc.UpperValue)).
			set("lowerWidth", formatFloat(sc.LowerSize)).
			set("upperWidth", formatFloat(sc.UpperSize)).
			set("lowerHeight", formatFloat(sc.LowerSize)).
			set("upperHeight", formatFloat(sc.UpperSize))
		if sc.Expr != nil {
			el.set("classificationAttributeExpression", sc.Expr.String())
		}
	}
	cat := newElement("DiagramCategory",
		"enabled", boolAttr(d.Enabled),
		"width", formatFloat(d.Size),
		"height", formatFloat(d.Size),
		"sizeType", d.SizeUnit.String(),
		"barWidth", formatFloat(d.BarWidth),
		"penColor", FormatHex(d.PenColor),
		"penWidth", formatFloat(d.PenWidth),
		"backgroundColor", FormatHex(d.Background),
		"backgroundAlpha", strconv.Itoa(int(d.Background.A)),
		"opacity", formatFloat(d.Opacity),
	)
	for _, a := range d.Attributes {
		cat.add(newElement("attribute",
			"field", a.Expr.String(),
			"label", a.Label,
			"color", FormatHex(a.Color),
			"colorOpacity", formatFloat(float64(a.Color.A)/255),
		))
	}
	return el.add(cat)
}

func contrastXML(name string, m MinMax) *element {
	el := newElement(name)
	if m.Set {
		el.addText("minValue", formatFloat(m.Min))
		el.addText("maxValue", formatFloat(m.Max))
		el.addText("algorithm", "StretchToMinimumMaximum")
	}
	return el
}

func colorAttrs(el *element, c color.NRGBA) {
	el.set("color", FormatHex(c)).set("alpha", strconv.Itoa(int(c.A)))
}

func rasterRendererXML(r RasterRenderer) (*element, error) {
	el := newElement("rasterrenderer", "type", r.Type(), "alphaBand", "-1")
	switch r := r.(type) {
	case *SingleBandGray:
		gradient := "BlackToWhite"
		if r.WhiteToBlack {
			gradient = "WhiteToBlack"
		}
		el.set("grayBand", strconv.Itoa(r.Band)).
			set("gradient", gradient).
			set("opacity", formatFloat(r.Opacity))
		el.add(contrastXML("contrastEnhancement", r.Range))

	case *SingleBandPseudoColor:
		el.set("band", strconv.Itoa(r.Band)).set("opacity", formatFloat(r.Opacity))
		if r.Range.Set {
			el.set("classificationMin", formatFloat(r.Range.Min)).
				set("classificationMax", formatFloat(r.Range.Max))
		}
		sh := newElement("colorrampshader",
			"colorRampType", r.Shader.Type.String(),
			"clip", boolAttr(r.Shader.Clip),
		)
		for _, it := range r.Shader.Items {
			iel := newElement("item", "value", formatValue(it.Value), "label", it.Label)
			colorAttrs(iel, it.Color)
			sh.add(iel)
		}
		el.add(newElement("rastershader").add(sh))

	case *Paletted:
		el.set("band", strconv.Itoa(r.Band)).set("opacity", formatFloat(r.Opacity))
		pal := newElement("colorPalette")
		for _, c := range r.Classes {
			pe := newElement("paletteEntry", "value", formatFloat(c.Value), "label", c.Label)
			colorAttrs(pe, c.Color)
			pal.add(pe)
		}
		el.add(pal)

	case *MultiBandColor:
		el.set("redBand", strconv.Itoa(r.Red)).
			set("greenBand", strconv.Itoa(r.Green)).
			set("blueBand", strconv.Itoa(r.Blue)).
			set("opacity", formatFloat(r.Opacity))
		el.add(
			contrastXML("redContrastEnhancement", r.RedRange),
			contrastXML("greenContrastEnhancement", r.GreenRange),
			contrastXML("blueContrastEnhancement", r.BlueRange),
		)

	default:
		return nil, fmt.Errorf("cannot write raster renderer %q", r.Type())
	}
	return el, nil
}

func formatValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return formatFloat(v)
}
