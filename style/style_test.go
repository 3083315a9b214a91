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
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
)

type attrs map[string]any

func (a attrs) Attribute(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

func env(a attrs) *expr.Env {
	return &expr.Env{Feature: a}
}

const fillSymbol = `<symbol name="%s" type="fill" alpha="1">
  <layer class="SimpleFill" enabled="1">
    <Option type="Map">
      <Option name="color" type="QString" value="%s"/>
      <Option name="style" type="QString" value="solid"/>
    </Option>
  </layer>
</symbol>`

func qmlScale(flag bool, minScale, maxScale float64) string {
	f := "0"
	if flag {
		f = "1"
	}
	return fmt.Sprintf(`<!DOCTYPE qgis PUBLIC 'http://mrcc.com/qgis.dtd' 'SYSTEM'>
<qgis version="3.34.0" hasScaleBasedVisibilityFlag="%s" minScale="%g" maxScale="%g">
  <renderer-v2 type="singleSymbol">
    <symbols>`+fillSymbol+`</symbols>
  </renderer-v2>
  <layerGeometryType>2</layerGeometryType>
</qgis>`, f, minScale, maxScale, "0", "255,0,0,255")
}

const categorizedQML = `<qgis version="3.34.0">
  <renderer-v2 type="categorizedSymbol" attr="kind">
    <categories>
      <category value="a" label="A" symbol="0" render="true"/>
      <category value="b" label="B" symbol="1" render="false"/>
      <category value="" type="invalid" label="null" symbol="2" render="true"/>
      <category value="" label="other" symbol="3" render="true"/>
    </categories>
    <symbols>` +
	`<symbol name="0" type="fill"><layer class="SimpleFill"><prop k="color" v="255,0,0,255"/></layer></symbol>` +
	`<symbol name="1" type="fill"><layer class="SimpleFill"><prop k="color" v="0,255,0,255"/></layer></symbol>` +
	`<symbol name="2" type="fill"><layer class="SimpleFill"><prop k="color" v="0,0,255,255"/></layer></symbol>` +
	`<symbol name="3" type="fill"><layer class="SimpleFill"><prop k="color" v="9,9,9,255"/></layer></symbol>` + `
    </symbols>
  </renderer-v2>
  <layerGeometryType>2</layerGeometryType>
</qgis>`

const ruleQML = `<qgis version="3.34.0">
  <renderer-v2 type="RuleRenderer">
    <rules key="root">
      <rule key="r1" label="Motorway" filter="&quot;HIGHWAY&quot; = 'motorway'" symbol="0">
        <rule key="r1a" label="Wide" filter="&quot;HIGHWAY&quot; = 'motorway'" symbol="1"/>
      </rule>
      <rule key="r2" label="Small" filter="&quot;HIGHWAY&quot; IN ('track', 'path')" symbol="2" scalemaxdenom="50000"/>
      <rule key="r3" label="Other" filter="ELSE" symbol="3"/>
    </rules>
    <symbols>` +
	`<symbol name="0" type="line"><layer class="SimpleLine"><prop k="line_color" v="255,0,0,255"/></layer></symbol>` +
	`<symbol name="1" type="line"><layer class="SimpleLine"><prop k="line_color" v="0,255,0,255"/></layer></symbol>` +
	`<symbol name="2" type="line"><layer class="SimpleLine"><prop k="line_color" v="0,0,255,255"/></layer></symbol>` +
	`<symbol name="3" type="line"><layer class="SimpleLine"><prop k="line_color" v="9,9,9,255"/></layer></symbol>` + `
    </symbols>
  </renderer-v2>
  <layerGeometryType>1</layerGeometryType>
</qgis>`

const labelQML = `<qgis version="3.34.0">
  <renderer-v2 type="nullSymbol"/>
  <labeling type="rule-based">
    <rules key="root">
      <rule key="l1" filter="&quot;a&quot; > 1">
        <settings><text-style fieldName="&quot;b&quot; || ' ' || &quot;c&quot;" isExpression="1"/></settings>
      </rule>
    </rules>
  </labeling>
  <layerGeometryType>0</layerGeometryType>
</qgis>`

const pseudoColorQML = `<qgis version="3.34.0">
  <pipe>
    <provider><resampling enabled="false"/></provider>
    <rasterrenderer type="singlebandpseudocolor" band="1" classificationMin="0" classificationMax="3250" opacity="1">
      <rastershader>
        <colorrampshader colorRampType="INTERPOLATED" clip="0">
          <item value="0" color="#000000" alpha="255" label="0"/>
          <item value="3250" color="#ffffff" alpha="255" label="3250"/>
        </colorrampshader>
      </rastershader>
    </rasterrenderer>
  </pipe>
</qgis>`

const simpleSLD = `<?xml version="1.0" encoding="UTF-8"?>
<StyledLayerDescriptor version="1.1.0" xmlns="http://www.opengis.net/sld"
    xmlns:se="http://www.opengis.net/se" xmlns:ogc="http://www.opengis.net/ogc">
  <NamedLayer>
    <se:Name>roads</se:Name>
    <UserStyle>
      <se:FeatureTypeStyle>
        <se:Rule>
          <se:Name>Main</se:Name>
          <ogc:Filter>
            <ogc:PropertyIsEqualTo>
              <ogc:PropertyName>type</ogc:PropertyName>
              <ogc:Literal>main</ogc:Literal>
            </ogc:PropertyIsEqualTo>
          </ogc:Filter>
          <se:LineSymbolizer>
            <se:Stroke>
              <se:SvgParameter name="stroke">#ff0000</se:SvgParameter>
              <se:SvgParameter name="stroke-width">2</se:SvgParameter>
            </se:Stroke>
          </se:LineSymbolizer>
        </se:Rule>
        <se:Rule>
          <se:Name>Rest</se:Name>
          <se:ElseFilter/>
          <se:LineSymbolizer>
            <se:Stroke>
              <se:SvgParameter name="stroke">#0000ff</se:SvgParameter>
            </se:Stroke>
          </se:LineSymbolizer>
        </se:Rule>
      </se:FeatureTypeStyle>
    </UserStyle>
  </NamedLayer>
</StyledLayerDescriptor>`

func TestScaleRange(t *testing.T) {
	cases := []struct {
		name     string
		flag     bool
		min, max float64
		wantMin  any
		wantMax  any
	}{
		{"100_10", true, 100000, 10000, 100000.0, 10000.0},
		{"min_50", true, 50000, 0, 50000.0, nil},
		{"max_50", true, 0, 50000, nil, 50000.0},
		{"off", false, 100000, 10000, nil, nil},
	}
	deref := func(p *float64) any {
		if p == nil {
			return nil
		}
		return *p
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, err := FromString(qmlScale(c.flag, c.min, c.max), nil)
			require.NoError(t, err)
			lo, hi := s.ScaleRange()
			assert.Equal(t, c.wantMin, deref(lo))
			assert.Equal(t, c.wantMax, deref(hi))
		})
	}
}

func TestVisibleAt(t *testing.T) {
	s, err := FromString(qmlScale(true, 100000, 10000), nil)
	require.NoError(t, err)
	assert.True(t, s.VisibleAt(50000))
	assert.False(t, s.VisibleAt(200000))
	assert.False(t, s.VisibleAt(5000))
	assert.True(t, s.VisibleAt(0))
}

func TestStyleType(t *testing.T) {
	s, err := FromString(qmlScale(false, 0, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, LayerVector, s.Type)
	assert.Equal(t, layer.KindPolygon, s.GeometryType)

	s, err = FromString(pseudoColorQML, nil)
	require.NoError(t, err)
	assert.Equal(t, LayerRaster, s.Type)
	assert.Equal(t, layer.KindUnknown, s.GeometryType)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		opts    *ParseOptions
		target  error
	}{
		{"empty", "", nil, ErrValidation},
		{"not xml", "hello", nil, ErrValidation},
		{"wrong root", "<foo/>", nil, ErrValidation},
		{"sld as qml", simpleSLD, &ParseOptions{Format: FormatQML}, ErrValidation},
		{"qml as sld", categorizedQML, &ParseOptions{Format: FormatSLD}, ErrValidation},
		{"no renderer", `<qgis version="3"/>`, nil, ErrValidation},
		{"bad geometry", `<qgis><renderer-v2 type="nullSymbol"/><layerGeometryType>9</layerGeometryType></qgis>`, nil, ErrValidation},
		{"sld on raster", simpleSLD, &ParseOptions{LayerType: LayerRaster}, ErrTypeMismatch},
		{"raster style on vector", pseudoColorQML, &ParseOptions{LayerType: LayerVector}, ErrTypeMismatch},
		{"polygon style on line", categorizedQML, &ParseOptions{GeometryType: layer.KindLine}, ErrTypeMismatch},
		{"line sld on point", simpleSLD, &ParseOptions{GeometryType: layer.KindPoint}, ErrTypeMismatch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FromString(c.content, c.opts)
			assert.ErrorIs(t, err, c.target)
		})
	}
}

func TestSLDOnRasterMessage(t *testing.T) {
	_, err := FromString(simpleSLD, &ParseOptions{LayerType: LayerRaster})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raster layers do not support SLD styles")
}

const threeFieldRuleQML = `<qgis version="3.34.0">
  <renderer-v2 type="RuleRenderer">
    <rules key="root">
      <rule key="r1" filter="&quot;a&quot; > 1" symbol="0">
        <rule key="r1a" filter="&quot;b&quot; = 'x'" symbol="1"/>
      </rule>
      <rule key="r2" filter="&quot;c&quot; IS NULL" symbol="1"/>
      <rule key="r3" filter="ELSE" symbol="0"/>
    </rules>
    <symbols>` +
	`<symbol name="0" type="line"><layer class="SimpleLine"><prop k="line_color" v="255,0,0,255"/></layer></symbol>` +
	`<symbol name="1" type="line"><layer class="SimpleLine"><prop k="line_color" v="0,255,0,255"/></layer></symbol>` + `
    </symbols>
  </renderer-v2>
  <layerGeometryType>1</layerGeometryType>
</qgis>`

func TestUsedAttributes(t *testing.T) {
	tests := []struct {
		name string
		qml  string
		want []string
	}{
		{"labels", labelQML, []string{"a", "b", "c"}},
		{"rules", ruleQML, []string{"HIGHWAY"}},
		{"three fields", threeFieldRuleQML, []string{"a", "b", "c"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := FromString(tc.qml, nil)
			require.NoError(t, err)
			a := s.UsedAttributes()
			assert.Equal(t, AttributesKnown, a.State)
			assert.ElementsMatch(t, tc.want, a.Names)
		})
	}

	s := FromDefaults(LayerVector, layer.KindPoint, nil)
	a := s.UsedAttributes()
	assert.True(t, a.Known())
	assert.NotNil(t, a.Names)
	assert.Empty(t, a.Names)

	s.Renderer = NewCategorized("attribute(concat('x', 'y'))", []Category{{Value: "1", Render: true}})
	a = s.UsedAttributes()
	assert.Equal(t, AttributesUnknown, a.State)
	assert.False(t, a.Known())

	r := FromDefaults(LayerRaster, layer.KindUnknown, nil)
	assert.Equal(t, AttributesNotApplicable, r.UsedAttributes().State)
	assert.Nil(t, r.UsedAttributes().Names)
}

func TestUsedAttributesOrderBy(t *testing.T) {
	s := FromDefaults(LayerVector, layer.KindPoint, nil)
	s.OrderBy = []OrderClause{{Expr: expr.MustParse(`"z"`), Ascending: true}}
	assert.Empty(t, s.UsedAttributes().Names)
	s.OrderByEnabled = true
	assert.Equal(t, []string{"z"}, s.UsedAttributes().Names)
}

func TestDefaults(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	s := FromDefaults(LayerVector, layer.KindPolygon, &red)
	assert.True(t, s.IsDefault())
	assert.Equal(t, &red, s.DefaultColor())

	out, err := s.ToString(FormatQML)
	require.NoError(t, err)
	assert.Contains(t, out, `name="color" type="QString" value="255,0,0,255"`)

	back, err := FromString(out, nil)
	require.NoError(t, err)
	assert.False(t, back.IsDefault())
	ss, ok := back.Renderer.(*SingleSymbol)
	require.True(t, ok)
	assert.Equal(t, red, ss.Symbol.MainColor())
	a := back.UsedAttributes()
	assert.True(t, a.Known())
	assert.Empty(t, a.Names)

	out, err = s.ToString(FormatSLD)
	require.NoError(t, err)
	back, err = FromString(out, nil)
	require.NoError(t, err)
	assert.Equal(t, layer.KindPolygon, back.GeometryType)
	m, err := back.Match(env(attrs{}), 0)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, red, m[0].Symbol.MainColor())
	a = back.UsedAttributes()
	assert.True(t, a.Known())
	assert.Empty(t, a.Names)

	line := FromDefaults(LayerVector, layer.KindLine, &red)
	out, err = line.ToString(FormatQML)
	require.NoError(t, err)
	assert.Contains(t, out, `name="line_color" type="QString" value="255,0,0,255"`)
}

func TestForSource(t *testing.T) {
	lines, err := layer.FromData("lines", layer.LineString, crs.MustEPSG(4326), nil, nil)
	require.NoError(t, err)
	s := FromDefaults(LayerUnknown, layer.KindUnknown, nil).ForSource(lines)
	assert.Equal(t, LayerVector, s.Type)
	ss, ok := s.Renderer.(*SingleSymbol)
	require.True(t, ok)
	assert.Equal(t, LineSymbol, ss.Symbol.Type)
	assert.NoError(t, s.CheckSource(lines))

	band := make([]float64, 4)
	r, err := layer.NewRaster("dem", crs.MustEPSG(4326), layer.GeoTransform{0, 1, 0, 2, 0, -1}, 2, 2, [][]float64{band}, nil)
	require.NoError(t, err)
	s = FromDefaults(LayerUnknown, layer.KindUnknown, nil).ForSource(r)
	assert.Equal(t, LayerRaster, s.Type)
	assert.IsType(t, &SingleBandGray{}, s.Raster)

	poly, err := FromString(categorizedQML, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, poly.CheckSource(lines), ErrTypeMismatch)
	assert.ErrorIs(t, poly.CheckSource(r), ErrTypeMismatch)

	sld, err := FromString(simpleSLD, nil)
	require.NoError(t, err)
	pts, err := layer.FromData("pts", layer.Point, crs.MustEPSG(4326), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, sld.CheckSource(pts))
}

func TestCategorized(t *testing.T) {
	s, err := FromString(categorizedQML, nil)
	require.NoError(t, err)
	cases := []struct {
		value any
		want  int
	}{
		{"a", 0},
		{"b", -1},
		{nil, 2},
		{"zzz", 3},
	}
	for _, c := range cases {
		t.Run(fmt.Sprint(c.value), func(t *testing.T) {
			m, err := s.Match(env(attrs{"kind": c.value}), 0)
			require.NoError(t, err)
			if c.want < 0 {
				assert.Empty(t, m)
				return
			}
			require.Len(t, m, 1)
			assert.Equal(t, c.want, m[0].Index)
		})
	}

	// without a catch-all category, unknown values and NULL fall into
	// no class
	sym := NewSymbol(FillSymbol, color.NRGBA{A: 255})
	strict := NewCategorized("kind", []Category{
		{Value: "a", Symbol: sym, Render: true},
		{Value: "b", Symbol: sym, Render: false},
	})
	for _, v := range []any{nil, "zzz"} {
		m, err := strict.Match(env(attrs{"kind": v}), 0)
		assert.ErrorIs(t, err, ErrNoClass, "%v", v)
		assert.Empty(t, m)
	}
	m, err := strict.Match(env(attrs{"kind": "b"}), 0)
	assert.NoError(t, err)
	assert.Empty(t, m)

	leg := s.Legend(nil)
	require.Len(t, leg, 4)
	assert.Equal(t, "A", leg[0].Title)
	assert.True(t, leg[0].Checked)
	assert.False(t, leg[1].Checked)
}

func TestGraduated(t *testing.T) {
	sym := NewSymbol(FillSymbol, color.NRGBA{A: 255})
	r := NewGraduated("v", []Range{
		{Lower: 0, Upper: 10, Symbol: sym, Render: true},
		{Lower: 10, Upper: 20, Symbol: sym, Render: true},
	})
	cases := []struct {
		v    any
		want int
	}{
		{0, 0}, {10, 0}, {10.5, 1}, {20, 1}, {-1, -1}, {21, -1}, {nil, -1}, {"15", 1},
	}
	for _, c := range cases {
		m, err := r.Match(env(attrs{"v": c.v}), 0)
		if c.want < 0 {
			assert.ErrorIs(t, err, ErrNoClass, "%v", c.v)
			assert.Empty(t, m, "%v", c.v)
			continue
		}
		require.NoError(t, err)
		require.Len(t, m, 1, "%v", c.v)
		assert.Equal(t, c.want, m[0].Index, "%v", c.v)
	}
}

func TestRuleBased(t *testing.T) {
	s, err := FromString(ruleQML, nil)
	require.NoError(t, err)
	cases := []struct {
		highway string
		scale   float64
		want    []int
	}{
		{"motorway", 0, []int{0, 1}},
		{"track", 10000, []int{2}},
		{"track", 100000, []int{3}},
		{"residential", 0, []int{3}},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s@%g", c.highway, c.scale), func(t *testing.T) {
			m, err := s.Match(env(attrs{"HIGHWAY": c.highway}), c.scale)
			require.NoError(t, err)
			var got []int
			for _, x := range m {
				got = append(got, x.Index)
			}
			assert.Equal(t, c.want, got)
		})
	}

	leg := s.Legend(nil)
	require.Len(t, leg, 4)
	assert.Equal(t, []string{"Motorway", "Wide", "Small", "Other"},
		[]string{leg[0].Title, leg[1].Title, leg[2].Title, leg[3].Title})
}

func TestShader(t *testing.T) {
	black := color.NRGBA{A: 255}
	gray := color.NRGBA{128, 128, 128, 255}
	white := color.NRGBA{255, 255, 255, 255}
	items := []ShaderItem{{Value: 0, Color: black}, {Value: 10, Color: gray}, {Value: 20, Color: white}}

	type result struct {
		c  color.NRGBA
		ok bool
	}
	cases := []struct {
		name string
		sh   Shader
		v    float64
		want result
	}{
		{"discrete low", Shader{Type: Discrete, Items: items}, -5, result{black, true}},
		{"discrete mid", Shader{Type: Discrete, Items: items}, 5, result{gray, true}},
		{"discrete edge", Shader{Type: Discrete, Items: items}, 10, result{gray, true}},
		{"discrete above", Shader{Type: Discrete, Items: items}, 25, result{white, true}},
		{"discrete clip", Shader{Type: Discrete, Items: items, Clip: true}, 25, result{}},
		{"exact hit", Shader{Type: Exact, Items: items}, 10, result{gray, true}},
		{"exact miss", Shader{Type: Exact, Items: items}, 11, result{}},
		{"interp", Shader{Type: Interpolated, Items: items[:1:1]}, 0, result{black, true}},
		{"interp half", Shader{Type: Interpolated, Items: []ShaderItem{items[0], items[2]}}, 10, result{color.NRGBA{127, 127, 127, 255}, true}},
		{"interp clamp", Shader{Type: Interpolated, Items: items}, 30, result{white, true}},
		{"interp clip", Shader{Type: Interpolated, Items: items, Clip: true}, 30, result{}},
		{"nan", Shader{Type: Interpolated, Items: items}, math.NaN(), result{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			col, ok := c.sh.Color(c.v)
			assert.Equal(t, c.want, result{col, ok})
		})
	}
}

func TestRampLegend(t *testing.T) {
	s, err := FromString(pseudoColorQML, nil)
	require.NoError(t, err)
	leg := s.Legend(nil)
	require.Len(t, leg, 5)
	var titles []string
	for _, it := range leg {
		titles = append(titles, it.Title)
		assert.Equal(t, LegendSwatch, it.Kind)
		assert.Equal(t, 1, it.Band)
	}
	assert.Equal(t, []string{"0", "812.5", "1625", "2437.5", "3250"}, titles)
	assert.Equal(t, color.NRGBA{63, 63, 63, 255}, leg[1].Color)
}

func TestDiscreteLabels(t *testing.T) {
	r := &SingleBandPseudoColor{
		Band: 1,
		Shader: Shader{Type: Discrete, Items: []ShaderItem{
			{Value: 464}, {Value: 929}, {Value: 2786}, {Value: math.Inf(1)},
		}},
	}
	var titles []string
	for _, it := range r.Legend(nil) {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"<= 464", "464 - 929", "929 - 2786", "> 2786"}, titles)
}

func TestMultiBandLegend(t *testing.T) {
	leg := (&MultiBandColor{Red: 1, Green: 2, Blue: 3}).Legend(nil)
	require.Len(t, leg, 3)
	for _, it := range leg {
		assert.False(t, it.HasTitle)
	}
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, leg[0].Color)
}

func TestHeatmapLegend(t *testing.T) {
	leg := (&Heatmap{}).Legend()
	require.Len(t, leg, 5)
	assert.Equal(t, "0", leg[0].Title)
	assert.Equal(t, "1", leg[4].Title)

	leg = (&Heatmap{MaxValue: 8}).Legend()
	assert.Equal(t, "8", leg[4].Title)
}

func TestDiagramLegend(t *testing.T) {
	content := `<qgis version="3.34.0">
  <renderer-v2 type="nullSymbol"/>
  <SingleCategoryDiagramRenderer diagramType="Pie" attributeLegend="1">
    <DiagramCategory enabled="1" width="15">
      <attribute field="&quot;a&quot;" color="#ff0000" label="A"/>
      <attribute field="&quot;b&quot;" color="#00ff00" label="B"/>
      <attribute field="&quot;c&quot;" color="#0000ff" label="C"/>
    </DiagramCategory>
  </SingleCategoryDiagramRenderer>
  <layerGeometryType>0</layerGeometryType>
</qgis>`
	s, err := FromString(content, nil)
	require.NoError(t, err)
	leg := s.Legend(nil)
	require.Len(t, leg, 4)
	assert.Equal(t, LegendDiagram, leg[0].Kind)
	assert.Equal(t, "", leg[0].Title)
	assert.Equal(t, "B", leg[2].Title)
	assert.Equal(t, []string{"a", "b", "c"}, s.UsedAttributes().Names)
}

func TestSLDRead(t *testing.T) {
	s, err := FromString(simpleSLD, nil)
	require.NoError(t, err)
	assert.Equal(t, LayerVector, s.Type)
	assert.Equal(t, layer.KindLine, s.GeometryType)

	m, err := s.Match(env(attrs{"type": "main"}), 0)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, 0, m[0].Index)
	l := m[0].Symbol.Layers[0]
	assert.Equal(t, "SimpleLine", l.Class)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, l.Color("line_color", color.NRGBA{}))
	assert.Equal(t, Pixels, l.Unit("line_width_unit"))

	m, err = s.Match(env(attrs{"type": "side"}), 0)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, 1, m[0].Index)
}

func TestSLDRoundTrip(t *testing.T) {
	s, err := FromString(categorizedQML, nil)
	require.NoError(t, err)
	out, err := s.ToString(FormatSLD)
	require.NoError(t, err)
	assert.Contains(t, out, "<se:ElseFilter>")
	assert.Contains(t, out, "ogc:PropertyIsNull")

	back, err := FromString(out, nil)
	require.NoError(t, err)
	assert.Equal(t, layer.KindPolygon, back.GeometryType)
	m, err := back.Match(env(attrs{"kind": "a"}), 0)
	require.NoError(t, err)
	require.NotEmpty(t, m)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, m[0].Symbol.MainColor())

	m, err = back.Match(env(attrs{"kind": "q"}), 0)
	require.NoError(t, err)
	require.NotEmpty(t, m)
	assert.Equal(t, color.NRGBA{9, 9, 9, 255}, m[0].Symbol.MainColor())
}

func TestSLDRuleRoundTrip(t *testing.T) {
	s, err := FromString(ruleQML, nil)
	require.NoError(t, err)
	out, err := s.ToString(FormatSLD)
	require.NoError(t, err)
	assert.Contains(t, out, "<se:MaxScaleDenominator>50000</se:MaxScaleDenominator>")
	back, err := FromString(out, nil)
	require.NoError(t, err)
	m, err := back.Match(env(attrs{"HIGHWAY": "path"}), 1000)
	require.NoError(t, err)
	require.NotEmpty(t, m)
	assert.Equal(t, color.NRGBA{0, 0, 255, 255}, m[0].Symbol.MainColor())
}

func TestSLDRasterRefused(t *testing.T) {
	s, err := FromString(pseudoColorQML, nil)
	require.NoError(t, err)
	_, err = s.ToString(FormatSLD)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestQMLRoundTrip(t *testing.T) {
	for _, content := range []string{categorizedQML, ruleQML, labelQML, pseudoColorQML} {
		s, err := FromString(content, nil)
		require.NoError(t, err)
		out, err := s.ToString(FormatQML)
		require.NoError(t, err)
		back, err := FromString(out, nil)
		require.NoError(t, err)
		assert.Equal(t, s.Type, back.Type)
		assert.Equal(t, s.GeometryType, back.GeometryType)
		assert.Equal(t, s.UsedAttributes(), back.UsedAttributes())
		assert.Equal(t, len(s.Legend(nil)), len(back.Legend(nil)))
	}
}

func TestResolver(t *testing.T) {
	content := `<qgis version="3.34.0">
  <renderer-v2 type="singleSymbol">
    <symbols>
      <symbol name="0" type="marker">
        <layer class="SvgMarker"><prop k="name" v="icons/tree.svg"/></layer>
        <layer class="SvgMarker"><prop k="name" v="https://example.com/a.svg"/></layer>
      </symbol>
    </symbols>
  </renderer-v2>
</qgis>`
	s, err := FromString(content, &ParseOptions{Resolver: func(p string) string {
		return "/base/" + p
	}})
	require.NoError(t, err)
	layers := s.Renderer.(*SingleSymbol).Symbol.Layers
	assert.Equal(t, "/base/icons/tree.svg", layers[0].String("name"))
	assert.Equal(t, "https://example.com/a.svg", layers[1].String("name"))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roads.sld")
	require.NoError(t, os.WriteFile(path, []byte(simpleSLD), 0o644))
	s, err := FromFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, layer.KindLine, s.GeometryType)

	path = filepath.Join(dir, "wrong.qml")
	require.NoError(t, os.WriteFile(path, []byte(simpleSLD), 0o644))
	_, err = FromFile(path, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = FromFile(filepath.Join(dir, "missing.qml"), nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in   string
		want color.NRGBA
	}{
		{"255,0,0,255", color.NRGBA{255, 0, 0, 255}},
		{"1,2,3", color.NRGBA{1, 2, 3, 255}},
		{"10,20,30,40,rgb:0.1,0.1,0.1,0.1", color.NRGBA{10, 20, 30, 40}},
		{"#00ff00", color.NRGBA{0, 255, 0, 255}},
		{"red", color.NRGBA{255, 0, 0, 255}},
	}
	for _, c := range cases {
		got, err := ParseColor(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
	_, err := ParseColor("nonsense")
	assert.Error(t, err)
	assert.Equal(t, "1,2,3,4", FormatColor(color.NRGBA{1, 2, 3, 4}))
}

func TestUnitToPixels(t *testing.T) {
	assert.InDelta(t, 96/25.4, Millimeters.ToPixels(1, 96, 1, 1), 1e-9)
	assert.InDelta(t, 4, Pixels.ToPixels(4, 300, 1, 1), 1e-9)
	assert.InDelta(t, 96.0/72, Points.ToPixels(1, 96, 1, 1), 1e-9)
	assert.InDelta(t, 5, MapUnits.ToPixels(10, 96, 2, 1), 1e-9)
}

func TestSLDFilterUnsupported(t *testing.T) {
	s := FromDefaults(LayerVector, layer.KindPoint, nil)
	sym := NewSymbol(MarkerSymbol, color.NRGBA{A: 255})
	s.Renderer = &RuleBased{Root: &Rule{Active: true, Children: []*Rule{
		{Label: "x", Active: true, Symbol: sym, Filter: expr.MustParse(`"a"`)},
	}}}
	_, err := s.ToString(FormatSLD)
	assert.Error(t, err)
}

func TestWriteSLDLabel(t *testing.T) {
	s := FromDefaults(LayerVector, layer.KindPoint, nil)
	s.Labeling = &Labeling{Settings: DefaultLabelSettings("name")}
	out, err := s.ToString(FormatSLD)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "<se:TextSymbolizer>"))
	back, err := FromString(out, nil)
	require.NoError(t, err)
	require.NotNil(t, back.Labeling)
	assert.Equal(t, []string{"name"}, back.UsedAttributes().Names)
}
