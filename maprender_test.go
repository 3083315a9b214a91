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

package maprender

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
	"seehuhn.de/go/maprender/svgcache"
)

var (
	red   = color.NRGBA{255, 0, 0, 255}
	green = color.NRGBA{0, 255, 0, 255}
	blue  = color.NRGBA{0, 0, 255, 255}
)

var unitExtent = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func mustWKB(t testing.TB, g orb.Geometry) []byte {
	t.Helper()
	data, err := wkb.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func vectorLayer(t testing.TB, gt layer.GeometryType, fields []layer.Field, rows []layer.Row) *layer.Vector {
	t.Helper()
	v, err := layer.FromData("test", gt, crs.MustEPSG(3857), fields, rows)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func mustStyle(t testing.TB, content string) *style.Style {
	t.Helper()
	st, err := style.FromString(content, nil)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func fillSymbol(name string, c color.NRGBA) string {
	return fmt.Sprintf(`<symbol name="%s" type="fill" alpha="1"><layer class="SimpleFill" enabled="1">`+
		`<prop k="color" v="%d,%d,%d,%d"/><prop k="outline_style" v="no"/></layer></symbol>`,
		name, c.R, c.G, c.B, c.A)
}

func categorizedQML(orderBy string) string {
	return `<qgis version="3.34.0">
  <renderer-v2 type="categorizedSymbol" attr="kind"` + orderBy + `
    <categories>
      <category value="a" label="A" symbol="0" render="true"/>
      <category value="b" label="B" symbol="1" render="true"/>
      <category value="c" label="C" symbol="2" render="false"/>
    </categories>
    <symbols>` + fillSymbol("0", red) + fillSymbol("1", green) + fillSymbol("2", blue) + `</symbols>
  </renderer-v2>
  <layerGeometryType>2</layerGeometryType>
</qgis>`
}

// orderBy returns the end of a renderer start tag which orders features
// by the z attribute.
func orderBy(enabled, asc bool) string {
	return fmt.Sprintf(` enableorderby="%d"><orderby><orderByClause asc="%d">"z"</orderByClause></orderby>`,
		b2i(enabled), b2i(asc))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

var kindFields = []layer.Field{{Name: "kind", Type: layer.String}, {Name: "z", Type: layer.Integer}}

// threeSquares has the kinds a, b and c side by side, with centres at
// the pixels (15, 50), (50, 50) and (85, 50) of a 100x100 image of
// unitExtent.
func threeSquares(t testing.TB) *layer.Vector {
	return vectorLayer(t, layer.Polygon, kindFields, []layer.Row{
		{FID: 1, WKB: mustWKB(t, square(0, 30, 30, 70)), Attrs: []any{"a", 1}},
		{FID: 2, WKB: mustWKB(t, square(35, 30, 65, 70)), Attrs: []any{"b", 2}},
		{FID: 3, WKB: mustWKB(t, square(70, 30, 100, 70)), Attrs: []any{"c", 3}},
	})
}

func newRequest(t testing.TB, src layer.Source, st *style.Style) *MapRequest {
	t.Helper()
	r := New()
	if err := r.AddLayer(src, st); err != nil {
		t.Fatal(err)
	}
	return r
}

func render(t testing.TB, r *MapRequest, opts ...RenderOption) *Image {
	t.Helper()
	img, err := r.RenderImage(unitExtent, Size{100, 100}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func countPainted(img *image.NRGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 0 {
			n++
		}
	}
	return n
}

func TestRenderCategorized(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	img := render(t, r)
	if len(img.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", img.Diagnostics)
	}

	tests := []struct {
		x, y int
		want color.NRGBA
	}{
		{15, 50, red},
		{50, 50, green},
		{85, 50, color.NRGBA{}}, // category c is switched off
		{50, 10, color.NRGBA{}},
		{32, 50, color.NRGBA{}},
	}
	for _, tc := range tests {
		if got := img.NRGBAAt(tc.x, tc.y); got != tc.want {
			t.Errorf("pixel (%d, %d): got %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestRenderOrderBy(t *testing.T) {
	// a red square above, then a green square with a lower z
	rows := []layer.Row{
		{FID: 1, WKB: mustWKB(t, square(30, 30, 70, 70)), Attrs: []any{"a", 2}},
		{FID: 2, WKB: mustWKB(t, square(30, 30, 70, 70)), Attrs: []any{"b", 1}},
	}
	tests := []struct {
		name    string
		orderBy string
		want    color.NRGBA
	}{
		{"source order", ">", green},
		{"disabled", orderBy(false, true), green},
		{"ascending", orderBy(true, true), red},
		{"descending", orderBy(true, false), green},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qml := categorizedQML(tc.orderBy)
			src := vectorLayer(t, layer.Polygon, kindFields, rows)
			img := render(t, newRequest(t, src, mustStyle(t, qml)))
			if got := img.NRGBAAt(50, 50); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	far := orb.Bound{Min: orb.Point{1e6, 1e6}, Max: orb.Point{1e6 + 100, 1e6 + 100}}
	img, err := r.RenderImage(far, Size{40, 30})
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("got size %v, want 40x30", b)
	}
	if n := countPainted(img.NRGBA); n != 0 {
		t.Errorf("%d pixels painted outside the data", n)
	}

	r.SetBackground(color.NRGBA{255, 255, 255, 255})
	img, err = r.RenderImage(far, Size{40, 30})
	if err != nil {
		t.Fatal(err)
	}
	if got := img.NRGBAAt(20, 15); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("background: got %v", got)
	}
}

func TestRenderSymbols(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))

	img := render(t, r, WithSymbols(0, 1))
	if got := img.NRGBAAt(15, 50); got != (color.NRGBA{}) {
		t.Errorf("filtered category drawn: %v", got)
	}
	if got := img.NRGBAAt(50, 50); got != green {
		t.Errorf("selected category: got %v, want %v", got, green)
	}

	img = render(t, r, WithNoSymbols(0))
	if n := countPainted(img.NRGBA); n != 0 {
		t.Errorf("%d pixels painted with no symbols", n)
	}
}

func TestRenderErrors(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	tests := []struct {
		name   string
		extent orb.Bound
		size   Size
		opts   []RenderOption
	}{
		{"zero width", unitExtent, Size{0, 10}, nil},
		{"negative height", unitExtent, Size{10, -1}, nil},
		{"inverted extent", orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{0, 10}}, Size{10, 10}, nil},
		{"symbol index", unitExtent, Size{10, 10}, []RenderOption{WithSymbols(0, 3)}},
		{"negative symbol index", unitExtent, Size{10, 10}, []RenderOption{WithSymbols(0, -1)}},
		{"layer index", unitExtent, Size{10, 10}, []RenderOption{WithSymbols(1, 0)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.RenderImage(tc.extent, tc.size, tc.opts...)
			if !errors.Is(err, ErrEngine) {
				t.Errorf("got %v, want an engine error", err)
			}
		})
	}
}

func TestSetCRSNil(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	want := r.CRS()
	r.SetCRS(nil)
	if r.CRS() != want {
		t.Errorf("CRS changed to %v", r.CRS())
	}
	img := render(t, r)
	if got := img.NRGBAAt(15, 50); got != red {
		t.Errorf("pixel (15, 50): got %v, want %v", got, red)
	}
}

func TestRenderOpacity(t *testing.T) {
	qml := strings.Replace(categorizedQML(">"), "</qgis>", "<layerOpacity>0.5</layerOpacity>\n</qgis>", 1)
	img := render(t, newRequest(t, threeSquares(t), mustStyle(t, qml)))

	var maxAlpha uint8
	for i := 3; i < len(img.Pix); i += 4 {
		maxAlpha = max(maxAlpha, img.Pix[i])
	}
	if maxAlpha > 128 {
		t.Errorf("max alpha %d, want about 127", maxAlpha)
	}
	if c := img.NRGBAAt(15, 50); c.A < 120 || c.R < 250 || c.G > 5 {
		t.Errorf("half transparent red: got %v", c)
	}
}

func TestRenderDiagnostics(t *testing.T) {
	src := vectorLayer(t, layer.Polygon, kindFields, []layer.Row{
		{FID: 1, WKB: mustWKB(t, square(0, 30, 30, 70)), Attrs: []any{"a", 1}},
		{FID: 7, WKB: []byte{1, 3, 0}, Attrs: []any{"b", 2}},
	})
	img := render(t, newRequest(t, src, mustStyle(t, categorizedQML(">"))))
	if len(img.Diagnostics) != 1 {
		t.Fatalf("got diagnostics %v, want one", img.Diagnostics)
	}
	d := img.Diagnostics[0]
	if d.Layer != 0 || d.FID != 7 {
		t.Errorf("got %v, want layer 0 feature 7", d)
	}
	if got := img.NRGBAAt(15, 50); got != red {
		t.Errorf("valid feature: got %v, want %v", got, red)
	}
}

func TestRenderUnclassified(t *testing.T) {
	src := vectorLayer(t, layer.Polygon, kindFields, []layer.Row{
		{FID: 1, WKB: mustWKB(t, square(0, 30, 30, 70)), Attrs: []any{"zzz", 1}},
		{FID: 2, WKB: mustWKB(t, square(35, 30, 65, 70)), Attrs: []any{nil, 2}},
		{FID: 3, WKB: mustWKB(t, square(70, 30, 100, 70)), Attrs: []any{"c", 3}},
	})
	img := render(t, newRequest(t, src, mustStyle(t, categorizedQML(">"))))
	if countPainted(img.NRGBA) != 0 {
		t.Error("unclassified features were drawn")
	}

	// the switched-off category c is not reported
	var fids []int64
	for _, d := range img.Diagnostics {
		if !strings.Contains(d.Reason, "no matching class") {
			t.Errorf("unexpected diagnostic %v", d)
		}
		fids = append(fids, d.FID)
	}
	if len(fids) != 2 || fids[0] != 1 || fids[1] != 2 {
		t.Errorf("diagnostics for features %v, want [1 2]", fids)
	}
}

func TestAddLayerMismatch(t *testing.T) {
	lineQML := `<qgis version="3.34.0">
  <renderer-v2 type="singleSymbol">
    <symbols><symbol name="0" type="line"><layer class="SimpleLine"><prop k="line_color" v="255,0,0,255"/></layer></symbol></symbols>
  </renderer-v2>
  <layerGeometryType>1</layerGeometryType>
</qgis>`
	r := New()
	err := r.AddLayer(threeSquares(t), mustStyle(t, lineQML))
	if !errors.Is(err, ErrStyleTypeMismatch) {
		t.Errorf("got %v, want a type mismatch", err)
	}
	if r.NumLayers() != 0 {
		t.Errorf("layer added despite the error")
	}
}

func TestDefaultStyle(t *testing.T) {
	c := color.NRGBA{10, 100, 200, 255}
	r := New()
	err := r.AddLayer(threeSquares(t), style.FromDefaults(style.LayerUnknown, layer.KindUnknown, &c))
	if err != nil {
		t.Fatal(err)
	}
	img := render(t, r)
	if got := img.NRGBAAt(50, 50); got != c {
		t.Errorf("got %v, want %v", got, c)
	}

	syms, err := r.LegendSymbols(0, Size{20, 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 1 {
		t.Fatalf("got %d legend entries, want 1", len(syms))
	}
	if syms[0].HasCategory {
		t.Error("single symbol entry has a category")
	}
	if got := syms[0].Icon.NRGBAAt(10, 10); got != c {
		t.Errorf("legend icon: got %v, want %v", got, c)
	}
}

const markerSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><circle cx="5" cy="5" r="5" fill="#0000ff"/></svg>`

func svgQML(ref string) string {
	return `<qgis version="3.34.0">
  <renderer-v2 type="singleSymbol">
    <symbols><symbol name="0" type="marker"><layer class="SvgMarker">` +
		`<prop k="name" v="` + ref + `"/><prop k="size" v="10"/>` +
		`</layer></symbol></symbols>
  </renderer-v2>
  <layerGeometryType>0</layerGeometryType>
</qgis>`
}

func TestSVGMarker(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "marker.svg")
	if err := os.WriteFile(ref, []byte(markerSVG), 0o644); err != nil {
		t.Fatal(err)
	}
	src := vectorLayer(t, layer.Point, nil, []layer.Row{{FID: 1, WKB: mustWKB(t, orb.Point{50, 50})}})
	r := newRequest(t, src, mustStyle(t, svgQML(ref)))
	cache := svgcache.NewContext()
	r.SetSVGContext(cache)

	img := render(t, r)
	if c := img.NRGBAAt(50, 50); c.B < 250 || c.R > 5 || c.A < 250 {
		t.Errorf("marker centre: got %v, want blue", c)
	}
	if cache.Len() != 1 {
		t.Errorf("cache holds %d markers, want 1", cache.Len())
	}

	isBlue := func(img *image.NRGBA) bool {
		c := img.NRGBAAt(50, 50)
		return c.B >= 250 && c.R <= 5 && c.A >= 250
	}

	// the cached marker outlives its file
	if err := os.Remove(ref); err != nil {
		t.Fatal(err)
	}
	if !isBlue(render(t, r).NRGBA) {
		t.Error("cached marker not drawn after the file was removed")
	}
	r2 := newRequest(t, src, mustStyle(t, svgQML(ref)))
	r2.SetSVGContext(cache)
	if !isBlue(render(t, r2).NRGBA) {
		t.Error("cached marker not drawn by a new request")
	}

	// after invalidation, the fallback marker is drawn
	cache.Invalidate()
	img = render(t, r)
	if countPainted(img.NRGBA) == 0 {
		t.Error("fallback marker not drawn")
	}
	for y := range 100 {
		for x := range 100 {
			if c := img.NRGBAAt(x, y); c.B > 128 && c.R < 64 && c.A > 128 {
				t.Fatalf("pixel (%d, %d) is still blue: %v", x, y, c)
			}
		}
	}
}

func TestRenderDiagram(t *testing.T) {
	qml := `<qgis version="3.34.0">
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
	fields := []layer.Field{{Name: "a", Type: layer.Real}, {Name: "b", Type: layer.Real}, {Name: "c", Type: layer.Real}}
	src := vectorLayer(t, layer.Point, fields, []layer.Row{
		{FID: 1, WKB: mustWKB(t, orb.Point{50, 50}), Attrs: []any{1.0, 1.0, 0.0}},
	})
	r := newRequest(t, src, mustStyle(t, qml))

	// the first slice starts at the top and runs clockwise
	img := render(t, r)
	if got := img.NRGBAAt(60, 50); got != red {
		t.Errorf("right half: got %v, want %v", got, red)
	}
	if got := img.NRGBAAt(40, 50); got != green {
		t.Errorf("left half: got %v, want %v", got, green)
	}

	syms, err := r.LegendSymbols(0, Size{16, 16})
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 4 {
		t.Fatalf("got %d legend entries, want 4", len(syms))
	}
	if syms[2].Title != "B" {
		t.Errorf("entry 2: got %q, want %q", syms[2].Title, "B")
	}

	img = render(t, r, WithNoSymbols(0))
	if countPainted(img.NRGBA) != 0 {
		t.Error("diagram drawn without its legend entries")
	}
}

func TestLegendSymbols(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	syms, err := r.LegendSymbols(0, Size{20, 10})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		title  string
		color  color.NRGBA
		render SymbolRender
	}{
		{"A", red, Checked},
		{"B", green, Checked},
		{"C", blue, Unchecked},
	}
	if len(syms) != len(want) {
		t.Fatalf("got %d entries, want %d", len(syms), len(want))
	}
	for i, w := range want {
		s := syms[i]
		if s.Title != w.title || !s.HasTitle || s.Index != i || !s.HasCategory {
			t.Errorf("entry %d: got %+v", i, s)
		}
		if s.Render != w.render {
			t.Errorf("entry %d: got %s, want %s", i, s.Render, w.render)
		}
		if b := s.Icon.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
			t.Errorf("entry %d: icon size %v", i, b)
		}
		if got := s.Icon.NRGBAAt(10, 5); got != w.color {
			t.Errorf("entry %d: centre %v, want %v", i, got, w.color)
		}
		if got := s.Icon.NRGBAAt(0, 0); got.A != 0 {
			t.Errorf("entry %d: corner %v, want transparent", i, got)
		}
	}

	for _, idx := range []int{-1, 1} {
		if _, err := r.LegendSymbols(idx, Size{20, 10}); !errors.Is(err, ErrEngine) {
			t.Errorf("layer %d: got %v, want an engine error", idx, err)
		}
	}
	if _, err := r.LegendSymbols(0, Size{0, 10}); !errors.Is(err, ErrEngine) {
		t.Errorf("empty icon: got %v, want an engine error", err)
	}
}

// grayRaster is a 2x2 raster covering unitExtent, dark on the left and
// bright on the right.
func grayRaster(t testing.TB) *layer.Raster {
	t.Helper()
	band := []float64{0, 255, 0, 255}
	gt := layer.GeoTransform{0, 50, 0, 100, 0, -50}
	src, err := layer.NewRaster("gray", crs.MustEPSG(3857), gt, 2, 2, [][]float64{band}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestRenderRaster(t *testing.T) {
	r := newRequest(t, grayRaster(t), nil)
	img := render(t, r)
	if got := img.NRGBAAt(20, 50); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("left: got %v, want black", got)
	}
	if got := img.NRGBAAt(80, 50); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("right: got %v, want white", got)
	}

	syms, err := r.LegendSymbols(0, Size{10, 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 5 {
		t.Fatalf("got %d entries, want 5", len(syms))
	}
	for i, s := range syms {
		if s.RasterBand != 1 || !s.HasCategory {
			t.Errorf("entry %d: got %+v", i, s)
		}
		// swatches fill the whole icon
		if got := s.Icon.NRGBAAt(0, 0); got.A != 255 {
			t.Errorf("entry %d: corner %v, want opaque", i, got)
		}
	}
	if got := syms[4].Icon.NRGBAAt(5, 5); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("last swatch: got %v, want white", got)
	}
}

func TestRenderHeatmap(t *testing.T) {
	qml := `<qgis version="3.34.0">
  <renderer-v2 type="heatmapRenderer" radius="5" radius_unit="MM"/>
  <layerGeometryType>0</layerGeometryType>
</qgis>`
	src := vectorLayer(t, layer.Point, nil, []layer.Row{
		{FID: 1, WKB: mustWKB(t, orb.Point{50, 50})},
		{FID: 2, WKB: mustWKB(t, orb.Point{52, 50})},
	})
	img := render(t, newRequest(t, src, mustStyle(t, qml)))
	if got := img.NRGBAAt(51, 50); got.A == 0 {
		t.Error("no heat between the points")
	}
	if got := img.NRGBAAt(2, 2); got.A != 0 {
		t.Errorf("corner: got %v, want transparent", got)
	}
}

func TestRenderLabels(t *testing.T) {
	qml := `<qgis version="3.34.0">
  <renderer-v2 type="nullSymbol"/>
  <labeling type="simple">
    <settings><text-style fieldName="name" fontSize="12" textColor="0,0,0,255"/></settings>
  </labeling>
  <layerGeometryType>0</layerGeometryType>
</qgis>`
	fields := []layer.Field{{Name: "name", Type: layer.String}}
	src := vectorLayer(t, layer.Point, fields, []layer.Row{
		{FID: 1, WKB: mustWKB(t, orb.Point{50, 50}), Attrs: []any{"Hamburg"}},
	})
	img := render(t, newRequest(t, src, mustStyle(t, qml)))

	inside, outside := 0, 0
	for y := range 100 {
		for x := range 100 {
			if img.NRGBAAt(x, y).A == 0 {
				continue
			}
			if y > 35 && y < 65 {
				inside++
			} else {
				outside++
			}
		}
	}
	if inside == 0 {
		t.Error("label not drawn")
	}
	if outside != 0 {
		t.Errorf("%d pixels painted away from the label", outside)
	}
}

func TestRenderLegend(t *testing.T) {
	r := New()
	if err := r.AddLayer(threeSquares(t), mustStyle(t, categorizedQML(">")), WithLabel("Areas")); err != nil {
		t.Fatal(err)
	}
	if err := r.AddLayer(grayRaster(t), nil); err != nil {
		t.Fatal(err)
	}

	small, err := r.RenderLegend(nil)
	if err != nil {
		t.Fatal(err)
	}
	sb := small.Bounds()
	if sb.Empty() {
		t.Fatal("empty legend")
	}
	if got := small.NRGBAAt(0, 0); got.A != 0 {
		t.Errorf("corner: got %v, want transparent", got)
	}
	if countPainted(small) == 0 {
		t.Error("nothing drawn")
	}

	r.SetDPI(192)
	large, err := r.RenderLegend(&Size{})
	if err != nil {
		t.Fatal(err)
	}
	lb := large.Bounds()
	if lb.Dx() <= sb.Dx() || lb.Dy() <= sb.Dy() {
		t.Errorf("legend at 192 dpi is %v, at 96 dpi %v", lb, sb)
	}

	fixed, err := r.RenderLegend(&Size{300, 400})
	if err != nil {
		t.Fatal(err)
	}
	if b := fixed.Bounds(); b.Dx() != 300 || b.Dy() != 400 {
		t.Errorf("got size %v, want 300x400", b)
	}
}

func TestExportPDF(t *testing.T) {
	r := newRequest(t, threeSquares(t), mustStyle(t, categorizedQML(">")))
	r.SetBackground(color.NRGBA{255, 255, 255, 255})
	path := filepath.Join(t.TempDir(), "map.pdf")
	diags, err := r.ExportPDF(path, unitExtent, Size{100, 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 0 {
		t.Errorf("unexpected diagnostics: %v", diags)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "%PDF-") {
		t.Errorf("not a PDF file: %q", data[:min(len(data), 10)])
	}

	_, err = r.ExportPDF(filepath.Join(t.TempDir(), "no", "such", "dir", "map.pdf"), unitExtent, Size{100, 100})
	if !errors.Is(err, ErrEngine) {
		t.Errorf("got %v, want an engine error", err)
	}
}

func BenchmarkRenderImage(b *testing.B) {
	var rows []layer.Row
	for i := range 1000 {
		x, y := float64(i%40)*2.5, float64(i/40)*4
		rows = append(rows, layer.Row{
			FID:   int64(i),
			WKB:   mustWKB(b, square(x, y, x+2, y+3)),
			Attrs: []any{string(rune('a' + i%3)), i},
		})
	}
	src := vectorLayer(b, layer.Polygon, kindFields, rows)
	r := newRequest(b, src, mustStyle(b, categorizedQML(">")))

	for b.Loop() {
		_, err := r.RenderImage(unitExtent, Size{256, 256})
		if err != nil {
			b.Fatal(err)
		}
	}
}
