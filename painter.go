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
	"image/color"
	"log/slog"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/raster"
	"seehuhn.de/go/maprender/style"
	"seehuhn.de/go/maprender/svgcache"
)

// hairline is the width of strokes whose width is given as zero.
const hairline = 1.0

var (
	defaultFill    = color.NRGBA{255, 0, 0, 255}
	defaultOutline = color.NRGBA{35, 35, 35, 255}
	black          = color.NRGBA{0, 0, 0, 255}
)

// painter draws symbols onto a surface.  Geometries passed to it are in
// output pixels.
type painter struct {
	surf   surface
	view   *view
	svg    *svgcache.Context
	logger *slog.Logger
}

// drawSymbol draws sym on g.  env supplies the values of data-defined
// properties and may be nil.
func (p *painter) drawSymbol(sym *style.Symbol, g orb.Geometry, env *expr.Env) {
	if sym == nil || g == nil {
		return
	}
	alpha := sym.Alpha
	switch sym.Type {
	case style.MarkerSymbol:
		for _, pt := range markerPoints(g) {
			p.marker(sym, pt, 0, alpha, env)
		}
	case style.LineSymbol:
		for _, ls := range linesOf(g) {
			for _, l := range sym.Layers {
				if l.Enabled {
					p.lineLayer(l, ls, alpha, env)
				}
			}
		}
	case style.FillSymbol:
		for _, poly := range polygonsOf(g) {
			p.fill(sym, poly, alpha, env)
		}
	}
}

// marker draws a marker symbol centred on pt, rotated clockwise by
// angle degrees in addition to the rotation of each layer.
func (p *painter) marker(sym *style.Symbol, pt orb.Point, angle, alpha float64, env *expr.Env) {
	for _, l := range sym.Layers {
		if !l.Enabled {
			continue
		}
		switch l.Class {
		case "SvgMarker":
			p.svgMarker(l, pt, angle, alpha, env)
		default:
			p.simpleMarker(l, pt, angle, alpha, env)
		}
	}
}

func (p *painter) simpleMarker(l *style.SymbolLayer, pt orb.Point, angle, alpha float64, env *expr.Env) {
	size := p.ddFloat(l, "size", env, l.Float("size", 2))
	r := p.view.toPixels(size, l.Unit("size_unit")) / 2
	if r <= 0 {
		return
	}
	rot := p.ddFloat(l, "angle", env, l.Float("angle", 0)) + angle
	ox, oy := p.offset(l, "offset", "offset_unit")
	m := placement(r, rot, pt[0]+ox, pt[1]+oy)

	pts, closed := markerShape(l.String("name"))
	var shape *path.Data
	if pts == nil {
		shape = circlePath(m)
		closed = true
	} else {
		shape = shapePath(pts, closed, m)
	}

	fill := withAlpha(p.ddColor(l, "fillColor", env, l.Color("color", defaultFill)), alpha)
	stroke := withAlpha(p.ddColor(l, "strokeColor", env, l.Color("outline_color", defaultOutline)), alpha)
	width := p.strokeWidth(l, "outline_width", "outline_width_unit", env, 0)
	st := raster.StrokeStyle{
		Width:      width,
		Cap:        graphics.LineCapRound,
		Join:       joinStyle(l.String("joinstyle"), graphics.LineJoinMiter),
		MiterLimit: 10,
	}
	if !closed {
		p.surf.Stroke(shape, raster.Solid(stroke), st)
		return
	}
	if fill.A > 0 {
		p.surf.Fill(shape, raster.Solid(fill), raster.NonZero)
	}
	if l.String("outline_style") != "no" && stroke.A > 0 {
		p.surf.Stroke(shape, raster.Solid(stroke), st)
	}
}

func (p *painter) svgMarker(l *style.SymbolLayer, pt orb.Point, angle, alpha float64, env *expr.Env) {
	ref := l.String("name")
	mk := p.svg.Lookup(ref)
	if mk.IsFallback() && p.logger != nil {
		p.logger.Debug("SVG marker not found", "ref", ref)
	}
	size := p.view.toPixels(p.ddFloat(l, "size", env, l.Float("size", 4)), l.Unit("size_unit"))
	if size <= 0 {
		return
	}
	fill := p.ddColor(l, "fillColor", env, l.Color("color", black))
	stroke := p.ddColor(l, "strokeColor", env, l.Color("outline_color", black))
	width := p.view.toPixels(p.ddFloat(l, "strokeWidth", env, l.Float("outline_width", 0.2)), l.Unit("outline_width_unit"))
	img := mk.Image(size, fill, stroke, width)

	rot := p.ddFloat(l, "angle", env, l.Float("angle", 0)) + angle
	ox, oy := p.offset(l, "offset", "offset_unit")
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	centre := matrix.Matrix{1, 0, 0, 1, -w / 2, -h / 2}
	p.surf.DrawImage(img, raster.Compose(centre, placement(1, rot, pt[0]+ox, pt[1]+oy)), alpha)
}

// lineLayer draws one layer of a line symbol, or an outline layer of a
// fill symbol.
func (p *painter) lineLayer(l *style.SymbolLayer, ls orb.LineString, alpha float64, env *expr.Env) {
	switch l.Class {
	case "MarkerLine":
		p.markerLine(l, ls, alpha, env)
	default:
		p.simpleLine(l, ls, alpha, env)
	}
}

func (p *painter) simpleLine(l *style.SymbolLayer, ls orb.LineString, alpha float64, env *expr.Env) {
	if l.String("line_style") == "no" || len(ls) < 2 {
		return
	}
	col := withAlpha(p.ddColor(l, "strokeColor", env, l.Color("line_color", black)), alpha)
	width := p.strokeWidth(l, "line_width", "line_width_unit", env, 0.26)

	if off := p.view.toPixels(l.Float("offset", 0), l.Unit("offset_unit")); off != 0 {
		ls = offsetLine(ls, off)
	}

	dash := l.Dash()
	if dash != nil {
		custom := l.Bool("use_custom_dash", false)
		unit := l.Unit("customdash_unit")
		for i, d := range dash {
			if custom {
				dash[i] = p.view.toPixels(d, unit)
			} else {
				dash[i] = d * width
			}
		}
	}

	p.surf.Stroke(linePath(ls), raster.Solid(col), raster.StrokeStyle{
		Width:      width,
		Cap:        capStyle(l.String("capstyle")),
		Join:       joinStyle(l.String("joinstyle"), graphics.LineJoinBevel),
		MiterLimit: 10,
		Dash:       dash,
	})
}

// markerLine places copies of the sub-symbol along the line.
func (p *painter) markerLine(l *style.SymbolLayer, ls orb.LineString, alpha float64, env *expr.Env) {
	sub := l.SubSymbol
	if sub == nil || len(ls) == 0 {
		return
	}
	alpha *= sub.Alpha
	rotate := l.Bool("rotate", true)
	put := func(pt orb.Point, angle float64) {
		if !rotate {
			angle = 0
		}
		p.marker(sub, pt, angle, alpha, env)
	}

	total := planar.Length(ls)
	switch l.String("placement") {
	case "vertex":
		for i, pt := range ls {
			put(pt, vertexAngle(ls, i))
		}
	case "firstvertex":
		put(ls[0], vertexAngle(ls, 0))
	case "lastvertex":
		put(ls[len(ls)-1], vertexAngle(ls, len(ls)-1))
	case "centralpoint":
		if pt, a, ok := alongWithAngle(ls, total/2); ok {
			put(pt, a)
		}
	default:
		interval := p.view.toPixels(l.Float("interval", 3), l.Unit("interval_unit"))
		if interval <= 0 {
			return
		}
		start := p.view.toPixels(l.Float("offset_along_line", 0), l.Unit("offset_along_line_unit"))
		for d := start; d <= total; d += interval {
			if pt, a, ok := alongWithAngle(ls, d); ok {
				put(pt, a)
			}
		}
	}
}

func vertexAngle(ls orb.LineString, i int) float64 {
	switch {
	case len(ls) < 2:
		return 0
	case i == 0:
		return segmentAngle(ls[0], ls[1])
	case i == len(ls)-1:
		return segmentAngle(ls[i-1], ls[i])
	}
	a := segmentAngle(ls[i-1], ls[i]) * math.Pi / 180
	b := segmentAngle(ls[i], ls[i+1]) * math.Pi / 180
	return math.Atan2(math.Sin(a)+math.Sin(b), math.Cos(a)+math.Cos(b)) * 180 / math.Pi
}

// fill draws a fill symbol on one polygon.
func (p *painter) fill(sym *style.Symbol, poly orb.Polygon, alpha float64, env *expr.Env) {
	for _, l := range sym.Layers {
		if !l.Enabled {
			continue
		}
		switch l.Class {
		case "SimpleLine", "MarkerLine":
			for _, ring := range poly {
				p.lineLayer(l, orb.LineString(ring), alpha, env)
			}
		case "GradientFill":
			p.gradientFill(l, poly, alpha, env)
		case "CentroidFill":
			if l.SubSymbol != nil {
				c, _ := planar.CentroidArea(poly)
				p.marker(l.SubSymbol, c, 0, alpha*l.SubSymbol.Alpha, env)
			}
		default:
			p.simpleFill(l, poly, alpha, env)
		}
	}
}

func (p *painter) simpleFill(l *style.SymbolLayer, poly orb.Polygon, alpha float64, env *expr.Env) {
	if ox, oy := p.offset(l, "offset", "offset_unit"); ox != 0 || oy != 0 {
		poly = translate(poly, ox, oy)
	}
	shape := polygonPath(poly)
	if l.String("style") != "no" {
		col := withAlpha(p.ddColor(l, "fillColor", env, l.Color("color", defaultFill)), alpha)
		if col.A > 0 {
			p.surf.Fill(shape, raster.Solid(col), raster.EvenOdd)
		}
	}
	if l.String("outline_style") == "no" {
		return
	}
	stroke := withAlpha(p.ddColor(l, "strokeColor", env, l.Color("outline_color", defaultOutline)), alpha)
	if stroke.A == 0 {
		return
	}
	p.surf.Stroke(shape, raster.Solid(stroke), raster.StrokeStyle{
		Width:      p.strokeWidth(l, "outline_width", "outline_width_unit", env, 0.26),
		Join:       joinStyle(l.String("joinstyle"), graphics.LineJoinBevel),
		MiterLimit: 10,
	})
}

// gradientFill fills the polygon with a linear gradient between two
// reference points of its bounding box.
func (p *painter) gradientFill(l *style.SymbolLayer, poly orb.Polygon, alpha float64, env *expr.Env) {
	ramp := l.GradientRamp()
	ramp.Color1 = p.ddColor(l, "fillColor", env, ramp.Color1)

	b := poly.Bound()
	ref := func(key string, dx, dy float64) vec.Vec2 {
		if l.String(key) != "" {
			dx, dy = l.Offset(key)
		}
		return vec.Vec2{
			X: b.Min[0] + dx*(b.Max[0]-b.Min[0]),
			Y: b.Min[1] + dy*(b.Max[1]-b.Min[1]),
		}
	}
	p0 := ref("reference_point1", 0.5, 0)
	p1 := ref("reference_point2", 0.5, 1)
	if a := l.Float("angle", 0); a != 0 {
		c := vec.Vec2{X: (p0.X + p1.X) / 2, Y: (p0.Y + p1.Y) / 2}
		p0 = rotateAbout(p0, c, -a)
		p1 = rotateAbout(p1, c, -a)
	}

	stops := []raster.Stop{{Offset: 0, Color: withAlpha(ramp.Color1, alpha)}}
	for _, s := range ramp.Stops {
		stops = append(stops, raster.Stop{Offset: s.Offset, Color: withAlpha(s.Color, alpha)})
	}
	stops = append(stops, raster.Stop{Offset: 1, Color: withAlpha(ramp.Color2, alpha)})
	g := &raster.LinearGradient{P0: p0, P1: p1, Stops: stops}
	if ramp.Discrete {
		g.Lerp = func(a, _ color.NRGBA, _ float64) color.NRGBA { return a }
	}
	p.surf.Fill(polygonPath(poly), g, raster.EvenOdd)
}

func rotateAbout(v, c vec.Vec2, deg float64) vec.Vec2 {
	s, co := math.Sincos(deg * math.Pi / 180)
	dx, dy := v.X-c.X, v.Y-c.Y
	return vec.Vec2{X: c.X + co*dx - s*dy, Y: c.Y + s*dx + co*dy}
}

func translate(poly orb.Polygon, dx, dy float64) orb.Polygon {
	res := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		r := make(orb.Ring, len(ring))
		for j, pt := range ring {
			r[j] = orb.Point{pt[0] + dx, pt[1] + dy}
		}
		res[i] = r
	}
	return res
}

// offset returns an "x,y" offset property in pixels.
func (p *painter) offset(l *style.SymbolLayer, key, unitKey string) (float64, float64) {
	x, y := l.Offset(key)
	u := l.Unit(unitKey)
	return p.view.toPixels(x, u), p.view.toPixels(y, u)
}

// strokeWidth returns a line width in pixels.  Zero widths give a
// hairline.
func (p *painter) strokeWidth(l *style.SymbolLayer, key, unitKey string, env *expr.Env, def float64) float64 {
	w := p.view.toPixels(p.ddFloat(l, "strokeWidth", env, l.Float(key, def)), l.Unit(unitKey))
	if w <= 0 {
		return hairline
	}
	return w
}

// ddFloat evaluates a data-defined number, falling back to def.
func (p *painter) ddFloat(l *style.SymbolLayer, name string, env *expr.Env, def float64) float64 {
	e := l.Property(name)
	if e == nil || env == nil {
		return def
	}
	v, err := e.Eval(env)
	if err != nil {
		return def
	}
	f, ok := expr.ToFloat(v)
	if !ok || math.IsNaN(f) {
		return def
	}
	return f
}

// ddColor evaluates a data-defined colour, falling back to def.
func (p *painter) ddColor(l *style.SymbolLayer, name string, env *expr.Env, def color.NRGBA) color.NRGBA {
	e := l.Property(name)
	if e == nil || env == nil {
		return def
	}
	v, err := e.Eval(env)
	if err != nil || v == nil {
		return def
	}
	c, err := style.ParseColor(expr.ToString(v))
	if err != nil {
		return def
	}
	return c
}

func withAlpha(c color.NRGBA, alpha float64) color.NRGBA {
	if alpha >= 1 {
		return c
	}
	c.A = uint8(math.Round(float64(c.A) * max(alpha, 0)))
	return c
}

func capStyle(s string) graphics.LineCapStyle {
	switch s {
	case "flat":
		return graphics.LineCapButt
	case "round":
		return graphics.LineCapRound
	}
	return graphics.LineCapSquare
}

func joinStyle(s string, def graphics.LineJoinStyle) graphics.LineJoinStyle {
	switch s {
	case "miter":
		return graphics.LineJoinMiter
	case "round":
		return graphics.LineJoinRound
	case "bevel":
		return graphics.LineJoinBevel
	}
	return def
}

// placement scales by r, rotates clockwise by deg and moves the origin
// to (x, y).
func placement(r, deg, x, y float64) matrix.Matrix {
	s, c := math.Sincos(deg * math.Pi / 180)
	return matrix.Matrix{r * c, r * s, -r * s, r * c, x, y}
}

func apply(m matrix.Matrix, x, y float64) vec.Vec2 {
	return vec.Vec2{X: m[0]*x + m[2]*y + m[4], Y: m[1]*x + m[3]*y + m[5]}
}

// markerShape returns the outline of a named marker on the unit square
// [-1, 1]², and whether it is a closed area.  Unknown names and circles
// give nil.
func markerShape(name string) ([]vec.Vec2, bool) {
	switch strings.ToLower(name) {
	case "square", "rectangle":
		return []vec.Vec2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}, true
	case "diamond":
		return []vec.Vec2{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}, true
	case "triangle":
		return []vec.Vec2{{X: 0, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}, true
	case "equilateral_triangle":
		return []vec.Vec2{{X: 0, Y: -1}, {X: 0.8660, Y: 0.5}, {X: -0.8660, Y: 0.5}}, true
	case "pentagon":
		return regular(5, 1, 1), true
	case "hexagon":
		return regular(6, 1, 1), true
	case "star":
		return regular(5, 1, 0.3819), true
	case "cross":
		return []vec.Vec2{{X: -1, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: -1}, {X: 0, Y: 1}}, false
	case "cross2", "x":
		return []vec.Vec2{{X: -1, Y: -1}, {X: 1, Y: 1}, {X: 1, Y: -1}, {X: -1, Y: 1}}, false
	case "line":
		return []vec.Vec2{{X: 0, Y: -1}, {X: 0, Y: 1}}, false
	}
	return nil, true
}

// regular returns a polygon with n outer corners, starting at the top.
// If inner differs from outer, inner corners are inserted in between.
func regular(n int, outer, inner float64) []vec.Vec2 {
	steps := n
	if inner != outer {
		steps = 2 * n
	}
	res := make([]vec.Vec2, steps)
	for i := range res {
		r := outer
		if steps != n && i%2 == 1 {
			r = inner
		}
		a := 2*math.Pi*float64(i)/float64(steps) - math.Pi/2
		res[i] = vec.Vec2{X: r * math.Cos(a), Y: r * math.Sin(a)}
	}
	return res
}

// shapePath maps a marker outline through m.  Open shapes are pairs of
// line segments.
func shapePath(pts []vec.Vec2, closed bool, m matrix.Matrix) *path.Data {
	p := &path.Data{}
	if !closed {
		for i := 0; i+1 < len(pts); i += 2 {
			p.MoveTo(apply(m, pts[i].X, pts[i].Y))
			p.LineTo(apply(m, pts[i+1].X, pts[i+1].Y))
		}
		return p
	}
	for i, v := range pts {
		if i == 0 {
			p.MoveTo(apply(m, v.X, v.Y))
		} else {
			p.LineTo(apply(m, v.X, v.Y))
		}
	}
	return p.Close()
}

// circlePath is the unit circle mapped through m.
func circlePath(m matrix.Matrix) *path.Data {
	const k = 0.5522847498
	pt := func(x, y float64) vec.Vec2 { return apply(m, x, y) }
	return (&path.Data{}).
		MoveTo(pt(1, 0)).
		CubeTo(pt(1, k), pt(k, 1), pt(0, 1)).
		CubeTo(pt(-k, 1), pt(-1, k), pt(-1, 0)).
		CubeTo(pt(-1, -k), pt(-k, -1), pt(0, -1)).
		CubeTo(pt(k, -1), pt(1, -k), pt(1, 0)).
		Close()
}
