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
	"math"

	"github.com/paulmach/orb"

	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/raster"
	"seehuhn.de/go/maprender/style"
)

// pendingDiagram is a chart waiting to be drawn on top of all layers.
type pendingDiagram struct {
	d      *style.Diagram
	at     orb.Point
	size   float64 // pixels
	values []float64
}

// prepareDiagram evaluates the diagram attributes for one feature.
func (p *renderPass) prepareDiagram(layerIndex int, d *style.Diagram, fid int64, g orb.Geometry, env *expr.Env) (pendingDiagram, bool) {
	at, ok := labelAnchor(g)
	if !ok {
		return pendingDiagram{}, false
	}
	values := make([]float64, len(d.Attributes))
	for k, a := range d.Attributes {
		if a.Expr == nil {
			continue
		}
		v, err := a.Expr.Eval(env)
		if err != nil {
			p.skip(layerIndex, fid, "diagram: "+err.Error())
			return pendingDiagram{}, false
		}
		if x, ok := expr.ToFloat(v); ok && !math.IsNaN(x) {
			values[k] = x
		}
	}

	size := d.Size
	if s := d.Scaling; s != nil && s.Expr != nil {
		v, err := s.Expr.Eval(env)
		if err != nil {
			p.skip(layerIndex, fid, "diagram: "+err.Error())
			return pendingDiagram{}, false
		}
		x, ok := expr.ToFloat(v)
		if !ok {
			return pendingDiagram{}, false
		}
		size = s.Size(x)
	}
	px := p.view.toPixels(size, d.SizeUnit)
	if px <= 0 {
		return pendingDiagram{}, false
	}
	return pendingDiagram{d: d, at: at, size: px, values: values}, true
}

func (p *painter) drawDiagram(pd pendingDiagram) {
	switch pd.d.Kind {
	case style.Histogram:
		p.histogram(pd)
	default:
		p.pie(pd)
	}
}

// pie draws the slices clockwise from the top.
func (p *painter) pie(pd pendingDiagram) {
	d := pd.d
	total := 0.0
	for _, v := range pd.values {
		if v > 0 {
			total += v
		}
	}
	r := pd.size / 2
	centre := vec2(pd.at)
	pen := p.diagramPen(d)

	if total == 0 {
		circle := circlePath(placement(r, 0, centre.X, centre.Y))
		if bg := diagramColor(d.Background, d.Opacity); bg.A > 0 {
			p.surf.Fill(circle, raster.Solid(bg), raster.NonZero)
		}
		return
	}

	start := -90.0
	for k, v := range pd.values {
		if v <= 0 {
			continue
		}
		sweep := 360 * v / total
		slice := sector(centre, r, start, start+sweep)
		p.surf.Fill(slice, raster.Solid(diagramColor(d.Attributes[k].Color, d.Opacity)), raster.NonZero)
		if pen.Width > 0 && d.PenColor.A > 0 {
			p.surf.Stroke(slice, raster.Solid(diagramColor(d.PenColor, d.Opacity)), pen)
		}
		start += sweep
	}
}

// histogram draws one bar per attribute, standing on the anchor point.
// The longest bar has the diagram size unless the diagram is scaled,
// in which case the upper scaling value maps to the size.
func (p *painter) histogram(pd pendingDiagram) {
	d := pd.d
	hi := 0.0
	if d.Scaling != nil && d.Scaling.UpperValue > 0 {
		hi = d.Scaling.UpperValue
	} else {
		for _, v := range pd.values {
			hi = max(hi, v)
		}
	}
	if hi <= 0 {
		return
	}
	unit := pd.size / hi
	if d.Scaling != nil {
		unit = p.view.toPixels(d.Scaling.UpperSize, d.SizeUnit) / hi
	}

	bw := p.view.toPixels(d.BarWidth, d.SizeUnit)
	if bw <= 0 {
		bw = p.view.toPixels(5, style.Millimeters)
	}
	x := pd.at[0] - bw*float64(len(pd.values))/2
	base := pd.at[1]
	pen := p.diagramPen(d)
	for k, v := range pd.values {
		if v > 0 {
			h := v * unit
			bar := polygonPath(orb.Polygon{{
				{x, base}, {x + bw, base}, {x + bw, base - h}, {x, base - h}, {x, base},
			}})
			p.surf.Fill(bar, raster.Solid(diagramColor(d.Attributes[k].Color, d.Opacity)), raster.NonZero)
			if pen.Width > 0 && d.PenColor.A > 0 {
				p.surf.Stroke(bar, raster.Solid(diagramColor(d.PenColor, d.Opacity)), pen)
			}
		}
		x += bw
	}
}

func (p *painter) diagramPen(d *style.Diagram) raster.StrokeStyle {
	return raster.StrokeStyle{
		Width:      p.view.toPixels(d.PenWidth, style.Millimeters),
		Join:       graphics.LineJoinMiter,
		MiterLimit: 10,
	}
}

func diagramColor(c color.NRGBA, opacity float64) color.NRGBA {
	return withAlpha(c, opacity)
}

// sector returns a pie slice between two angles, in degrees clockwise
// from the x axis.  Arcs are split into cubic segments of at most 90°.
func sector(c vec.Vec2, r, from, to float64) *path.Data {
	n := int(math.Ceil((to - from) / 90))
	step := (to - from) / float64(n) * math.Pi / 180
	a := from * math.Pi / 180
	pt := func(a float64) vec.Vec2 {
		return vec.Vec2{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
	}
	p := &path.Data{}
	if to-from < 360 {
		p.MoveTo(c)
		p.LineTo(pt(a))
	} else {
		p.MoveTo(pt(a))
	}
	k := 4.0 / 3 * math.Tan(step/4)
	for range n {
		b := a + step
		p0, p3 := pt(a), pt(b)
		p1 := vec.Vec2{X: p0.X - k*r*math.Sin(a), Y: p0.Y + k*r*math.Cos(a)}
		p2 := vec.Vec2{X: p3.X + k*r*math.Sin(b), Y: p3.Y - k*r*math.Cos(b)}
		p.CubeTo(p1, p2, p3)
		a = b
	}
	return p.Close()
}
