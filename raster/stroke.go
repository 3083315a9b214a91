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

package raster

import (
	"math"

	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"
)

// Stroke rasterizes the outline of p using Width, Cap, Join,
// MiterLimit, Dash and DashPhase.
//
// The outline is assembled from simple convex pieces (one quadrilateral
// per segment, plus join and cap polygons), all oriented the same way
// and filled together with the nonzero rule.
func (r *Rasterizer) Stroke(p *path.Data, emit func(y, xMin int, coverage []float32)) {
	r.collectLines(p)
	if len(r.Dash) > 0 {
		r.applyDash()
	}

	r.beginEdges()
	d := r.Width / 2
	for i, pts := range r.lines {
		r.strokeLine(pts, !r.open[i], d)
	}
	r.scan(NonZero, emit)
}

// collectLines flattens p into polylines in user space.
func (r *Rasterizer) collectLines(p *path.Data) {
	r.lines = r.lines[:0]
	r.open = r.open[:0]

	var cur []vec.Vec2
	seg := func(a, b vec.Vec2) {
		if len(cur) == 0 {
			cur = append(cur, a)
		}
		if b.Sub(cur[len(cur)-1]).Length() >= zeroLengthThreshold {
			cur = append(cur, b)
		}
	}

	k := 0
	start := vec.Vec2{}
	var current vec.Vec2
	flush := func(closed bool) {
		if len(cur) == 0 {
			// a lone point still gets caps
			cur = append(cur, current)
		}
		if closed && len(cur) > 1 && cur[0] != cur[len(cur)-1] {
			cur = append(cur, cur[0])
		}
		r.lines = append(r.lines, cur)
		r.open = append(r.open, !closed)
		cur = nil
	}
	inSubpath := false
	drew := false
	for _, c := range p.Cmds {
		switch c {
		case path.CmdMoveTo:
			if inSubpath && drew {
				flush(false)
			}
			cur = nil
			current = p.Coords[k]
			start = current
			inSubpath = true
			drew = false
			k++
		case path.CmdLineTo:
			seg(current, p.Coords[k])
			current = p.Coords[k]
			drew = true
			k++
		case path.CmdQuadTo:
			r.flattenQuad(current, p.Coords[k], p.Coords[k+1], seg)
			current = p.Coords[k+1]
			drew = true
			k += 2
		case path.CmdCubeTo:
			r.flattenCube(current, p.Coords[k], p.Coords[k+1], p.Coords[k+2], seg)
			current = p.Coords[k+2]
			drew = true
			k += 3
		case path.CmdClose:
			if inSubpath {
				if len(cur) > 0 {
					seg(current, start)
				}
				current = start
				flush(true)
			}
			inSubpath = false
			drew = false
		}
	}
	if inSubpath && drew {
		flush(false)
	}
}

// applyDash replaces r.lines by the "on" pieces of the dash pattern.
func (r *Rasterizer) applyDash() {
	var total float64
	for _, v := range r.Dash {
		total += v
	}
	if total <= 0 {
		return
	}

	lines := r.lines
	r.lines = nil
	r.open = r.open[:0]
	for _, pts := range lines {
		// dash state restarts for every subpath
		idx := 0
		phase := math.Mod(r.DashPhase, total)
		if phase < 0 {
			phase += total
		}
		for phase >= r.Dash[idx] {
			phase -= r.Dash[idx]
			idx = (idx + 1) % len(r.Dash)
		}
		left := r.Dash[idx] - phase
		on := idx%2 == 0

		var piece []vec.Vec2
		if on && len(pts) > 0 {
			piece = append(piece, pts[0])
		}
		for i := 1; i < len(pts); i++ {
			a, b := pts[i-1], pts[i]
			segLen := b.Sub(a).Length()
			pos := 0.0
			for segLen-pos > left {
				pos += left
				q := a.Add(b.Sub(a).Mul(pos / segLen))
				if on {
					piece = append(piece, q)
					r.lines = append(r.lines, piece)
					r.open = append(r.open, true)
					piece = nil
				} else {
					piece = []vec.Vec2{q}
				}
				on = !on
				idx = (idx + 1) % len(r.Dash)
				left = r.Dash[idx]
			}
			left -= segLen - pos
			if on {
				piece = append(piece, b)
			}
		}
		if on && len(piece) > 1 {
			r.lines = append(r.lines, piece)
			r.open = append(r.open, true)
		}
	}
}

// strokeLine adds the outline pieces of one polyline.
func (r *Rasterizer) strokeLine(pts []vec.Vec2, closed bool, d float64) {
	if len(pts) == 1 {
		switch r.Cap {
		case graphics.LineCapRound:
			r.addCircle(pts[0], d)
		case graphics.LineCapSquare:
			x, y := vec.Vec2{X: d}, vec.Vec2{Y: d}
			c := pts[0]
			r.addPolygon(c.Sub(x).Sub(y), c.Add(x).Sub(y), c.Add(x).Add(y), c.Sub(x).Add(y))
		}
		return
	}

	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		t := unit(b.Sub(a))
		n := vec.Vec2{X: -t.Y, Y: t.X}.Mul(d)
		r.addPolygon(a.Add(n), b.Add(n), b.Sub(n), a.Sub(n))
	}

	last := len(pts) - 1
	for i := 1; i < last; i++ {
		r.addJoin(pts[i], unit(pts[i].Sub(pts[i-1])), unit(pts[i+1].Sub(pts[i])), d)
	}
	if closed {
		if len(pts) > 2 {
			r.addJoin(pts[0], unit(pts[last].Sub(pts[last-1])), unit(pts[1].Sub(pts[0])), d)
		}
		return
	}

	r.addCap(pts[0], unit(pts[0].Sub(pts[1])), d)
	r.addCap(pts[last], unit(pts[last].Sub(pts[last-1])), d)
}

// addJoin fills the wedge on the outer side of the corner at p, where
// the direction changes from t1 to t2.
func (r *Rasterizer) addJoin(p, t1, t2 vec.Vec2, d float64) {
	cross := t1.X*t2.Y - t1.Y*t2.X
	dot := t1.X*t2.X + t1.Y*t2.Y
	if math.Abs(cross) < 1e-9 && dot > 0 {
		return
	}

	// outer side is opposite to the turn direction
	s := 1.0
	if cross > 0 {
		s = -1
	}
	n1 := vec.Vec2{X: -t1.Y, Y: t1.X}.Mul(s * d)
	n2 := vec.Vec2{X: -t2.Y, Y: t2.X}.Mul(s * d)

	switch r.Join {
	case graphics.LineJoinRound:
		r.addCircle(p, d)
	case graphics.LineJoinMiter:
		// miter length ratio is 1/sin(theta/2)
		cosTheta := -dot
		ratio := math.Sqrt(2 / (1 - cosTheta))
		if ratio <= r.MiterLimit && (1-cosTheta) > 1e-12 {
			bis := unit(n1.Add(n2))
			tip := p.Add(bis.Mul(d * ratio))
			r.addPolygon(p, p.Add(n1), tip, p.Add(n2))
			return
		}
		r.addPolygon(p, p.Add(n1), p.Add(n2))
	default:
		r.addPolygon(p, p.Add(n1), p.Add(n2))
	}
}

// addCap adds a cap at p; t points away from the line.
func (r *Rasterizer) addCap(p, t vec.Vec2, d float64) {
	n := vec.Vec2{X: -t.Y, Y: t.X}.Mul(d)
	switch r.Cap {
	case graphics.LineCapRound:
		r.addCircle(p, d)
	case graphics.LineCapSquare:
		e := t.Mul(d)
		r.addPolygon(p.Add(n), p.Add(n).Add(e), p.Sub(n).Add(e), p.Sub(n))
	}
}

// addCircle approximates a disc, with enough vertices for the device
// resolution.
func (r *Rasterizer) addCircle(c vec.Vec2, radius float64) {
	devR := radius * math.Sqrt(math.Abs(r.CTM[0]*r.CTM[3]-r.CTM[1]*r.CTM[2]))
	n := 16
	if tol := r.Flatness / 4; devR > tol {
		n = max(n, int(math.Ceil(math.Pi/math.Acos(1-tol/devR))))
	}
	n = min(n, 256)
	pts := make([]vec.Vec2, n)
	for i := range n {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = vec.Vec2{X: c.X + radius*math.Cos(a), Y: c.Y + radius*math.Sin(a)}
	}
	r.addPolygon(pts...)
}

// addPolygon adds a closed polygon, reoriented so that all pieces of an
// outline wind the same way in device space.
func (r *Rasterizer) addPolygon(pts ...vec.Vec2) {
	if len(pts) < 3 {
		return
	}
	dev := make([]vec.Vec2, len(pts))
	var area float64
	for i, q := range pts {
		dev[i] = r.device(q)
	}
	for i := range dev {
		j := (i + 1) % len(dev)
		area += dev[i].X*dev[j].Y - dev[j].X*dev[i].Y
	}
	if area < 0 {
		for i, j := 0, len(dev)-1; i < j; i, j = i+1, j-1 {
			dev[i], dev[j] = dev[j], dev[i]
		}
	}
	for i := range dev {
		r.addDeviceEdge(dev[i], dev[(i+1)%len(dev)])
	}
}

func unit(v vec.Vec2) vec.Vec2 {
	l := v.Length()
	if l == 0 {
		return vec.Vec2{X: 1}
	}
	return v.Mul(1 / l)
}
