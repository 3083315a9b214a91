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

// Package raster turns vector paths into anti-aliased pixel coverage
// and composites coloured paints onto an RGBA canvas.
package raster

import (
	"cmp"
	"math"
	"slices"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/rect"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"
)

// edge is a non-horizontal line segment in device coordinates,
// stored with y0 < y1.
type edge struct {
	x0, y0 float64
	x1, y1 float64
	dxdy   float64
	dir    float32 // +1 if the original segment pointed down, -1 otherwise
}

// FillRule selects how winding numbers map to coverage.
type FillRule int

const (
	NonZero FillRule = iota
	EvenOdd
)

// Rasterizer converts paths to per-pixel coverage values in [0, 1].
// One instance can be reused for many paths; internal buffers are kept
// between calls.
//
// A Rasterizer is not safe for concurrent use.
type Rasterizer struct {
	// CTM maps user space to device space.
	CTM matrix.Matrix

	// Clip limits the output to this device-space rectangle.
	// Coordinates must be integers.
	Clip rect.Rect

	// Flatness is the maximal distance, in device pixels, between a
	// curve and its polygonal approximation.
	Flatness float64

	// Width is the stroke width in user-space units.
	Width float64

	Cap        graphics.LineCapStyle
	Join       graphics.LineJoinStyle
	MiterLimit float64

	// Dash lists alternating on/off lengths in user-space units.
	// Nil means a solid line.
	Dash      []float64
	DashPhase float64

	edges  []edge
	active []int
	cover  []float32
	area   []float32

	bbox      rect.Rect
	bboxEmpty bool

	lines [][]vec.Vec2 // flattened subpaths, user space
	open  []bool
}

// NewRasterizer returns a Rasterizer with the given clip rectangle and
// default settings for everything else.
func NewRasterizer(clip rect.Rect) *Rasterizer {
	r := &Rasterizer{}
	r.Reset(clip)
	return r
}

// Reset restores the default settings and sets a new clip rectangle.
// Buffer capacity is retained.
func (r *Rasterizer) Reset(clip rect.Rect) {
	r.CTM = matrix.Identity
	r.Clip = clip
	r.Flatness = defaultFlatness
	r.Width = 1
	r.Cap = graphics.LineCapButt
	r.Join = graphics.LineJoinMiter
	r.MiterLimit = defaultMiterLimit
	r.Dash = nil
	r.DashPhase = 0
}

// FillNonZero rasterizes p with the nonzero winding rule.
// The coverage slice passed to emit is only valid during the call.
func (r *Rasterizer) FillNonZero(p *path.Data, emit func(y, xMin int, coverage []float32)) {
	r.Fill(p, NonZero, emit)
}

// FillEvenOdd rasterizes p with the even-odd rule.
func (r *Rasterizer) FillEvenOdd(p *path.Data, emit func(y, xMin int, coverage []float32)) {
	r.Fill(p, EvenOdd, emit)
}

// Fill rasterizes p using the given fill rule.
func (r *Rasterizer) Fill(p *path.Data, rule FillRule, emit func(y, xMin int, coverage []float32)) {
	r.beginEdges()
	r.walk(p, func(a, b vec.Vec2) { r.addEdge(a, b) }, func(start, cur vec.Vec2) {
		if start != cur {
			r.addEdge(cur, start)
		}
	})
	r.scan(rule, emit)
}

// walk flattens p in user space.  Segments are reported to seg; at the
// end of every subpath (closed or not) end is called with the subpath
// start and the current point.
func (r *Rasterizer) walk(p *path.Data, seg func(a, b vec.Vec2), end func(start, cur vec.Vec2)) {
	var cur, start vec.Vec2
	inSubpath := false
	k := 0
	for _, cmd := range p.Cmds {
		switch cmd {
		case path.CmdMoveTo:
			if inSubpath {
				end(start, cur)
			}
			cur = p.Coords[k]
			start = cur
			inSubpath = true
			k++
		case path.CmdLineTo:
			seg(cur, p.Coords[k])
			cur = p.Coords[k]
			k++
		case path.CmdQuadTo:
			r.flattenQuad(cur, p.Coords[k], p.Coords[k+1], seg)
			cur = p.Coords[k+1]
			k += 2
		case path.CmdCubeTo:
			r.flattenCube(cur, p.Coords[k], p.Coords[k+1], p.Coords[k+2], seg)
			cur = p.Coords[k+2]
			k += 3
		case path.CmdClose:
			if inSubpath {
				end(start, cur)
			}
			cur = start
			inSubpath = false
		}
	}
	if inSubpath {
		end(start, cur)
	}
}

// linear applies the linear part of the CTM.
func (r *Rasterizer) linear(v vec.Vec2) vec.Vec2 {
	return vec.Vec2{
		X: r.CTM[0]*v.X + r.CTM[2]*v.Y,
		Y: r.CTM[1]*v.X + r.CTM[3]*v.Y,
	}
}

func (r *Rasterizer) device(v vec.Vec2) vec.Vec2 {
	return vec.Vec2{
		X: r.CTM[0]*v.X + r.CTM[2]*v.Y + r.CTM[4],
		Y: r.CTM[1]*v.X + r.CTM[3]*v.Y + r.CTM[5],
	}
}

func (r *Rasterizer) flattenQuad(p0, p1, p2 vec.Vec2, seg func(a, b vec.Vec2)) {
	dev := r.linear(p0.Sub(p1.Mul(2)).Add(p2).Mul(0.25)).Length()
	n := 1
	if dev > r.Flatness {
		n = int(math.Ceil(math.Sqrt(dev / r.Flatness)))
	}
	prev := p0
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		s := 1 - t
		q := p0.Mul(s * s).Add(p1.Mul(2 * s * t)).Add(p2.Mul(t * t))
		seg(prev, q)
		prev = q
	}
}

func (r *Rasterizer) flattenCube(p0, p1, p2, p3 vec.Vec2, seg func(a, b vec.Vec2)) {
	// Wang's formula
	m := max(r.linear(p0.Sub(p1.Mul(2)).Add(p2)).Length(),
		r.linear(p1.Sub(p2.Mul(2)).Add(p3)).Length())
	n := 1
	if m > 0 {
		if f := math.Sqrt(3 * m / (4 * r.Flatness)); f > 1 {
			n = int(math.Ceil(f))
		}
	}
	prev := p0
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		s := 1 - t
		q := p0.Mul(s * s * s).
			Add(p1.Mul(3 * s * s * t)).
			Add(p2.Mul(3 * s * t * t)).
			Add(p3.Mul(t * t * t))
		seg(prev, q)
		prev = q
	}
}

func (r *Rasterizer) beginEdges() {
	r.edges = r.edges[:0]
	r.bboxEmpty = true
}

// addEdge transforms a user-space segment to device space and records it.
func (r *Rasterizer) addEdge(a, b vec.Vec2) {
	r.addDeviceEdge(r.device(a), r.device(b))
}

func (r *Rasterizer) addDeviceEdge(a, b vec.Vec2) {
	if math.Abs(b.Y-a.Y) < horizontalEdgeThreshold {
		return
	}
	e := edge{x0: a.X, y0: a.Y, x1: b.X, y1: b.Y, dir: 1}
	if a.Y > b.Y {
		e = edge{x0: b.X, y0: b.Y, x1: a.X, y1: a.Y, dir: -1}
	}
	e.dxdy = (e.x1 - e.x0) / (e.y1 - e.y0)
	r.edges = append(r.edges, e)

	box := rect.Rect{LLx: min(a.X, b.X), LLy: e.y0, URx: max(a.X, b.X), URy: e.y1}
	if r.bboxEmpty {
		r.bbox = box
		r.bboxEmpty = false
	} else {
		r.bbox.LLx = min(r.bbox.LLx, box.LLx)
		r.bbox.LLy = min(r.bbox.LLy, box.LLy)
		r.bbox.URx = max(r.bbox.URx, box.URx)
		r.bbox.URy = max(r.bbox.URy, box.URy)
	}
}

// scan runs the active-edge scanline loop over the collected edges.
//
// For every scanline, each edge deposits its signed vertical extent into
// cover[] at the pixel where it crosses, and the part of that extent
// lying to the right of the crossing into area[].  A running sum of
// cover[] then yields the winding-weighted coverage of each pixel.
func (r *Rasterizer) scan(rule FillRule, emit func(y, xMin int, coverage []float32)) {
	if len(r.edges) == 0 {
		return
	}
	xMin := max(int(math.Floor(r.bbox.LLx)), int(r.Clip.LLx))
	xMax := min(int(math.Floor(r.bbox.URx))+1, int(r.Clip.URx))
	yMin := max(int(math.Floor(r.bbox.LLy)), int(r.Clip.LLy))
	yMax := min(int(math.Floor(r.bbox.URy))+1, int(r.Clip.URy))
	if xMin >= xMax || yMin >= yMax {
		return
	}
	width := xMax - xMin

	r.cover = slices.Grow(r.cover[:0], width+1)[:width+1]
	r.area = slices.Grow(r.area[:0], width+1)[:width+1]

	slices.SortFunc(r.edges, func(a, b edge) int { return cmp.Compare(a.y0, b.y0) })
	r.active = r.active[:0]
	next := 0

	for y := yMin; y < yMax; y++ {
		top, bot := float64(y), float64(y+1)
		for next < len(r.edges) && r.edges[next].y0 < bot {
			r.active = append(r.active, next)
			next++
		}
		clear(r.cover)
		clear(r.area)

		touched := false
		for i := 0; i < len(r.active); {
			e := &r.edges[r.active[i]]
			if e.y1 <= top {
				r.active[i] = r.active[len(r.active)-1]
				r.active = r.active[:len(r.active)-1]
				continue
			}
			if r.deposit(e, top, bot, xMin, xMax) {
				touched = true
			}
			i++
		}
		if !touched {
			continue
		}

		cov := r.cover[:width]
		integrate(cov, r.area[:width], rule)
		if run, off := trimZeros(cov); run != nil {
			emit(y, xMin+off, run)
		}
	}
}

// deposit adds the contribution of e within the scanline [top, bot).
// It walks the pixel columns crossed by the edge from left to right.
func (r *Rasterizer) deposit(e *edge, top, bot float64, xMin, xMax int) bool {
	ya := max(top, e.y0)
	yb := min(bot, e.y1)
	if yb <= ya {
		return false
	}
	xa := e.x0 + e.dxdy*(ya-e.y0)
	xb := e.x0 + e.dxdy*(yb-e.y0)
	if xa > xb {
		xa, xb = xb, xa
	}
	if xa >= float64(xMax) {
		return false
	}

	sign := e.dir
	dyTotal := yb - ya
	if xb < float64(xMin) {
		v := sign * float32(dyTotal)
		r.cover[0] += v
		r.area[0] += v
		return true
	}

	// Split at integer x.  Because the edge is straight, each column
	// receives a share of dy proportional to the share of dx it contains.
	x := xa
	for x < xb || (x == xb && xa == xb) {
		col := math.Floor(x)
		xr := min(col+1, xb)
		var dy float64
		if xb > xa {
			dy = dyTotal * (xr - x) / (xb - xa)
		} else {
			dy = dyTotal
		}
		r.addSpan(int(col), (x+xr)/2-col, sign*float32(dy), xMin, xMax)
		if xr == xb {
			break
		}
		x = xr
	}
	return true
}

func (r *Rasterizer) addSpan(col int, frac float64, v float32, xMin, xMax int) {
	switch {
	case col < xMin:
		r.cover[0] += v
		r.area[0] += v
	case col < xMax:
		i := col - xMin
		r.cover[i] += v
		r.area[i] += v * float32(1-frac)
	}
}

// integrate turns cover/area into final coverage, in place in cover.
func integrate(cover, area []float32, rule FillRule) {
	var acc float32
	for i := range cover {
		w := acc + area[i]
		acc += cover[i]
		if w < 0 {
			w = -w
		}
		if rule == EvenOdd {
			w -= 2 * float32(int(w/2))
			if w > 1 {
				w = 2 - w
			}
		} else if w > 1 {
			w = 1
		}
		cover[i] = w
	}
}

// trimZeros returns the non-zero part of coverage and its offset.
func trimZeros(coverage []float32) ([]float32, int) {
	lo, hi := 0, len(coverage)
	for lo < hi && coverage[lo] == 0 {
		lo++
	}
	for hi > lo && coverage[hi-1] == 0 {
		hi--
	}
	if lo == hi {
		return nil, 0
	}
	return coverage[lo:hi], lo
}

const (
	defaultFlatness   = 0.25
	defaultMiterLimit = 10.0

	horizontalEdgeThreshold = 1e-10
	zeroLengthThreshold     = 1e-10
)
