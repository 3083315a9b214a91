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
	"image"
	"image/color"
	"math"
	"testing"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/rect"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"
)

func pt(x, y float64) vec.Vec2 {
	return vec.Vec2{X: x, Y: y}
}

func box(x0, y0, x1, y1 float64) *path.Data {
	return addBox(&path.Data{}, x0, y0, x1, y1)
}

func addBox(p *path.Data, x0, y0, x1, y1 float64) *path.Data {
	return p.
		MoveTo(pt(x0, y0)).
		LineTo(pt(x1, y0)).
		LineTo(pt(x1, y1)).
		LineTo(pt(x0, y1)).
		Close()
}

// render collects coverage into a w×h grid.
func render(w, h int, draw func(r *Rasterizer, emit func(y, xMin int, coverage []float32))) []float32 {
	out := make([]float32, w*h)
	r := NewRasterizer(rect.Rect{URx: float64(w), URy: float64(h)})
	draw(r, func(y, xMin int, coverage []float32) {
		copy(out[y*w+xMin:], coverage)
	})
	return out
}

func sum(cov []float32) float64 {
	var s float64
	for _, c := range cov {
		s += float64(c)
	}
	return s
}

// TestTriangleCoverage checks exact coverage along a shallow diagonal.
// The triangle (0,0)→(10,0)→(10,1) covers (2x+1)/20 of pixel x.
func TestTriangleCoverage(t *testing.T) {
	tri := (&path.Data{}).
		MoveTo(pt(0, 0)).
		LineTo(pt(10, 0)).
		LineTo(pt(10, 1)).
		Close()
	cov := render(10, 1, func(r *Rasterizer, emit func(int, int, []float32)) {
		r.FillNonZero(tri, emit)
	})
	for x := range 10 {
		want := float32(2*x+1) / 20
		if math.Abs(float64(cov[x]-want)) > 1e-6 {
			t.Errorf("pixel %d: got %.4f, want %.4f", x, cov[x], want)
		}
	}
}

func TestFillArea(t *testing.T) {
	cases := []struct {
		name string
		p    *path.Data
		rule FillRule
		area float64
	}{
		{"aligned", box(2, 2, 8, 6), NonZero, 24},
		{"fractional", box(1.5, 1.25, 4.5, 3.75), NonZero, 7.5},
		{"clipped", box(-5, -5, 5, 5), NonZero, 25},
		{"ring_evenodd", addBox(box(0, 0, 10, 10), 2, 2, 8, 8), EvenOdd, 64},
		{"ring_nonzero_same_direction", addBox(box(0, 0, 10, 10), 2, 2, 8, 8), NonZero, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cov := render(10, 10, func(r *Rasterizer, emit func(int, int, []float32)) {
				r.Fill(tc.p, tc.rule, emit)
			})
			if got := sum(cov); math.Abs(got-tc.area) > 1e-3 {
				t.Errorf("covered area %.4f, want %.4f", got, tc.area)
			}
		})
	}
}

func TestFillCTM(t *testing.T) {
	cov := render(20, 20, func(r *Rasterizer, emit func(int, int, []float32)) {
		r.CTM = matrix.Matrix{2, 0, 0, 2, 1, 1}
		r.FillNonZero(box(0, 0, 4, 4), emit)
	})
	if got := sum(cov); math.Abs(got-64) > 1e-3 {
		t.Errorf("covered area %.4f, want 64", got)
	}
	if cov[0] != 0 || cov[1*20+1] != 1 {
		t.Errorf("unexpected coverage at origin: %v %v", cov[0], cov[21])
	}
}

func TestStrokeArea(t *testing.T) {
	line := (&path.Data{}).MoveTo(pt(5, 10)).LineTo(pt(25, 10))
	cases := []struct {
		name string
		cap  graphics.LineCapStyle
		dash []float64
		area float64
		tol  float64
	}{
		{"butt", graphics.LineCapButt, nil, 80, 1e-3},
		{"square", graphics.LineCapSquare, nil, 96, 1e-3},
		{"round", graphics.LineCapRound, nil, 80 + 4*math.Pi, 0.5},
		{"dashed", graphics.LineCapButt, []float64{5, 5}, 40, 1e-3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cov := render(30, 20, func(r *Rasterizer, emit func(int, int, []float32)) {
				r.Width = 4
				r.Cap = tc.cap
				r.Dash = tc.dash
				r.Stroke(line, emit)
			})
			if got := sum(cov); math.Abs(got-tc.area) > tc.tol {
				t.Errorf("covered area %.4f, want %.4f", got, tc.area)
			}
		})
	}
}

func TestStrokeJoins(t *testing.T) {
	corner := (&path.Data{}).
		MoveTo(pt(5, 20)).
		LineTo(pt(20, 20)).
		LineTo(pt(20, 5))
	// two 15×4 arms overlapping in a 2×2 square; the join fills the
	// outer 2×2 corner (miter), half of it (bevel) or a quarter disc
	base := 2*15.0*4 - 4
	cases := []struct {
		join graphics.LineJoinStyle
		want float64
		tol  float64
	}{
		{graphics.LineJoinMiter, base + 4, 1e-3},
		{graphics.LineJoinBevel, base + 2, 1e-3},
		{graphics.LineJoinRound, base + math.Pi, 0.2},
	}
	for _, tc := range cases {
		t.Run(tc.join.String(), func(t *testing.T) {
			cov := render(30, 30, func(r *Rasterizer, emit func(int, int, []float32)) {
				r.Width = 4
				r.Join = tc.join
				r.Stroke(corner, emit)
			})
			if got := sum(cov); math.Abs(got-tc.want) > tc.tol {
				t.Errorf("covered area %.4f, want %.4f", got, tc.want)
			}
		})
	}
}

func TestCanvasOpacity(t *testing.T) {
	c := NewCanvas(4, 4)
	c.Fill(box(0, 0, 4, 4), Solid{R: 255, A: 127}, NonZero)
	img := c.NRGBA()
	got := img.NRGBAAt(1, 1)
	if got != (color.NRGBA{R: 255, A: 127}) {
		t.Errorf("got %v, want half transparent red", got)
	}

	c.Fill(box(0, 0, 2, 4), Solid{B: 255, A: 255}, NonZero)
	img = c.NRGBA()
	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{B: 255, A: 255}) {
		t.Errorf("opaque paint: got %v", got)
	}
	if got := img.NRGBAAt(3, 0); got.R != 255 || got.A != 127 {
		t.Errorf("untouched pixel changed: %v", got)
	}
}

func TestCanvasClip(t *testing.T) {
	c := NewCanvas(10, 10)
	c.SetClip(image.Rect(0, 0, 5, 10))
	c.Fill(box(0, 0, 10, 10), Solid{G: 255, A: 255}, NonZero)
	img := c.NRGBA()
	if img.NRGBAAt(4, 4).A != 255 || img.NRGBAAt(6, 4).A != 0 {
		t.Error("clip not honoured")
	}
}

func TestLinearGradient(t *testing.T) {
	g := &LinearGradient{
		P0: pt(0, 0),
		P1: pt(10, 0),
		Stops: []Stop{
			{0, color.NRGBA{R: 255, A: 255}},
			{1, color.NRGBA{B: 255, A: 255}},
		},
	}
	if c := g.ColorAt(-1); c.R != 255 {
		t.Errorf("before start: %v", c)
	}
	if c := g.ColorAt(2); c.B != 255 || c.R != 0 {
		t.Errorf("after end: %v", c)
	}
	mid := g.ColorAt(0.5)
	if mid.R < 126 || mid.R > 129 || mid.B < 126 || mid.B > 129 {
		t.Errorf("mid: %v", mid)
	}
	if Representative(g) != mid {
		t.Error("representative colour differs from midpoint")
	}
}

func BenchmarkFillDisc(b *testing.B) {
	r := NewRasterizer(rect.Rect{URx: 512, URy: 512})
	emit := func(y, xMin int, coverage []float32) {}
	for b.Loop() {
		r.beginEdges()
		r.addCircle(pt(256, 256), 200)
		r.scan(NonZero, emit)
	}
}
