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
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/rect"
	"seehuhn.de/go/pdf/graphics"
)

// StrokeStyle collects the line parameters for Canvas.Stroke.
// Lengths are in user-space units.
type StrokeStyle struct {
	Width      float64
	Cap        graphics.LineCapStyle
	Join       graphics.LineJoinStyle
	MiterLimit float64
	Dash       []float64
	DashPhase  float64
}

// Canvas is a premultiplied RGBA pixel buffer with a current
// transformation matrix.  Paints are composited with the source-over
// operator.
type Canvas struct {
	Img *image.RGBA

	// CTM maps user space to pixel coordinates.  The y axis points down.
	CTM matrix.Matrix

	clip rect.Rect
	r    *Rasterizer
}

// NewCanvas allocates a transparent canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	clip := rect.Rect{URx: float64(width), URy: float64(height)}
	return &Canvas{
		Img:  image.NewRGBA(image.Rect(0, 0, width, height)),
		CTM:  matrix.Identity,
		clip: clip,
		r:    NewRasterizer(clip),
	}
}

// Bounds returns the pixel rectangle of the canvas.
func (c *Canvas) Bounds() image.Rectangle {
	return c.Img.Bounds()
}

// SetClip restricts drawing to the given pixel rectangle.
// The rectangle is intersected with the canvas bounds.
func (c *Canvas) SetClip(r image.Rectangle) {
	r = r.Intersect(c.Img.Bounds())
	c.clip = rect.Rect{
		LLx: float64(r.Min.X), LLy: float64(r.Min.Y),
		URx: float64(r.Max.X), URy: float64(r.Max.Y),
	}
}

// ResetClip removes any clip set by SetClip.
func (c *Canvas) ResetClip() {
	b := c.Img.Bounds()
	c.clip = rect.Rect{URx: float64(b.Dx()), URy: float64(b.Dy())}
}

// Clear fills the whole canvas with col, replacing existing content.
func (c *Canvas) Clear(col color.Color) {
	draw.Draw(c.Img, c.Img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

// Fill paints the interior of p.
func (c *Canvas) Fill(p *path.Data, paint Paint, rule FillRule) {
	c.prepare()
	c.r.Fill(p, rule, c.compositor(paint))
}

// Stroke paints the outline of p.
func (c *Canvas) Stroke(p *path.Data, paint Paint, st StrokeStyle) {
	c.prepare()
	c.r.Width = st.Width
	c.r.Cap = st.Cap
	c.r.Join = st.Join
	if st.MiterLimit >= 1 {
		c.r.MiterLimit = st.MiterLimit
	}
	c.r.Dash = st.Dash
	c.r.DashPhase = st.DashPhase
	c.r.Stroke(p, c.compositor(paint))
}

// DrawImage composites img so that its pixel rectangle maps onto the
// user-space transform m followed by the CTM.  Opacity scales the source
// alpha.
func (c *Canvas) DrawImage(img image.Image, m matrix.Matrix, opacity float64) {
	t := Compose(m, c.CTM)
	s2d := f64.Aff3{t[0], t[2], t[4], t[1], t[3], t[5]}
	var opts *xdraw.Options
	if opacity < 1 {
		a := uint16(max(0, opacity) * 0xffff)
		opts = &xdraw.Options{SrcMask: image.NewUniform(color.Alpha16{A: a})}
	}
	dst := c.Img.SubImage(c.clipRect()).(*image.RGBA)
	xdraw.ApproxBiLinear.Transform(dst, s2d, img, img.Bounds(), xdraw.Over, opts)
}

// NRGBA converts the canvas to a non-premultiplied image.
func (c *Canvas) NRGBA() *image.NRGBA {
	b := c.Img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, c.Img, b.Min, draw.Src)
	return out
}

func (c *Canvas) clipRect() image.Rectangle {
	return image.Rect(int(c.clip.LLx), int(c.clip.LLy), int(c.clip.URx), int(c.clip.URy))
}

func (c *Canvas) prepare() {
	c.r.Reset(c.clip)
	c.r.CTM = c.CTM
}

// compositor returns an emit callback which blends paint through the
// coverage row onto the canvas.
func (c *Canvas) compositor(paint Paint) func(y, xMin int, coverage []float32) {
	if s, ok := paint.(Solid); ok {
		sr, sg, sb, sa := color.NRGBA(s).RGBA()
		return func(y, xMin int, coverage []float32) {
			row := c.Img.Pix[y*c.Img.Stride+4*xMin:]
			for i, cov := range coverage {
				over(row[4*i:4*i+4], sr, sg, sb, sa, cov)
			}
		}
	}
	return func(y, xMin int, coverage []float32) {
		row := c.Img.Pix[y*c.Img.Stride+4*xMin:]
		for i, cov := range coverage {
			sr, sg, sb, sa := paint.At(xMin+i, y).RGBA()
			over(row[4*i:4*i+4], sr, sg, sb, sa, cov)
		}
	}
}

// over blends a premultiplied 16-bit source, scaled by cov, onto the
// premultiplied 8-bit pixel px.
func over(px []uint8, sr, sg, sb, sa uint32, cov float32) {
	if cov <= 0 || sa == 0 {
		return
	}
	k := uint32(cov*0xffff + 0.5)
	sr = sr * k / 0xffff
	sg = sg * k / 0xffff
	sb = sb * k / 0xffff
	sa = sa * k / 0xffff
	inv := 0xffff - sa
	px[0] = uint8((uint32(px[0])*0x101*inv/0xffff + sr) >> 8)
	px[1] = uint8((uint32(px[1])*0x101*inv/0xffff + sg) >> 8)
	px[2] = uint8((uint32(px[2])*0x101*inv/0xffff + sb) >> 8)
	px[3] = uint8((uint32(px[3])*0x101*inv/0xffff + sa) >> 8)
}

// Compose returns the transformation which applies a first and then b.
func Compose(a, b matrix.Matrix) matrix.Matrix {
	return matrix.Matrix{
		a[0]*b[0] + a[1]*b[2],
		a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2],
		a[2]*b[1] + a[3]*b[3],
		a[4]*b[0] + a[5]*b[2] + b[4],
		a[4]*b[1] + a[5]*b[3] + b[5],
	}
}
