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
	"image"
	"image/color"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/pdf/document"
	pdfcolor "seehuhn.de/go/pdf/graphics/color"

	"seehuhn.de/go/maprender/raster"
)

// surface receives the drawing operations of a render pass.  All
// coordinates are output pixels with the y axis pointing down.
//
// *raster.Canvas is the surface for images.
type surface interface {
	Fill(p *path.Data, paint raster.Paint, rule raster.FillRule)
	Stroke(p *path.Data, paint raster.Paint, st raster.StrokeStyle)
	DrawImage(img image.Image, m matrix.Matrix, opacity float64)
}

// pdfSurface writes drawing operations to a PDF page.
//
// Paints are reduced to a single colour, and translucent colours are
// drawn opaque.  Images are written as runs of filled rectangles; pixels
// which are less than half opaque are left out.
type pdfSurface struct {
	page *document.Page
}

// newPDFSurface sets up the page so that one output pixel is 72/dpi
// points and the origin is at the top left.
func newPDFSurface(page *document.Page, height int, dpi float64) *pdfSurface {
	s := 72 / dpi
	page.Transform(matrix.Matrix{s, 0, 0, -s, 0, float64(height) * s})
	return &pdfSurface{page: page}
}

func (s *pdfSurface) Fill(p *path.Data, paint raster.Paint, rule raster.FillRule) {
	col := raster.Representative(paint)
	if col.A == 0 {
		return
	}
	s.page.SetFillColor(deviceRGB(col))
	s.path(p)
	if rule == raster.EvenOdd {
		s.page.FillEvenOdd()
	} else {
		s.page.Fill()
	}
}

func (s *pdfSurface) Stroke(p *path.Data, paint raster.Paint, st raster.StrokeStyle) {
	col := raster.Representative(paint)
	if col.A == 0 || st.Width <= 0 {
		return
	}
	s.page.SetStrokeColor(deviceRGB(col))
	s.page.SetLineWidth(st.Width)
	s.page.SetLineCap(st.Cap)
	s.page.SetLineJoin(st.Join)
	if st.MiterLimit >= 1 {
		s.page.SetMiterLimit(st.MiterLimit)
	}
	s.page.SetLineDash(st.Dash, st.DashPhase)
	s.path(p)
	s.page.Stroke()
}

func (s *pdfSurface) DrawImage(img image.Image, m matrix.Matrix, opacity float64) {
	b := img.Bounds()
	var current color.NRGBA
	for y := b.Min.Y; y < b.Max.Y; y++ {
		x := b.Min.X
		for x < b.Max.X {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			end := x + 1
			for end < b.Max.X && color.NRGBAModel.Convert(img.At(end, y)).(color.NRGBA) == c {
				end++
			}
			if float64(c.A)*opacity >= 127.5 {
				c.A = 255
				if c != current {
					s.page.SetFillColor(deviceRGB(c))
					current = c
				}
				x0, y0 := float64(x-b.Min.X), float64(y-b.Min.Y)
				x1, y1 := float64(end-b.Min.X), y0+1
				s.moveTo(m, x0, y0)
				s.lineTo(m, x1, y0)
				s.lineTo(m, x1, y1)
				s.lineTo(m, x0, y1)
				s.page.ClosePath()
				s.page.Fill()
			}
			x = end
		}
	}
}

func (s *pdfSurface) moveTo(m matrix.Matrix, x, y float64) {
	s.page.MoveTo(m[0]*x+m[2]*y+m[4], m[1]*x+m[3]*y+m[5])
}

func (s *pdfSurface) lineTo(m matrix.Matrix, x, y float64) {
	s.page.LineTo(m[0]*x+m[2]*y+m[4], m[1]*x+m[3]*y+m[5])
}

// path appends p to the current PDF path.  Quadratic segments are
// converted, since PDF only has cubic curves.
func (s *pdfSurface) path(p *path.Data) {
	for cmd, pts := range p.Iter().ToCubic() {
		switch cmd {
		case path.CmdMoveTo:
			s.page.MoveTo(pts[0].X, pts[0].Y)
		case path.CmdLineTo:
			s.page.LineTo(pts[0].X, pts[0].Y)
		case path.CmdCubeTo:
			s.page.CurveTo(pts[0].X, pts[0].Y, pts[1].X, pts[1].Y, pts[2].X, pts[2].Y)
		case path.CmdClose:
			s.page.ClosePath()
		}
	}
}

func deviceRGB(c color.NRGBA) pdfcolor.DeviceRGB {
	return pdfcolor.DeviceRGB{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
}
